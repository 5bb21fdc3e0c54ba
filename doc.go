// Package callflow correlates requests and replies over event-based
// connections. Register connection managers, namespaced connections and
// endpoints on a Correlator, then Send a request and Await the reply, or do
// both at once with Request. Endpoints are either callable, answered by a
// local function, or bound to an event on a connection; replies to a
// connection endpoint are matched by the (connection, event) pair and fanned
// out to every waiter through an in-process Watermill broadcast channel.
//
// # Transports
//
// The correlator only depends on the transport.Client contract. The module
// ships these implementations:
//   - memory: in-process loopback, used by the tests and the examples
//   - pubsub: any Watermill broker (channel, kafka, rabbitmq, nats, http, aws)
//     picked from Config.PubSubSystem, one topic per namespace
//   - natsconn: core NATS subjects, one prefix per namespace
//   - mqtt: MQTT topics through the Eclipse Paho client
//
// # Declarative setup
//
// LoadConfig reads a TOML file that may declare managers, connections and
// endpoints. ApplyConfig registers them; success and error filters are
// expr-lang expressions over event and args.
//
// # Hooks
//
// ManagerHooks and ConnectionHooks observe transport lifecycle signals.
// CallHooks wrap callable endpoint invocations with OnCallStart, OnCallDone
// and OnCallError for logging, metrics or alerting.
//
// # Observability
//
// Prometheus collectors are served on Config.MetricsPort when
// MetricsEnabled is set. The read-only introspection API lists endpoints,
// connections, pending subscriptions and per-endpoint stats.
package callflow
