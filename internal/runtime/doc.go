/*
Package runtime implements the callflow correlator: it turns fire-and-forget
events exchanged over namespaced connections into request/response calls.

# Architecture Overview

A Correlator owns three registries and one broadcast bus:

  - connection managers, keyed by name and created through a transport.Client
  - connections, each bound to one manager and one namespace
  - endpoints, either callable (answered by a local function) or bound to an
    event name on a connection

Send records a pending subscription for the endpoint's (connection, event)
pair and emits the request. When the connection later delivers that event the
dispatcher releases every pending subscription of the pair and publishes one
message on the broadcast bus carrying all of their correlation IDs. Await,
Request and ForEvery are listeners on that bus. Callable endpoints skip the
subscription table and publish their result directly.

# Package Structure

## Correlator (correlator.go, registry.go, lifecycle.go)

Construction, registration of managers, connections and endpoints, the
connect/disconnect lifecycle and the manager and connection hooks.

## Request path (send.go, await.go, composite.go)

Send, Prepare/Await, Request, ForEvery and SpawnEvery.

## Delivery (dispatcher.go, bus.go, subscriptions.go)

The per-connection FIFO dispatcher, the Watermill-backed broadcast bus and
the pending subscription table with its TTL janitor.

## Declarative setup (declarative.go)

ApplyConfig registers managers, connections and endpoints read from TOML.
Success and error filters are expr-lang expressions over event and args.

## Observability (metrics.go, stats.go, tracing.go, introspection.go, resources.go)

Prometheus collectors, per-endpoint stats, OpenTelemetry spans and the
read-only introspection API.

# Sub-packages

  - config/: Correlator configuration with validation and TOML loading
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for correlation IDs
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Broadcast message metadata

# Usage Example

	c, err := callflow.New(cfg, memory.NewClient(), logger, callflow.Dependencies{})
	if err != nil {
		return err
	}
	defer c.Close()

	_ = c.RegisterConnectionManager("main", callflow.ManagerParams{URL: "http://localhost", Port: 3000}, callflow.ManagerHooks{})
	_ = c.RegisterConnection("main", "socket", "/", nil, callflow.ConnectionHooks{})
	_ = c.RegisterConnectionEndpoint(callflow.ConnectionEndpoint{
		Name:          "ping",
		ConnectionKey: "socket",
		EventName:     "ping",
	})
	_ = c.Connect()

	payload, err := c.Request(ctx, "ping", "hello")
*/
package runtime
