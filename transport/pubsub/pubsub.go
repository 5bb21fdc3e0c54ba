// Package pubsub implements the connection contract over any Watermill broker
// in the broker registry. A manager owns one broker; each namespaced
// connection publishes emitted events to a topic and feeds the events it
// receives from a topic into its handlers.
//
// Event names travel in the callflow_event header, arguments as a JSON
// array payload, and auth entries as callflow_auth_<key> headers.
package pubsub

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/callflow/internal/runtime/ids"
	"github.com/drblury/callflow/internal/runtime/jsoncodec"
	"github.com/drblury/callflow/internal/runtime/metadata"
	"github.com/drblury/callflow/transport"
)

// Manager options understood by the adapter.
const (
	OptionPublishTopic   = "publish_topic"
	OptionSubscribeTopic = "subscribe_topic"
)

const authPrefix = "callflow_auth_"

// DisconnectReason is passed to "disconnect" handlers on a local Disconnect.
const DisconnectReason = "client disconnect"

// Client builds one broker per manager from cfg.
type Client struct {
	cfg      transport.BrokerConfig
	registry *transport.Registry
	logger   watermill.LoggerAdapter
}

type ClientOption func(*Client)

// WithRegistry selects the registry brokers are built from. Defaults to
// transport.DefaultRegistry.
func WithRegistry(r *transport.Registry) ClientOption {
	return func(c *Client) { c.registry = r }
}

func WithLogger(logger watermill.LoggerAdapter) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func NewClient(cfg transport.BrokerConfig, opts ...ClientOption) *Client {
	c := &Client{cfg: cfg, registry: transport.DefaultRegistry, logger: watermill.NopLogger{}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateManager builds a broker. The address is only used for logging since
// the broker location comes from the broker config.
func (c *Client) CreateManager(ctx context.Context, address string, opts transport.Options) (transport.Manager, error) {
	if c.cfg == nil {
		return nil, fmt.Errorf("pubsub: broker config is required")
	}
	broker, err := c.registry.Build(ctx, c.cfg, c.logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: build broker: %w", err)
	}

	system := c.cfg.GetPubSubSystem()
	if system == "" {
		system = "channel"
	}
	logger := c.logger.With(watermill.LogFields{"manager": address, "broker": system})
	logger.Info("Pub/sub manager created", nil)

	return &Manager{
		broker:   broker,
		caps:     c.registry.Capabilities(system),
		opts:     opts.Clone(),
		logger:   logger,
		handlers: make(map[transport.ManagerEventName][]func(transport.Signal)),
		conns:    make(map[string]*Connection),
	}, nil
}

type Manager struct {
	broker transport.Broker
	caps   transport.Capabilities
	opts   transport.Options
	logger watermill.LoggerAdapter

	mu       sync.Mutex
	handlers map[transport.ManagerEventName][]func(transport.Signal)
	conns    map[string]*Connection
	closed   bool
}

// Capabilities of the broker behind this manager.
func (m *Manager) Capabilities() transport.Capabilities { return m.caps }

func (m *Manager) On(event transport.ManagerEventName, handler func(transport.Signal)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

func (m *Manager) fire(event transport.ManagerEventName, sig transport.Signal) {
	m.mu.Lock()
	handlers := slices.Clone(m.handlers[event])
	m.mu.Unlock()
	for _, h := range handlers {
		h(sig)
	}
}

func (m *Manager) Connection(namespace string, auth transport.Auth) (transport.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("pubsub: manager is closed")
	}
	if conn, ok := m.conns[namespace]; ok {
		return conn, nil
	}

	topic := TopicFor(namespace)
	conn := &Connection{
		manager:        m,
		namespace:      namespace,
		auth:           auth,
		publishTopic:   firstNonEmpty(m.opts.String(OptionPublishTopic), topic),
		subscribeTopic: firstNonEmpty(m.opts.String(OptionSubscribeTopic), topic),
		handlers:       make(map[string][]func(...any)),
	}
	m.conns[namespace] = conn
	return conn, nil
}

// Close disconnects every connection and closes the broker.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Disconnect()
	}
	return m.broker.Close()
}

// TopicFor maps a namespace such as "/chat/room" to the topic "chat.room".
// The root namespace maps to "root".
func TopicFor(namespace string) string {
	trimmed := strings.Trim(namespace, "/")
	if trimmed == "" {
		return "root"
	}
	return strings.ReplaceAll(trimmed, "/", ".")
}

type Connection struct {
	manager        *Manager
	namespace      string
	auth           transport.Auth
	publishTopic   string
	subscribeTopic string

	mu       sync.Mutex
	handlers map[string][]func(...any)
	any      []func(string, ...any)
	cancel   context.CancelFunc
	done     chan struct{}
}

func (c *Connection) PublishTopic() string   { return c.publishTopic }
func (c *Connection) SubscribeTopic() string { return c.subscribeTopic }

func (c *Connection) On(event string, handler func(args ...any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *Connection) OnAny(handler func(event string, args ...any)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.any = append(c.any, handler)
}

func (c *Connection) Emit(ctx context.Context, event string, args ...any) error {
	payload, err := jsoncodec.MarshalArgs(args)
	if err != nil {
		return fmt.Errorf("pubsub: encode %s args: %w", event, err)
	}
	if !c.manager.caps.Fits(len(payload)) {
		return fmt.Errorf("pubsub: %s event is %d bytes, broker %s accepts at most %d",
			event, len(payload), c.manager.caps.Name, c.manager.caps.MaxMessageSize)
	}

	msg := message.NewMessage(ids.New(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(metadata.EventKey, event)
	for k, v := range c.auth {
		msg.Metadata.Set(authPrefix+k, v)
	}
	return c.manager.broker.Publisher.Publish(c.publishTopic, msg)
}

// Connect subscribes to the connection topic and fires "connect". It is a
// no-op when already connected.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	messages, err := c.manager.broker.Subscriber.Subscribe(ctx, c.subscribeTopic)
	if err != nil {
		c.mu.Unlock()
		cancel()
		c.manager.fire(transport.ManagerError, transport.Signal{Err: err})
		return fmt.Errorf("pubsub: subscribe %s: %w", c.subscribeTopic, err)
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	connectHandlers := slices.Clone(c.handlers[transport.EventConnect])
	c.mu.Unlock()

	go c.consume(ctx, messages, done)

	c.manager.logger.Debug("Connection subscribed", watermill.LogFields{
		"namespace": c.namespace,
		"topic":     c.subscribeTopic,
	})
	for _, h := range connectHandlers {
		h()
	}
	return nil
}

func (c *Connection) consume(ctx context.Context, messages <-chan *message.Message, done chan struct{}) {
	defer close(done)
	for {
		var msg *message.Message
		select {
		case <-ctx.Done():
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			msg = m
		}

		// ack first so a handler emitting on the same broker cannot stall it
		msg.Ack()

		event := msg.Metadata.Get(metadata.EventKey)
		if event == "" {
			c.manager.logger.Debug("Dropping message without event header", watermill.LogFields{"uuid": msg.UUID})
			continue
		}
		args, err := decodeArgs(msg.Payload)
		if err != nil {
			c.manager.fire(transport.ManagerError, transport.Signal{Err: fmt.Errorf("pubsub: decode %s: %w", event, err)})
			continue
		}
		c.deliver(event, args)
	}
}

func (c *Connection) deliver(event string, args []any) {
	c.mu.Lock()
	anyHandlers := slices.Clone(c.any)
	named := slices.Clone(c.handlers[event])
	c.mu.Unlock()

	for _, h := range anyHandlers {
		h(event, args...)
	}
	for _, h := range named {
		h(args...)
	}
}

// Disconnect cancels the subscription, waits for the consumer to stop and
// fires "disconnect". It must not be called from a handler of this
// connection.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.cancel == nil {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	handlers := slices.Clone(c.handlers[transport.EventDisconnect])
	c.mu.Unlock()

	cancel()
	<-done
	for _, h := range handlers {
		h(DisconnectReason)
	}
	return nil
}

func decodeArgs(payload []byte) ([]any, error) {
	raw, err := jsoncodec.UnmarshalArgs(payload)
	if err != nil {
		return nil, err
	}
	args := make([]any, len(raw))
	for i, r := range raw {
		if err := jsoncodec.Unmarshal(r, &args[i]); err != nil {
			return nil, err
		}
	}
	return args, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
