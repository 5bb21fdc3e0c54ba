// Package mqtt adapts an Eclipse Paho client to the connection contract. A
// connection for namespace "/chat" publishes events to "chat/<event>" and
// subscribes to "chat/#".
//
// MQTT 3.1.1 has no per-message headers, so connection auth is ignored;
// credentials belong in the manager options. Paho reconnects forever, so the
// reconnect_failed signal is never raised.
package mqtt

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/drblury/callflow/internal/runtime/ids"
	"github.com/drblury/callflow/internal/runtime/jsoncodec"
	"github.com/drblury/callflow/transport"
)

// Manager options.
const (
	OptionClientID = "client_id"
	OptionUsername = "username"
	OptionPassword = "password"
	OptionQoS      = "qos"
)

const defaultConnectTimeout = 30 * time.Second

// DisconnectReason is passed to "disconnect" handlers on a local Disconnect.
const DisconnectReason = "client disconnect"

// PahoFactory can be replaced in tests.
var PahoFactory = func(opts *paho.ClientOptions) paho.Client {
	return paho.NewClient(opts)
}

type Client struct {
	ConnectTimeout time.Duration
}

func NewClient() *Client {
	return &Client{ConnectTimeout: defaultConnectTimeout}
}

// CreateManager connects to the broker at address (tcp://host:1883) and waits
// for the first CONNACK.
func (c *Client) CreateManager(ctx context.Context, address string, opts transport.Options) (transport.Manager, error) {
	m := &Manager{
		qos:      qosOption(opts),
		handlers: make(map[transport.ManagerEventName][]func(transport.Signal)),
		conns:    make(map[string]*Connection),
	}

	clientOpts := paho.NewClientOptions()
	clientOpts.AddBroker(address)
	clientID := opts.String(OptionClientID)
	if clientID == "" {
		clientID = "callflow-" + strings.ToLower(ids.New())
	}
	clientOpts.SetClientID(clientID)
	if user := opts.String(OptionUsername); user != "" {
		clientOpts.SetUsername(user)
		clientOpts.SetPassword(opts.String(OptionPassword))
	}
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetOnConnectHandler(m.handleConnect)
	clientOpts.SetConnectionLostHandler(m.handleConnectionLost)
	clientOpts.SetReconnectingHandler(m.handleReconnecting)

	m.client = PahoFactory(clientOpts)

	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := wait(waitCtx, m.client.Connect()); err != nil {
		return nil, fmt.Errorf("mqtt: connect %s: %w", address, err)
	}
	return m, nil
}

func qosOption(opts transport.Options) byte {
	switch v := opts[OptionQoS].(type) {
	case int:
		return byte(v)
	case int64:
		return byte(v)
	case float64:
		return byte(v)
	}
	return 1
}

// wait blocks until token completes or ctx ends.
func wait(ctx context.Context, token paho.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Manager struct {
	client paho.Client
	qos    byte

	mu        sync.Mutex
	handlers  map[transport.ManagerEventName][]func(transport.Signal)
	conns     map[string]*Connection
	connected bool
	attempts  int
	lastErr   error
	closed    bool
}

func (m *Manager) handleConnect(paho.Client) {
	m.mu.Lock()
	first := !m.connected
	m.connected = true
	attempts := m.attempts
	m.attempts = 0
	var resubscribe []*Connection
	for _, c := range m.conns {
		resubscribe = append(resubscribe, c)
	}
	m.mu.Unlock()

	if first {
		return
	}
	for _, c := range resubscribe {
		c.resubscribe()
	}
	m.fire(transport.ManagerReconnect, transport.Signal{Attempt: attempts})
}

func (m *Manager) handleConnectionLost(_ paho.Client, err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.fire(transport.ManagerError, transport.Signal{Err: err})
}

func (m *Manager) handleReconnecting(paho.Client, *paho.ClientOptions) {
	m.mu.Lock()
	m.attempts++
	sig := transport.Signal{Err: m.lastErr, Attempt: m.attempts}
	m.mu.Unlock()
	m.fire(transport.ManagerReconnectError, sig)
}

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

func (m *Manager) Connection(namespace string, _ transport.Auth) (transport.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("mqtt: manager is closed")
	}
	if conn, ok := m.conns[namespace]; ok {
		return conn, nil
	}
	conn := &Connection{
		manager:  m,
		prefix:   TopicPrefix(namespace),
		handlers: make(map[string][]func(...any)),
	}
	m.conns[namespace] = conn
	return conn, nil
}

// Close unsubscribes every connection and disconnects the client.
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
	m.client.Disconnect(250)
	return nil
}

// TopicPrefix maps "/chat/room" to "chat/room" and the root namespace to
// "root".
func TopicPrefix(namespace string) string {
	trimmed := strings.Trim(namespace, "/")
	if trimmed == "" {
		return "root"
	}
	return trimmed
}

type Connection struct {
	manager *Manager
	prefix  string

	mu         sync.Mutex
	handlers   map[string][]func(...any)
	any        []func(string, ...any)
	subscribed bool
}

func (c *Connection) filter() string { return c.prefix + "/#" }

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
		return fmt.Errorf("mqtt: encode %s args: %w", event, err)
	}
	token := c.manager.client.Publish(c.prefix+"/"+event, c.manager.qos, false, payload)
	return wait(ctx, token)
}

func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.subscribe(); err != nil {
		return err
	}

	c.mu.Lock()
	c.subscribed = true
	handlers := slices.Clone(c.handlers[transport.EventConnect])
	c.mu.Unlock()
	for _, h := range handlers {
		h()
	}
	return nil
}

func (c *Connection) subscribe() error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	if err := wait(ctx, c.manager.client.Subscribe(c.filter(), c.manager.qos, c.onMessage)); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", c.filter(), err)
	}
	return nil
}

func (c *Connection) resubscribe() {
	c.mu.Lock()
	subscribed := c.subscribed
	c.mu.Unlock()
	if !subscribed {
		return
	}
	if err := c.subscribe(); err != nil {
		c.manager.fire(transport.ManagerError, transport.Signal{Err: err})
	}
}

func (c *Connection) onMessage(_ paho.Client, msg paho.Message) {
	event := strings.TrimPrefix(msg.Topic(), c.prefix+"/")
	args, err := decodeArgs(msg.Payload())
	if err != nil {
		c.manager.fire(transport.ManagerError, transport.Signal{Err: fmt.Errorf("mqtt: decode %s: %w", msg.Topic(), err)})
		return
	}

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

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if !c.subscribed {
		c.mu.Unlock()
		return nil
	}
	c.subscribed = false
	handlers := slices.Clone(c.handlers[transport.EventDisconnect])
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()
	err := wait(ctx, c.manager.client.Unsubscribe(c.filter()))
	for _, h := range handlers {
		h(DisconnectReason)
	}
	return err
}

func decodeArgs(data []byte) ([]any, error) {
	raw, err := jsoncodec.UnmarshalArgs(data)
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
