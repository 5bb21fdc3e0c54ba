// Package memory is a synchronous in-process transport. Every emitted event
// is echoed back to the emitting connection, first to its any-event handlers
// and then to the handlers registered for that event name, before Emit
// returns. It backs the end-to-end tests and the loopback examples.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/drblury/callflow/transport"
)

// OptionEcho disables the loopback when set to false in the manager options.
const OptionEcho = "echo"

// DisconnectReason is the argument passed to "disconnect" handlers when the
// connection is closed locally.
const DisconnectReason = "io client disconnect"

var ErrManagerClosed = errors.New("memory: manager is closed")

// Emission records one Emit call.
type Emission struct {
	Event string
	Args  []any
}

// Client creates in-memory managers and remembers them so tests can reach
// the handles the correlator is holding.
type Client struct {
	mu       sync.Mutex
	managers map[string]*Manager
	order    []string
}

func NewClient() *Client {
	return &Client{managers: make(map[string]*Manager)}
}

func (c *Client) CreateManager(_ context.Context, address string, opts transport.Options) (transport.Manager, error) {
	m := &Manager{
		address:  address,
		opts:     opts.Clone(),
		handlers: make(map[transport.ManagerEventName][]func(transport.Signal)),
	}
	c.mu.Lock()
	if _, ok := c.managers[address]; !ok {
		c.order = append(c.order, address)
	}
	c.managers[address] = m
	c.mu.Unlock()
	return m, nil
}

// Manager returns the last manager created for address.
func (c *Client) Manager(address string) *Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.managers[address]
}

// Managers returns every manager in creation order.
func (c *Client) Managers() []*Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Manager, 0, len(c.order))
	for _, addr := range c.order {
		out = append(out, c.managers[addr])
	}
	return out
}

type Manager struct {
	address string
	opts    transport.Options

	mu       sync.Mutex
	handlers map[transport.ManagerEventName][]func(transport.Signal)
	conns    map[string]*Connection
	closed   bool
}

func (m *Manager) Address() string            { return m.address }
func (m *Manager) Options() transport.Options { return m.opts.Clone() }

func (m *Manager) On(event transport.ManagerEventName, handler func(transport.Signal)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], handler)
}

// Fire raises a lifecycle signal as if the underlying link reported it.
func (m *Manager) Fire(event transport.ManagerEventName, sig transport.Signal) {
	m.mu.Lock()
	handlers := slices.Clone(m.handlers[event])
	m.mu.Unlock()
	for _, h := range handlers {
		h(sig)
	}
}

// Connection returns the connection for namespace, creating it on first use.
func (m *Manager) Connection(namespace string, auth transport.Auth) (transport.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if m.conns == nil {
		m.conns = make(map[string]*Connection)
	}
	if conn, ok := m.conns[namespace]; ok {
		return conn, nil
	}
	conn := &Connection{
		namespace: namespace,
		auth:      auth,
		echo:      m.opts.Bool(OptionEcho, true),
		handlers:  make(map[string][]func(...any)),
	}
	m.conns[namespace] = conn
	return conn, nil
}

// Namespace returns the connection created for namespace, or nil.
func (m *Manager) Namespace(namespace string) *Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[namespace]
}

// Close disconnects every connection of the manager.
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

	var errs []error
	for _, c := range conns {
		errs = append(errs, c.Disconnect())
	}
	return errors.Join(errs...)
}

type Connection struct {
	namespace string
	auth      transport.Auth
	echo      bool

	mu        sync.Mutex
	handlers  map[string][]func(...any)
	any       []func(string, ...any)
	connected bool
	emitted   []Emission

	// EmitErr, when set, makes Emit fail without delivering anything.
	EmitErr error
	// ConnectErr, when set, makes Connect fail and leaves the connection down.
	ConnectErr error
}

func (c *Connection) Namespace() string    { return c.namespace }
func (c *Connection) Auth() transport.Auth { return c.auth }

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
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	if c.EmitErr != nil {
		err := c.EmitErr
		c.mu.Unlock()
		return err
	}
	c.emitted = append(c.emitted, Emission{Event: event, Args: append([]any(nil), args...)})
	echo := c.echo
	c.mu.Unlock()

	if echo {
		c.Inject(event, args...)
	}
	return nil
}

// Inject delivers an inbound event to the any-event handlers and then to the
// handlers of that event name, synchronously.
func (c *Connection) Inject(event string, args ...any) {
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

func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.ConnectErr != nil {
		err := c.ConnectErr
		c.mu.Unlock()
		return err
	}
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = true
	handlers := slices.Clone(c.handlers[transport.EventConnect])
	c.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	return nil
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}
	c.connected = false
	handlers := slices.Clone(c.handlers[transport.EventDisconnect])
	c.mu.Unlock()

	for _, h := range handlers {
		h(DisconnectReason)
	}
	return nil
}

func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Emitted returns a copy of every successful Emit call.
func (c *Connection) Emitted() []Emission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Emission(nil), c.emitted...)
}

// SetEmitErr makes subsequent Emit calls fail with err; nil restores them.
func (c *Connection) SetEmitErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EmitErr = err
}

// SetConnectErr makes subsequent Connect calls fail with err; nil restores them.
func (c *Connection) SetConnectErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ConnectErr = err
}
