// Package natsconn adapts a native NATS connection to the connection
// contract. One manager is one *nats.Conn; its reconnect callbacks become the
// manager lifecycle signals. A connection for namespace "/chat" emits events
// on "chat.<event>" and receives everything under "chat.>".
package natsconn

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/drblury/callflow/internal/runtime/jsoncodec"
	"github.com/drblury/callflow/transport"
)

// Manager options.
const (
	OptionName          = "name"
	OptionToken         = "token"
	OptionUser          = "user"
	OptionPassword      = "password"
	OptionMaxReconnects = "max_reconnects"
	OptionReconnectWait = "reconnect_wait"
)

const (
	defaultName          = "callflow"
	defaultMaxReconnects = 60
	authHeaderPrefix     = "Callflow-Auth-"
)

// DisconnectReason is passed to "disconnect" handlers on a local Disconnect.
const DisconnectReason = "client disconnect"

// Conn is the part of *nats.Conn the adapter uses.
type Conn interface {
	PublishMsg(msg *nats.Msg) error
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

// Dial can be replaced in tests.
var Dial = func(url string, opts ...nats.Option) (Conn, error) {
	return nats.Connect(url, opts...)
}

type Client struct{}

func NewClient() *Client { return &Client{} }

// CreateManager dials address (a NATS URL). Option values may be strings or
// numbers as decoded from TOML.
func (c *Client) CreateManager(_ context.Context, address string, opts transport.Options) (transport.Manager, error) {
	m := &Manager{
		handlers: make(map[transport.ManagerEventName][]func(transport.Signal)),
		conns:    make(map[string]*Connection),
	}
	conn, err := Dial(address, m.natsOptions(opts)...)
	if err != nil {
		return nil, fmt.Errorf("natsconn: connect %s: %w", address, err)
	}
	m.conn = conn
	return m, nil
}

type Manager struct {
	conn       Conn
	reconnects atomic.Int64
	closing    atomic.Bool

	mu       sync.Mutex
	handlers map[transport.ManagerEventName][]func(transport.Signal)
	conns    map[string]*Connection
}

func (m *Manager) natsOptions(opts transport.Options) []nats.Option {
	name := opts.String(OptionName)
	if name == "" {
		name = defaultName
	}
	maxReconnects := defaultMaxReconnects
	if n, ok := intOption(opts, OptionMaxReconnects); ok {
		maxReconnects = n
	}

	out := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(maxReconnects),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			m.fire(transport.ManagerError, transport.Signal{Err: err})
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			m.fire(transport.ManagerReconnect, transport.Signal{Attempt: int(m.reconnects.Add(1))})
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				return
			}
			m.fire(transport.ManagerReconnectError, transport.Signal{Err: err, Attempt: int(m.reconnects.Load()) + 1})
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			if m.closing.Load() {
				return
			}
			m.fire(transport.ManagerReconnectFailed, transport.Signal{Attempt: int(m.reconnects.Load())})
		}),
	}
	if wait := opts.String(OptionReconnectWait); wait != "" {
		if d, err := time.ParseDuration(wait); err == nil {
			out = append(out, nats.ReconnectWait(d))
		}
	}
	if token := opts.String(OptionToken); token != "" {
		out = append(out, nats.Token(token))
	}
	if user := opts.String(OptionUser); user != "" {
		out = append(out, nats.UserInfo(user, opts.String(OptionPassword)))
	}
	return out
}

func intOption(opts transport.Options, key string) (int, bool) {
	switch v := opts[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
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

func (m *Manager) Connection(namespace string, auth transport.Auth) (transport.Connection, error) {
	if m.closing.Load() {
		return nil, fmt.Errorf("natsconn: manager is closed")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[namespace]; ok {
		return conn, nil
	}
	conn := &Connection{
		manager:  m,
		nc:       m.conn,
		prefix:   SubjectPrefix(namespace),
		auth:     auth,
		handlers: make(map[string][]func(...any)),
	}
	m.conns[namespace] = conn
	return conn, nil
}

// Close unsubscribes every connection and closes the NATS connection. The
// resulting close callback is not reported as reconnect_failed.
func (m *Manager) Close() error {
	if !m.closing.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.Disconnect()
	}
	m.conn.Close()
	return nil
}

// SubjectPrefix maps "/chat/room" to "chat.room" and the root namespace to
// "root".
func SubjectPrefix(namespace string) string {
	trimmed := strings.Trim(namespace, "/")
	if trimmed == "" {
		return "root"
	}
	return strings.ReplaceAll(trimmed, "/", ".")
}

type Connection struct {
	manager *Manager
	nc      Conn
	prefix  string
	auth    transport.Auth

	mu       sync.Mutex
	handlers map[string][]func(...any)
	any      []func(string, ...any)
	sub      *nats.Subscription
}

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
	payload, err := jsoncodec.MarshalArgs(args)
	if err != nil {
		return fmt.Errorf("natsconn: encode %s args: %w", event, err)
	}
	msg := nats.NewMsg(c.prefix + "." + event)
	msg.Data = payload
	for k, v := range c.auth {
		msg.Header.Set(authHeaderPrefix+k, v)
	}
	return c.nc.PublishMsg(msg)
}

func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.sub != nil {
		c.mu.Unlock()
		return nil
	}
	sub, err := c.nc.Subscribe(c.prefix+".>", c.onMessage)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("natsconn: subscribe %s.>: %w", c.prefix, err)
	}
	c.sub = sub
	handlers := slices.Clone(c.handlers[transport.EventConnect])
	c.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	return nil
}

func (c *Connection) onMessage(msg *nats.Msg) {
	event := strings.TrimPrefix(msg.Subject, c.prefix+".")
	args, err := decodeArgs(msg.Data)
	if err != nil {
		c.manager.fire(transport.ManagerError, transport.Signal{Err: fmt.Errorf("natsconn: decode %s: %w", msg.Subject, err)})
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
	if c.sub == nil {
		c.mu.Unlock()
		return nil
	}
	sub := c.sub
	c.sub = nil
	handlers := slices.Clone(c.handlers[transport.EventDisconnect])
	c.mu.Unlock()

	err := sub.Unsubscribe()
	if err == nats.ErrConnectionClosed {
		err = nil
	}
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
