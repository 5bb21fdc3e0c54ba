// Package transport defines the capability contract the correlator consumes
// (Client, Manager, Connection) and the registry of Watermill brokers that the
// pub/sub adapter builds its managers from. Concrete adapters live in
// sub-packages.
package transport

import (
	"context"
	"fmt"
)

// ManagerEventName names a lifecycle signal raised by a Manager.
type ManagerEventName string

const (
	ManagerError           ManagerEventName = "error"
	ManagerReconnect       ManagerEventName = "reconnect"
	ManagerReconnectError  ManagerEventName = "reconnect_error"
	ManagerReconnectFailed ManagerEventName = "reconnect_failed"
)

// ManagerEvents lists every signal a Manager may raise.
var ManagerEvents = []ManagerEventName{
	ManagerError,
	ManagerReconnect,
	ManagerReconnectError,
	ManagerReconnectFailed,
}

// Connection lifecycle event names delivered through Connection.On.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Options are passed through to the transport when a manager is created.
type Options map[string]any

// OptionAutoConnect is always forced to false by the correlator; connections
// are opened explicitly through Connection.Connect.
const OptionAutoConnect = "autoConnect"

// Clone returns a shallow copy, never nil.
func (o Options) Clone() Options {
	out := make(Options, len(o)+1)
	for k, v := range o {
		out[k] = v
	}
	return out
}

// String returns the option as a string, or "" when absent.
func (o Options) String(key string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool reports the option as a bool, falling back to def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

// Auth carries opaque credentials handed to Manager.Connection. The core
// never interprets them.
type Auth map[string]string

// Signal is the payload of a manager lifecycle event.
type Signal struct {
	Err     error
	Attempt int
}

// Client creates connection managers. It is the entry point of an adapter.
type Client interface {
	CreateManager(ctx context.Context, address string, opts Options) (Manager, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, address string, opts Options) (Manager, error)

func (f ClientFunc) CreateManager(ctx context.Context, address string, opts Options) (Manager, error) {
	return f(ctx, address, opts)
}

// Manager groups namespaced connections sharing one underlying link.
type Manager interface {
	On(event ManagerEventName, handler func(Signal))
	Connection(namespace string, auth Auth) (Connection, error)
	Close() error
}

// Connection is a namespaced event channel.
//
// On receives "connect" with no arguments and "disconnect" with the reason as
// its single argument. OnAny receives every inbound application event; the
// lifecycle events are not delivered to it.
type Connection interface {
	On(event string, handler func(args ...any))
	OnAny(handler func(event string, args ...any))
	Emit(ctx context.Context, event string, args ...any) error
	Connect() error
	Disconnect() error
}
