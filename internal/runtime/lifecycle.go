package runtime

import (
	"context"
	"fmt"
	"strconv"

	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
	"github.com/drblury/callflow/transport"
)

// ManagerParams locate a connection manager. The transport receives
// "URL:Port" (just URL when Port is zero) and a copy of Options with
// autoConnect forced to false.
type ManagerParams struct {
	URL     string
	Port    int
	Options map[string]any
}

// Address joins URL and Port.
func (p ManagerParams) Address() string {
	if p.Port == 0 {
		return p.URL
	}
	return p.URL + ":" + strconv.Itoa(p.Port)
}

func (p ManagerParams) transportOptions() transport.Options {
	opts := transport.Options(p.Options).Clone()
	opts[transport.OptionAutoConnect] = false
	return opts
}

// ManagerEvent is handed to ManagerHooks.
type ManagerEvent struct {
	ManagerKey string
	Manager    transport.Manager
	Err        error
	Attempt    int
}

// ManagerHooks react to the four lifecycle signals of a connection manager.
// Each firing runs as its own scheduled task; panics are not recovered.
type ManagerHooks struct {
	OnError           func(ctx context.Context, event ManagerEvent)
	OnReconnect       func(ctx context.Context, event ManagerEvent)
	OnReconnectError  func(ctx context.Context, event ManagerEvent)
	OnReconnectFailed func(ctx context.Context, event ManagerEvent)
}

func (h ManagerHooks) hookFor(name transport.ManagerEventName) func(context.Context, ManagerEvent) {
	switch name {
	case transport.ManagerError:
		return h.OnError
	case transport.ManagerReconnect:
		return h.OnReconnect
	case transport.ManagerReconnectError:
		return h.OnReconnectError
	case transport.ManagerReconnectFailed:
		return h.OnReconnectFailed
	default:
		return nil
	}
}

// ConnectionEvent is handed to ConnectionHooks. Reason is set on disconnect.
type ConnectionEvent struct {
	ConnectionKey string
	Connection    transport.Connection
	Reason        string
}

// ConnectionHooks react to a connection opening and closing.
type ConnectionHooks struct {
	OnConnect    func(ctx context.Context, event ConnectionEvent)
	OnDisconnect func(ctx context.Context, event ConnectionEvent)
}

func (c *Correlator) wireManager(key string, mgr transport.Manager, hooks ManagerHooks) {
	for _, name := range transport.ManagerEvents {
		hook := hooks.hookFor(name)
		mgr.On(name, func(sig transport.Signal) {
			var task func(context.Context)
			if hook != nil {
				event := ManagerEvent{ManagerKey: key, Manager: mgr, Err: sig.Err, Attempt: sig.Attempt}
				task = func(ctx context.Context) { hook(ctx, event) }
			}
			c.fireHook("manager", key, string(name), task)
		})
	}
}

func (c *Correlator) wireConnectionHooks(key string, conn transport.Connection, hooks ConnectionHooks) {
	conn.On(transport.EventConnect, func(...any) {
		var task func(context.Context)
		if hooks.OnConnect != nil {
			event := ConnectionEvent{ConnectionKey: key, Connection: conn}
			task = func(ctx context.Context) { hooks.OnConnect(ctx, event) }
		}
		c.fireHook("connection", key, transport.EventConnect, task)
	})
	conn.On(transport.EventDisconnect, func(args ...any) {
		var task func(context.Context)
		if hooks.OnDisconnect != nil {
			event := ConnectionEvent{ConnectionKey: key, Connection: conn, Reason: disconnectReason(args)}
			task = func(ctx context.Context) { hooks.OnDisconnect(ctx, event) }
		}
		c.fireHook("connection", key, transport.EventDisconnect, task)
	})
}

// fireHook schedules task so a slow hook never holds up the transport's
// next signal. A nil task is only logged.
func (c *Correlator) fireHook(scope, key, event string, task func(context.Context)) {
	fields := loggingpkg.LogFields{scope: key, "event": event}
	if task == nil {
		c.Logger.Trace("Lifecycle event without hook", fields)
		return
	}
	c.Logger.Trace("Scheduling lifecycle hook", fields)
	ctx := c.ctx
	c.scheduler.Go(func() { task(ctx) })
}

func disconnectReason(args []any) string {
	if len(args) == 0 || args[0] == nil {
		return ""
	}
	if s, ok := args[0].(string); ok {
		return s
	}
	return fmt.Sprint(args[0])
}
