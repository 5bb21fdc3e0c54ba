package runtime

import (
	"errors"
	"fmt"

	errspkg "github.com/drblury/callflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
	"github.com/drblury/callflow/transport"
)

// RegisterConnectionManager creates a manager through the transport client
// and wires its lifecycle signals to hooks right away.
func (c *Correlator) RegisterConnectionManager(key string, params ManagerParams, hooks ManagerHooks) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errspkg.ErrCorrelatorClosed
	}
	if _, exists := c.managers[key]; exists {
		return fmt.Errorf("%w: %s", errspkg.ErrDuplicateManager, key)
	}

	mgr, err := c.client.CreateManager(c.ctx, params.Address(), params.transportOptions())
	if err != nil {
		return fmt.Errorf("create manager %s: %w", key, err)
	}
	c.wireManager(key, mgr, hooks)

	c.managers[key] = &managerEntry{key: key, params: params, manager: mgr}
	c.managerOrder = append(c.managerOrder, key)

	c.Logger.Info("Registered connection manager", loggingpkg.LogFields{
		"manager": key,
		"address": params.Address(),
	})
	return nil
}

// RegisterConnection opens a namespaced connection under managerKey and
// binds the dispatcher to its events. When Connect was already called the
// new connection is connected immediately. A failure of that immediate
// connect is returned, but the connection stays registered; a later Connect
// retries it.
func (c *Correlator) RegisterConnection(managerKey, key, namespace string, auth transport.Auth, hooks ConnectionHooks) error {
	entry, connectNow, err := c.addConnection(managerKey, key, namespace, auth, hooks)
	if err != nil {
		return err
	}

	c.Logger.Info("Registered connection", loggingpkg.LogFields{
		"manager":    managerKey,
		"connection": key,
		"namespace":  namespace,
	})

	if connectNow {
		if err := entry.conn.Connect(); err != nil {
			return fmt.Errorf("connect %s: %w", key, err)
		}
	}
	return nil
}

func (c *Correlator) addConnection(managerKey, key, namespace string, auth transport.Auth, hooks ConnectionHooks) (*connectionEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, false, errspkg.ErrCorrelatorClosed
	}
	mgr, ok := c.managers[managerKey]
	if !ok {
		return nil, false, &errspkg.UnknownManagerError{Key: managerKey}
	}
	if _, exists := c.connections[key]; exists {
		return nil, false, fmt.Errorf("%w: %s", errspkg.ErrDuplicateConnection, key)
	}

	conn, err := mgr.manager.Connection(namespace, cloneAuth(auth))
	if err != nil {
		return nil, false, fmt.Errorf("open connection %s: %w", key, err)
	}

	entry := &connectionEntry{
		key:        key,
		managerKey: managerKey,
		namespace:  namespace,
		conn:       conn,
		dispatcher: newDispatcher(c, key, c.Conf.DispatchQueueSize),
	}
	c.wireConnectionHooks(key, conn, hooks)
	conn.OnAny(entry.dispatcher.onEvent)
	entry.dispatcher.start()

	c.connections[key] = entry
	c.connOrder = append(c.connOrder, key)
	return entry, c.connected, nil
}

// RegisterCallableEndpoint registers fn under name.
func (c *Correlator) RegisterCallableEndpoint(name string, fn CallFunc) error {
	if fn == nil {
		return errspkg.ErrCallableRequired
	}
	return c.registerEndpoint(CallableEndpoint{Name: name, Fn: fn})
}

// RegisterConnectionEndpoint registers an endpoint bound to an already
// registered connection.
func (c *Correlator) RegisterConnectionEndpoint(ep ConnectionEndpoint) error {
	return c.registerEndpoint(ep)
}

func (c *Correlator) registerEndpoint(ep Endpoint) error {
	name := ep.EndpointName()
	if name == "" {
		return errspkg.ErrEndpointNameRequired
	}
	if conn, ok := ep.(ConnectionEndpoint); ok && conn.EventName == "" {
		return errspkg.ErrEventNameRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errspkg.ErrCorrelatorClosed
	}
	if conn, ok := ep.(ConnectionEndpoint); ok {
		if _, exists := c.connections[conn.ConnectionKey]; !exists {
			return &errspkg.UnknownConnectionError{Key: conn.ConnectionKey}
		}
	}
	if _, exists := c.endpoints[name]; exists {
		return &errspkg.DuplicateEndpointError{Name: name}
	}

	c.endpoints[name] = ep
	c.endpointOrder = append(c.endpointOrder, name)

	c.Logger.Info("Registered endpoint", loggingpkg.LogFields{
		"endpoint": name,
		"kind":     endpointKind(ep),
	})
	return nil
}

// Endpoints describes the registered endpoints in registration order.
func (c *Correlator) Endpoints() []EndpointInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]EndpointInfo, 0, len(c.endpointOrder))
	for _, name := range c.endpointOrder {
		out = append(out, describeEndpoint(c.endpoints[name]))
	}
	return out
}

// ConnectionInfo describes a registered connection for introspection.
type ConnectionInfo struct {
	Key       string `json:"key"`
	Manager   string `json:"manager"`
	Address   string `json:"address"`
	Namespace string `json:"namespace"`
	Queued    int    `json:"queued"`
}

// Connections describes the registered connections in registration order.
func (c *Correlator) Connections() []ConnectionInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ConnectionInfo, 0, len(c.connOrder))
	for _, entry := range c.orderedConnections() {
		out = append(out, ConnectionInfo{
			Key:       entry.key,
			Manager:   entry.managerKey,
			Address:   c.managers[entry.managerKey].params.Address(),
			Namespace: entry.namespace,
			Queued:    entry.dispatcher.queued(),
		})
	}
	return out
}

// Connect issues Connect on every registered connection and marks the
// correlator connected, so later registrations connect on their own.
func (c *Correlator) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errspkg.ErrCorrelatorClosed
	}
	c.connected = true
	connections := c.orderedConnections()
	c.mu.Unlock()

	var errs []error
	for _, entry := range connections {
		if err := entry.conn.Connect(); err != nil {
			errs = append(errs, fmt.Errorf("connect %s: %w", entry.key, err))
		}
	}
	c.Logger.Info("Connected", loggingpkg.LogFields{"connections": len(connections)})
	return errors.Join(errs...)
}

// Disconnect issues Disconnect on every registered connection.
func (c *Correlator) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	connections := c.orderedConnections()
	c.mu.Unlock()

	var errs []error
	for _, entry := range connections {
		if err := entry.conn.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", entry.key, err))
		}
	}
	return errors.Join(errs...)
}

// FlushConfig disconnects every connection, closes the managers and forgets
// all endpoints, connections, managers and pending subscriptions.
func (c *Correlator) FlushConfig() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errspkg.ErrCorrelatorClosed
	}
	managers := c.orderedManagers()
	connections := c.orderedConnections()
	endpoints := c.endpointOrder
	c.managers = make(map[string]*managerEntry)
	c.managerOrder = nil
	c.connections = make(map[string]*connectionEntry)
	c.connOrder = nil
	c.endpoints = make(map[string]Endpoint)
	c.endpointOrder = nil
	c.connected = false
	c.mu.Unlock()

	var errs []error
	for _, entry := range connections {
		if err := entry.conn.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", entry.key, err))
		}
		entry.dispatcher.stop()
	}
	for _, entry := range managers {
		if err := entry.manager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close manager %s: %w", entry.key, err))
		}
	}
	dropped := c.subs.clear()
	c.metrics.SetPending(0)
	c.metrics.Forget(endpoints...)

	c.Logger.Info("Flushed configuration", loggingpkg.LogFields{
		"managers":              len(managers),
		"connections":           len(connections),
		"endpoints":             len(endpoints),
		"dropped_subscriptions": dropped,
	})
	return errors.Join(errs...)
}

func cloneAuth(auth transport.Auth) transport.Auth {
	out := make(transport.Auth, len(auth))
	for k, v := range auth {
		out[k] = v
	}
	return out
}
