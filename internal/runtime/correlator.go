package runtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/callflow/internal/runtime/config"
	errspkg "github.com/drblury/callflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/callflow/internal/runtime/logging"
	"github.com/drblury/callflow/transport"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Dependencies holds the optional collaborators of a Correlator. Leave
// fields nil to get the defaults.
type Dependencies struct {
	// Scheduler runs callables, lifecycle hooks and ForEvery handlers.
	// Defaults to a GoroutineScheduler.
	Scheduler Scheduler
	// CallHooks observe callable endpoint invocations.
	CallHooks CallHooks
	// Registerer receives the Prometheus collectors when metrics are
	// enabled. Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
}

// Correlator matches requests sent to endpoints with the responses that
// come back, over callables and transport connections alike.
type Correlator struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	client    transport.Client
	scheduler Scheduler
	callHooks CallHooks
	metrics   *Metrics
	bus       *bus
	subs      *subscriptionTable
	resources *resourceTracker

	mu            sync.RWMutex
	managers      map[string]*managerEntry
	managerOrder  []string
	connections   map[string]*connectionEntry
	connOrder     []string
	endpoints     map[string]Endpoint
	endpointOrder []string
	connected     bool
	closed        bool

	httpMu      sync.Mutex
	httpRouters map[int]*http.ServeMux
	httpServers []*http.Server
	httpState   httpState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type managerEntry struct {
	key     string
	params  ManagerParams
	manager transport.Manager
}

type connectionEntry struct {
	key        string
	managerKey string
	namespace  string
	conn       transport.Connection
	dispatcher *dispatcher
}

// New builds a Correlator over client. The returned Correlator owns the
// managers it creates; release everything with Close.
func New(conf *configpkg.Config, client transport.Client, log loggingpkg.ServiceLogger, deps Dependencies) (*Correlator, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if client == nil {
		return nil, errspkg.ErrClientRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	withDefaults := conf.WithDefaults()
	if err := withDefaults.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	log.Info("Creating correlator", loggingpkg.LogFields{
		"broadcast_topic":  withDefaults.BroadcastTopic,
		"subscription_ttl": withDefaults.SubscriptionTTL.String(),
		"config":           withDefaults,
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &Correlator{
		Conf:        &withDefaults,
		Logger:      log,
		client:      client,
		scheduler:   deps.Scheduler,
		callHooks:   deps.CallHooks,
		metrics:     NewMetrics(withDefaults.MetricsNamespace, deps.Registerer),
		bus:         newBus(withDefaults.BroadcastTopic, withDefaults.BroadcastBuffer, log),
		subs:        newSubscriptionTable(),
		resources:   newResourceTracker(),
		managers:    make(map[string]*managerEntry),
		connections: make(map[string]*connectionEntry),
		endpoints:   make(map[string]Endpoint),
		ctx:         ctx,
		cancel:      cancel,
	}
	if c.scheduler == nil {
		c.scheduler = NewGoroutineScheduler()
	}

	if withDefaults.MetricsEnabled {
		if err := c.enableMetrics(); err != nil {
			cancel()
			_ = c.bus.Close()
			return nil, err
		}
	}
	if withDefaults.IntrospectionEnabled {
		c.RegisterHTTPHandler(withDefaults.IntrospectionPort, "/api/", c.IntrospectionHandler())
	}
	c.startJanitor()
	c.startHTTPServers()

	return c, nil
}

// Metrics exposes the collectors and per-endpoint stats.
func (c *Correlator) Metrics() *Metrics {
	return c.metrics
}

func (c *Correlator) lookupEndpoint(name string) (Endpoint, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, errspkg.ErrCorrelatorClosed
	}
	ep, ok := c.endpoints[name]
	if !ok {
		return nil, &errspkg.UnknownEndpointError{Name: name}
	}
	return ep, nil
}

// Cancel drops every pending subscription recorded for correlationID and
// reports how many were removed.
func (c *Correlator) Cancel(correlationID string) int {
	removed := c.subs.cancel(correlationID)
	if removed > 0 {
		c.Logger.Debug("Cancelled pending subscriptions", loggingpkg.LogFields{
			"correlation_id": correlationID,
			"removed":        removed,
		})
		c.metrics.SetPending(c.subs.len())
	}
	return removed
}

// PendingSubscriptions returns the number of requests still waiting for
// their triggering event.
func (c *Correlator) PendingSubscriptions() int {
	return c.subs.len()
}

// Subscriptions returns the pending subscriptions in creation order.
func (c *Correlator) Subscriptions() []Subscription {
	return c.subs.snapshot()
}

func (c *Correlator) startJanitor() {
	ttl := c.Conf.SubscriptionTTL
	if ttl <= 0 {
		return
	}
	interval := c.Conf.SweepInterval
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case now := <-ticker.C:
				c.sweep(now.Add(-ttl))
			}
		}
	}()
}

func (c *Correlator) sweep(cutoff time.Time) int {
	removed := c.subs.sweep(cutoff)
	if removed > 0 {
		c.Logger.Debug("Expired pending subscriptions", loggingpkg.LogFields{"removed": removed})
		c.metrics.RecordExpired(removed)
		c.metrics.SetPending(c.subs.len())
	}
	return removed
}

// Close stops ForEvery loops, dispatch workers, the janitor, HTTP servers
// and the broadcast channel, closes the managers and then waits for
// scheduled tasks. Closing twice is a no-op.
func (c *Correlator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	managers := c.orderedManagers()
	connections := c.orderedConnections()
	c.mu.Unlock()

	c.Logger.Info("Closing correlator", loggingpkg.LogFields{
		"managers":    len(managers),
		"connections": len(connections),
		"pending":     c.subs.len(),
	})

	c.cancel()
	var errs []error
	for _, entry := range connections {
		entry.dispatcher.stop()
	}
	for _, entry := range managers {
		if err := entry.manager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, c.stopHTTPServers())
	errs = append(errs, c.bus.Close())
	c.wg.Wait()
	if w, ok := c.scheduler.(waiter); ok {
		w.Wait()
	}
	return errors.Join(errs...)
}

func (c *Correlator) orderedManagers() []*managerEntry {
	out := make([]*managerEntry, 0, len(c.managerOrder))
	for _, key := range c.managerOrder {
		out = append(out, c.managers[key])
	}
	return out
}

func (c *Correlator) orderedConnections() []*connectionEntry {
	out := make([]*connectionEntry, 0, len(c.connOrder))
	for _, key := range c.connOrder {
		out = append(out, c.connections[key])
	}
	return out
}
