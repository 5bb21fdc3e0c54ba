package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	awaitOutcomeSuccess   = "success"
	awaitOutcomeError     = "error"
	awaitOutcomeCancelled = "cancelled"

	variantSuccess = "success"
	variantError   = "error"
)

// Metrics holds the Prometheus collectors of a Correlator together with the
// per-endpoint stats served by the introspection API.
type Metrics struct {
	mu sync.RWMutex

	endpoints map[string]*EndpointStats

	sendsTotal           *prometheus.CounterVec
	publishesTotal       *prometheus.CounterVec
	awaitsTotal          *prometheus.CounterVec
	dispatchEventsTotal  *prometheus.CounterVec
	subscriptionsExpired prometheus.Counter
	pendingSubscriptions prometheus.Gauge
	callDuration         *prometheus.HistogramVec

	namespace  string
	registerer prometheus.Registerer
	registered bool
}

// NewMetrics creates the collectors under namespace. Nothing is registered
// until Register is called.
func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "callflow"
	}

	return &Metrics{
		endpoints:            make(map[string]*EndpointStats),
		namespace:            namespace,
		registerer:           registerer,
		sendsTotal:           newCounterVec(namespace, "sends_total", "Total number of Send calls by endpoint and outcome", []string{"endpoint", "kind", "result"}),
		publishesTotal:       newCounterVec(namespace, "publishes_total", "Total number of messages published on the broadcast channel", []string{"endpoint", "variant"}),
		awaitsTotal:          newCounterVec(namespace, "awaits_total", "Total number of settled Await calls by outcome", []string{"endpoint", "outcome"}),
		dispatchEventsTotal:  newCounterVec(namespace, "dispatch_events_total", "Total number of raw connection events that triggered an endpoint", []string{"connection", "event"}),
		subscriptionsExpired: prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: "subscriptions", Name: "expired_total", Help: "Total number of pending subscriptions dropped by the janitor"}),
		pendingSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: "subscriptions", Name: "pending", Help: "Current number of pending subscriptions"}),
		callDuration:         newHistogramVec(namespace, "call_duration_seconds", "Duration of callable endpoint invocations", prometheus.DefBuckets, []string{"endpoint"}),
	}
}

func newCounterVec(namespace, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(namespace, name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.sendsTotal,
		m.publishesTotal,
		m.awaitsTotal,
		m.dispatchEventsTotal,
		m.subscriptionsExpired,
		m.pendingSubscriptions,
		m.callDuration,
	}

	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}

	m.registered = true
	return nil
}

// Gatherer returns the registry behind the registerer when it can serve
// /metrics, and the default gatherer otherwise.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if g, ok := m.registerer.(prometheus.Gatherer); ok {
		return g
	}
	return prometheus.DefaultGatherer
}

func (m *Metrics) stats(endpoint string) *EndpointStats {
	m.mu.RLock()
	stats, ok := m.endpoints[endpoint]
	m.mu.RUnlock()
	if ok {
		return stats
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if stats, ok = m.endpoints[endpoint]; !ok {
		stats = newEndpointStats()
		m.endpoints[endpoint] = stats
	}
	return stats
}

func (m *Metrics) RecordSend(endpoint, kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sendsTotal.WithLabelValues(endpoint, kind, result).Inc()
	m.stats(endpoint).recordSend(err)
}

func (m *Metrics) RecordPublish(endpoint string, failed bool) {
	variant := variantSuccess
	if failed {
		variant = variantError
	}
	m.publishesTotal.WithLabelValues(endpoint, variant).Inc()
	m.stats(endpoint).recordPublish(failed)
}

func (m *Metrics) RecordAwait(endpoint, outcome string) {
	m.awaitsTotal.WithLabelValues(endpoint, outcome).Inc()
	m.stats(endpoint).recordAwait(outcome)
}

func (m *Metrics) RecordDispatch(connection, event, endpoint string) {
	m.dispatchEventsTotal.WithLabelValues(connection, event).Inc()
	m.stats(endpoint).recordDispatch()
}

func (m *Metrics) RecordCall(endpoint string, d time.Duration) {
	m.callDuration.WithLabelValues(endpoint).Observe(d.Seconds())
	m.stats(endpoint).recordCall(d)
}

func (m *Metrics) RecordExpired(count int) {
	m.subscriptionsExpired.Add(float64(count))
}

func (m *Metrics) SetPending(count int) {
	m.pendingSubscriptions.Set(float64(count))
}

// EndpointStats returns a copy of the stats for endpoint, or nil if nothing
// was recorded yet.
func (m *Metrics) EndpointStats(endpoint string) *EndpointStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if stats, ok := m.endpoints[endpoint]; ok {
		return stats.Snapshot()
	}
	return nil
}

// Forget drops the stats of endpoints that are no longer registered.
func (m *Metrics) Forget(endpoints ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range endpoints {
		delete(m.endpoints, name)
	}
}

// Reset resets all metrics (useful for testing).
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.endpoints = make(map[string]*EndpointStats)
	m.sendsTotal.Reset()
	m.publishesTotal.Reset()
	m.awaitsTotal.Reset()
	m.dispatchEventsTotal.Reset()
	m.callDuration.Reset()
	m.pendingSubscriptions.Set(0)
}
