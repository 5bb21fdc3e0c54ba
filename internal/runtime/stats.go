package runtime

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// EndpointStats are in-process counters for one endpoint, served by the
// introspection API.
type EndpointStats struct {
	mu sync.Mutex

	Sends           uint64    `json:"sends"`
	SendErrors      uint64    `json:"send_errors"`
	Successes       uint64    `json:"successes"`
	Failures        uint64    `json:"failures"`
	Dispatched      uint64    `json:"dispatched"`
	AwaitsResolved  uint64    `json:"awaits_resolved"`
	AwaitsRejected  uint64    `json:"awaits_rejected"`
	AwaitsCancelled uint64    `json:"awaits_cancelled"`
	LastActivityAt  time.Time `json:"last_activity_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`

	latencyWindow    *latencyWindow
	throughputWindow *throughputWindow
}

// LatencyMetrics summarise callable durations.
type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

// ThroughputMetrics count sends over a sliding window.
type ThroughputMetrics struct {
	CurrentRPS    float64 `json:"current_rps"`
	WindowSeconds float64 `json:"window_seconds"`
	SendsInWindow uint64  `json:"sends_in_window"`
}

func newEndpointStats() *EndpointStats {
	return &EndpointStats{
		latencyWindow:    newLatencyWindow(latencySampleSize),
		throughputWindow: newThroughputWindow(throughputWindowSize),
	}
}

func (s *EndpointStats) recordSend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.Sends++
	if err != nil {
		s.SendErrors++
	}
	s.LastActivityAt = now.UTC()

	snapshot := s.throughputWindow.AddAndSnapshot(now)
	s.Throughput = ThroughputMetrics{
		CurrentRPS:    snapshot.CurrentRPS,
		WindowSeconds: snapshot.WindowSeconds,
		SendsInWindow: uint64(snapshot.Count),
	}
}

func (s *EndpointStats) recordCall(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencyWindow.Add(d)
	s.Latency = s.latencyWindow.Snapshot()
}

func (s *EndpointStats) recordPublish(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if failed {
		s.Failures++
	} else {
		s.Successes++
	}
	s.LastActivityAt = time.Now().UTC()
}

func (s *EndpointStats) recordDispatch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Dispatched++
	s.LastActivityAt = time.Now().UTC()
}

func (s *EndpointStats) recordAwait(outcome string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch outcome {
	case awaitOutcomeSuccess:
		s.AwaitsResolved++
	case awaitOutcomeError:
		s.AwaitsRejected++
	default:
		s.AwaitsCancelled++
	}
}

// Snapshot returns a copy safe to encode.
func (s *EndpointStats) Snapshot() *EndpointStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &EndpointStats{
		Sends:           s.Sends,
		SendErrors:      s.SendErrors,
		Successes:       s.Successes,
		Failures:        s.Failures,
		Dispatched:      s.Dispatched,
		AwaitsResolved:  s.AwaitsResolved,
		AwaitsRejected:  s.AwaitsRejected,
		AwaitsCancelled: s.AwaitsCancelled,
		LastActivityAt:  s.LastActivityAt,
		Latency:         s.Latency,
		Throughput:      s.Throughput,
	}
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.SampleSize = lw.filled
	metrics.AverageNs = sum / int64(len(samples))
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{
		horizon: horizon,
		samples: make([]time.Time, 0, 64),
	}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	return throughputSnapshot{
		Count:         len(tw.samples),
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(len(tw.samples)) / span.Seconds(),
	}
}
