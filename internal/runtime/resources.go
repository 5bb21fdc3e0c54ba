package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSecondsMetric = "/sched/cpu:seconds"

// ResourceUsage is a coarse view of the process, served at /api/runtime.
type ResourceUsage struct {
	CPUPercent           float64   `json:"cpu_percent"`
	MemoryBytes          uint64    `json:"memory_bytes"`
	Goroutines           int       `json:"goroutines"`
	PendingSubscriptions int       `json:"pending_subscriptions"`
	SampledAt            time.Time `json:"sampled_at"`
}

// resourceTracker derives CPU usage from the delta between two samples.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []metrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []metrics.Sample{{Name: cpuSecondsMetric}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

// Snapshot reports zero CPU on the first call.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var cpuSeconds float64
	haveCPU := false
	if len(r.samples) > 0 {
		metrics.Read(r.samples)
		if sample := r.samples[0]; sample.Value.Kind() == metrics.KindFloat64 {
			cpuSeconds = sample.Value.Float64()
			haveCPU = true
		}
	}
	now := time.Now()

	var cpuPercent float64
	if haveCPU && !r.lastSample.IsZero() {
		deltaCPU := cpuSeconds - r.lastCPUSeconds
		deltaWall := now.Sub(r.lastSample).Seconds()
		if deltaWall > 0 && r.numCPU > 0 {
			cpuPercent = (deltaCPU / deltaWall) / r.numCPU * 100
		}
	}

	if haveCPU {
		r.lastCPUSeconds = cpuSeconds
	}
	r.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return ResourceUsage{
		CPUPercent:  cpuPercent,
		MemoryBytes: mem.Alloc,
		Goroutines:  runtime.NumGoroutine(),
		SampledAt:   now.UTC(),
	}
}
