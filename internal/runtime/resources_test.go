package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResourceTracker_Snapshot(t *testing.T) {
	tracker := newResourceTracker()

	first := tracker.Snapshot()
	assert.Zero(t, first.CPUPercent, "first snapshot has no baseline")
	assert.NotZero(t, first.MemoryBytes)
	assert.NotZero(t, first.Goroutines)
	assert.False(t, first.SampledAt.IsZero())

	time.Sleep(10 * time.Millisecond)

	second := tracker.Snapshot()
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)
	assert.True(t, second.SampledAt.After(first.SampledAt) || second.SampledAt.Equal(first.SampledAt))
}

func TestResourceTracker_SnapshotNilTracker(t *testing.T) {
	var tracker *resourceTracker

	assert.Equal(t, ResourceUsage{}, tracker.Snapshot())
}

func TestResourceTracker_SnapshotEmptySamples(t *testing.T) {
	tracker := &resourceTracker{}

	snap := tracker.Snapshot()
	assert.Zero(t, snap.CPUPercent)
	assert.NotZero(t, snap.MemoryBytes, "memory is read even without cpu samples")
	assert.NotZero(t, snap.Goroutines)
}
