package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeduplicatorSeen(t *testing.T) {
	d := NewDeduplicator(10, time.Hour)

	assert.False(t, d.Seen("m1"))
	assert.True(t, d.Seen("m1"))
	assert.False(t, d.Seen("m2"))
	assert.Equal(t, 2, d.Len())
}

func TestDeduplicatorContainsDoesNotRecord(t *testing.T) {
	d := NewDeduplicator(10, time.Hour)

	assert.False(t, d.Contains("m1"))
	assert.False(t, d.Contains("m1"), "probe must not record")

	d.Seen("m1")
	assert.True(t, d.Contains("m1"))
}

func TestDeduplicatorSizeBound(t *testing.T) {
	d := NewDeduplicator(3, time.Hour)

	for i := 0; i < 5; i++ {
		d.Seen(fmt.Sprintf("m%d", i))
	}
	assert.LessOrEqual(t, d.Len(), 3)

	// Oldest entries were evicted, newest survive.
	assert.False(t, d.Seen("m0"))
	assert.True(t, d.Contains("m4"))
}

func TestStatsRecorder(t *testing.T) {
	var r StatsRecorder
	r.Record(StageStats{Processed: 1, Succeeded: 1, CostUSD: 0.5})
	r.Record(StageStats{Processed: 1, Failed: 1})
	r.Record(StageStats{Processed: 1, Skipped: 1, CostUSD: 0.25})

	got := r.Snapshot()
	assert.Equal(t, 3, got.Processed)
	assert.Equal(t, 1, got.Succeeded)
	assert.Equal(t, 1, got.Failed)
	assert.Equal(t, 1, got.Skipped)
	assert.InDelta(t, 0.75, got.CostUSD, 1e-9)
}
