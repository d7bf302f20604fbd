package pipeline

import "sync"

// StageStats are the per-stage counters surfaced on /status. Handlers return
// deltas; the replica aggregates them at the edge. No business state lives in
// the counters themselves.
type StageStats struct {
	Processed int     `json:"processed"`
	Succeeded int     `json:"succeeded"`
	Skipped   int     `json:"skipped"`
	Failed    int     `json:"failed"`
	CostUSD   float64 `json:"cost_usd,omitempty"`
}

// Add merges delta into s.
func (s *StageStats) Add(delta StageStats) {
	s.Processed += delta.Processed
	s.Succeeded += delta.Succeeded
	s.Skipped += delta.Skipped
	s.Failed += delta.Failed
	s.CostUSD += delta.CostUSD
}

// StatsRecorder aggregates StageStats deltas from concurrent workers.
type StatsRecorder struct {
	mu    sync.Mutex
	stats StageStats
}

// Record merges a handler's delta.
func (r *StatsRecorder) Record(delta StageStats) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Add(delta)
}

// Snapshot returns a copy of the aggregated counters.
func (r *StatsRecorder) Snapshot() StageStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}
