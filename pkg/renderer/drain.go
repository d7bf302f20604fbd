package renderer

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/queue"
)

// Counter tracks markdown files written since the last build signal.
type Counter struct {
	n atomic.Int64
}

// Inc records one newly written markdown file.
func (c *Counter) Inc() { c.n.Add(1) }

// Add restores n counts, used when a build signal fails to send.
func (c *Counter) Add(n int) { c.n.Add(int64(n)) }

// Value returns the current count.
func (c *Counter) Value() int { return int(c.n.Load()) }

// Reset returns the count and zeroes it atomically.
func (c *Counter) Reset() int { return int(c.n.Swap(0)) }

// DrainMonitor watches the markdown queue and emits one coalesced build
// request per drain cycle: the queue must stay empty for the stable-empty
// window and at least one new markdown file must have been written.
type DrainMonitor struct {
	cfg       *config.RendererConfig
	queue     queue.Queue
	generated *Counter
	replicaID string
	now       func() time.Time

	emptySince time.Time
}

// NewDrainMonitor creates the monitor sharing the handler's counter.
func NewDrainMonitor(cfg *config.RendererConfig, q queue.Queue, generated *Counter, replicaID string) *DrainMonitor {
	return &DrainMonitor{
		cfg:       cfg,
		queue:     q,
		generated: generated,
		replicaID: replicaID,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook for the stable-empty window.
func (m *DrainMonitor) SetClock(now func() time.Time) { m.now = now }

// Run polls until the context is cancelled.
func (m *DrainMonitor) Run(ctx context.Context) {
	interval := m.cfg.DrainCheckInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	slog.Info("Drain monitor started",
		"stable_empty", m.cfg.StableEmpty.String(), "check_interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Drain monitor stopped")
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Check runs one drain evaluation. Exported so tests drive the monitor
// without the ticker.
func (m *DrainMonitor) Check(ctx context.Context) {
	depth, err := m.queue.Depth(ctx, config.QueueMarkdown)
	if err != nil {
		slog.Warn("Drain monitor failed to read queue depth", "error", err)
		return
	}
	now := m.now()

	if depth > 0 {
		m.emptySince = time.Time{}
		return
	}
	if m.emptySince.IsZero() {
		m.emptySince = now
		return
	}
	if now.Sub(m.emptySince) < m.cfg.StableEmpty {
		return
	}
	if m.generated.Value() == 0 {
		return
	}

	count := m.generated.Reset()
	if err := m.sendBuildMessage(ctx, count); err != nil {
		// Restore the counter so the next stable window retries the signal.
		m.generated.Add(count)
		slog.Error("Failed to emit build message", "error", err)
		return
	}
	slog.Info("Drain cycle complete, build requested", "markdown_count", count)
	m.emptySince = time.Time{}
}

func (m *DrainMonitor) sendBuildMessage(ctx context.Context, count int) error {
	env, err := pipeline.NewEnvelope(ServiceName, pipeline.OpPublishSite, "", &pipeline.BuildPayload{
		BatchID:       uuid.NewString(),
		MarkdownCount: count,
		Trigger:       "queue_drained",
	})
	if err != nil {
		return err
	}
	return queue.SendEnvelope(ctx, m.queue, config.QueuePublishing, env)
}
