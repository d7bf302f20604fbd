package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/pipeline"
)

// WorkerPool manages the workers of one stage replica. WorkerCount bounds
// the replica's parallelism: K workers means at most K messages in flight.
type WorkerPool struct {
	replicaID string
	stage     string
	queue     Queue
	queueName string
	cfg       config.StageQueueConfig
	handlers  map[pipeline.Operation]Handler
	stats     *pipeline.StatsRecorder
	workers   []*Worker
	stopCh    chan struct{}
	stopOnce  sync.Once
	started   bool
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy       bool                `json:"is_healthy"`
	ReplicaID       string              `json:"replica_id"`
	Stage           string              `json:"stage"`
	ActiveWorkers   int                 `json:"active_workers"`
	TotalWorkers    int                 `json:"total_workers"`
	QueueDepth      int                 `json:"queue_depth"`
	QueueDepthError string              `json:"queue_depth_error,omitempty"`
	Stats           pipeline.StageStats `json:"stats"`
	WorkerStats     []WorkerHealth      `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"` // "idle" or "working"
	CurrentMessageID  string    `json:"current_message_id,omitempty"`
	MessagesProcessed int       `json:"messages_processed"`
	LastActivity      time.Time `json:"last_activity"`
}

// NewWorkerPool creates a worker pool for one stage.
func NewWorkerPool(replicaID, stage string, q Queue, queueName string, cfg config.StageQueueConfig, handlers map[pipeline.Operation]Handler) *WorkerPool {
	return &WorkerPool{
		replicaID: replicaID,
		stage:     stage,
		queue:     q,
		queueName: queueName,
		cfg:       cfg,
		handlers:  handlers,
		stats:     &pipeline.StatsRecorder{},
		workers:   make([]*Worker, 0, cfg.WorkerCount),
		stopCh:    make(chan struct{}),
	}
}

// Start spawns worker goroutines. Safe to call multiple times; subsequent
// calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call",
			"replica_id", p.replicaID, "stage", p.stage)
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool",
		"replica_id", p.replicaID,
		"stage", p.stage,
		"queue", p.queueName,
		"worker_count", p.cfg.WorkerCount)

	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("%s-%s-worker-%d", p.replicaID, p.stage, i)
		worker := NewWorker(workerID, p.replicaID, p.queue, p.queueName, p.cfg, p.handlers, p.stats)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	slog.Info("Worker pool started", "stage", p.stage)
	return nil
}

// Stop signals all workers to stop and waits for them to finish their
// current messages (graceful shutdown). In-flight messages that do not
// finish are left undeleted and redeliver after the visibility timeout.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool gracefully", "stage", p.stage)
	p.stopOnce.Do(func() { close(p.stopCh) })
	for _, worker := range p.workers {
		worker.Stop()
	}
	slog.Info("Worker pool stopped gracefully", "stage", p.stage)
}

// Stats returns the aggregated stage counters.
func (p *WorkerPool) Stats() pipeline.StageStats {
	return p.stats.Snapshot()
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	depth, errD := p.queue.Depth(ctx, p.queueName)
	if errD != nil {
		slog.Error("Failed to query queue depth for health check",
			"replica_id", p.replicaID, "stage", p.stage, "error", errD)
	} else {
		pipeline.QueueDepth.WithLabelValues(p.queueName).Set(float64(depth))
	}

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	health := &PoolHealth{
		IsHealthy:     len(p.workers) > 0 && errD == nil,
		ReplicaID:     p.replicaID,
		Stage:         p.stage,
		ActiveWorkers: activeWorkers,
		TotalWorkers:  len(p.workers),
		QueueDepth:    depth,
		Stats:         p.stats.Snapshot(),
		WorkerStats:   workerStats,
	}
	if errD != nil {
		health.QueueDepthError = fmt.Sprintf("queue depth query failed: %v", errD)
	}
	return health
}
