package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/pipeline"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// HandlerStatus is the terminal state of one message handling attempt.
type HandlerStatus string

// Handler statuses.
const (
	StatusSuccess HandlerStatus = "success"
	StatusSkipped HandlerStatus = "skipped"
	StatusFailed  HandlerStatus = "failed"
)

// HandlerResult is what a stage handler returns for one message. The worker
// owns deletion: success and skip always delete; failure consults the error
// taxonomy (BadInput, PermanentDependency, and BuildFailure delete to
// terminate poison loops, everything retryable is left for redelivery).
type HandlerResult struct {
	Status HandlerStatus
	Stats  pipeline.StageStats
	Err    error
}

// Handler processes one decoded envelope. Handlers are pure with respect to
// the worker: all shared clients arrive via the handler's own construction,
// and no state survives between messages.
type Handler interface {
	Handle(ctx context.Context, env *pipeline.Envelope, msg *Message) HandlerResult
}

// Worker is a single queue worker that polls for and processes messages.
type Worker struct {
	id        string
	replica   string
	queue     Queue
	queueName string
	cfg       config.StageQueueConfig
	handlers  map[pipeline.Operation]Handler
	stats     *pipeline.StatsRecorder
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// Health tracking
	mu                sync.RWMutex
	status            WorkerStatus
	currentMessageID  string
	messagesProcessed int
	lastActivity      time.Time
}

// NewWorker creates a queue worker bound to one queue and handler registry.
func NewWorker(id, replica string, q Queue, queueName string, cfg config.StageQueueConfig, handlers map[pipeline.Operation]Handler, stats *pipeline.StatsRecorder) *Worker {
	return &Worker{
		id:           id,
		replica:      replica,
		queue:        q,
		queueName:    queueName,
		cfg:          cfg,
		handlers:     handlers,
		stats:        stats,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// message. Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            string(w.status),
		CurrentMessageID:  w.currentMessageID,
		MessagesProcessed: w.messagesProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "replica_id", w.replica, "queue", w.queueName)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoMessages) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("Error processing message", "error", err)
				w.sleep(time.Second) // Brief backoff on error
			}
		}
	}
}

// sleep waits for the given duration or until stop is signalled.
func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess receives one message and runs it through its handler.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	msgs, err := w.queue.Receive(ctx, w.queueName, 1, w.cfg.VisibilityTimeout)
	if err != nil {
		return err
	}
	msg := msgs[0]

	log := slog.With("worker_id", w.id, "queue", w.queueName, "message_id", msg.ID)

	w.setStatus(WorkerStatusWorking, msg.ID)
	defer w.setStatus(WorkerStatusIdle, "")

	env, err := msg.Envelope()
	if err != nil {
		// Malformed body: delete, record, never retry.
		log.Error("Dropping malformed message", "error", err)
		w.deleteMessage(ctx, msg, log)
		w.record(pipeline.StageStats{Processed: 1, Failed: 1}, StatusFailed)
		return nil
	}

	log = log.With("correlation_id", env.CorrelationID, "operation", env.Operation)

	handler, ok := w.handlers[env.Operation]
	if !ok {
		// Forward compatibility requires explicit handler registration.
		log.Warn("Unknown operation, deleting message")
		w.deleteMessage(ctx, msg, log)
		w.record(pipeline.StageStats{Processed: 1, Failed: 1}, StatusFailed)
		return nil
	}

	// Keep the handler deadline below the visibility timeout so a slow
	// handler cannot outlive its own invisibility window.
	handlerCtx, cancel := context.WithTimeout(ctx, w.cfg.HandlerTimeout)
	defer cancel()

	result := handler.Handle(handlerCtx, env, msg)

	switch result.Status {
	case StatusSuccess, StatusSkipped:
		w.deleteMessage(ctx, msg, log)
	case StatusFailed:
		if shouldDelete(result.Err) {
			log.Warn("Permanent failure, deleting message", "error", result.Err)
			w.deleteMessage(ctx, msg, log)
		} else {
			log.Warn("Retryable failure, leaving message for redelivery",
				"error", result.Err, "dequeue_count", msg.DequeueCount)
		}
	default:
		return fmt.Errorf("handler returned unknown status %q", result.Status)
	}

	w.record(result.Stats, result.Status)
	w.mu.Lock()
	w.messagesProcessed++
	w.mu.Unlock()

	log.Info("Message processing complete", "status", result.Status)
	return nil
}

// shouldDelete consults the error taxonomy for the delete-on-failure policy.
// An unclassified error is treated as transient and retried.
func shouldDelete(err error) bool {
	if err == nil {
		return true
	}
	var se *pipeline.StageError
	if errors.As(err, &se) {
		return se.DeleteMessage()
	}
	return false
}

// deleteMessage deletes with a background-derived context so cancellation of
// the handler context cannot strand a finished message. A stale pop receipt
// is logged, not escalated: the message was already redelivered elsewhere.
func (w *Worker) deleteMessage(ctx context.Context, msg *Message, log *slog.Logger) {
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, msg.Queue, msg.ID, msg.PopReceipt); err != nil {
		if errors.Is(err, ErrReceiptMismatch) {
			log.Warn("Pop receipt went stale before delete", "message_id", msg.ID)
			return
		}
		log.Error("Failed to delete message", "message_id", msg.ID, "error", err)
	}
}

func (w *Worker) record(stats pipeline.StageStats, status HandlerStatus) {
	if w.stats != nil {
		w.stats.Record(stats)
	}
	pipeline.MessagesProcessed.WithLabelValues(w.queueName, string(status)).Inc()
}

// pollInterval returns the poll duration with jitter.
func (w *Worker) pollInterval() time.Duration {
	base := w.cfg.PollInterval
	jitter := w.cfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	// Range: [base - jitter, base + jitter]
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// setStatus updates the worker's health tracking state.
func (w *Worker) setStatus(status WorkerStatus, messageID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentMessageID = messageID
	w.lastActivity = time.Now()
}
