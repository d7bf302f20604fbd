package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/models"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/storage"
)

// ServiceName stamped on envelopes produced by the collector.
const ServiceName = "collector"

// Collector runs collection cycles: fetch, filter, dedup, persist, fan out.
type Collector struct {
	cfg       *config.Config
	store     storage.Store
	queue     queue.Queue
	replicaID string

	// newSource is swapped in tests.
	newSource func(name string, sc *config.SourceConfig, timeout time.Duration) (Source, error)
}

// NewCollector creates a collector bound to the shared storage and queue
// adapters.
func NewCollector(cfg *config.Config, store storage.Store, q queue.Queue, replicaID string) *Collector {
	return &Collector{
		cfg:       cfg,
		store:     store,
		queue:     q,
		replicaID: replicaID,
		newSource: NewSource,
	}
}

// RunResult summarizes one collection run.
type RunResult struct {
	CollectionID      string `json:"collection_id"`
	SourcesQueried    int    `json:"sources_queried"`
	SourcesFailed     int    `json:"sources_failed"`
	Accepted          int    `json:"accepted"`
	Rejected          int    `json:"rejected"`
	Deduped           int    `json:"deduped"`
	QueueMessagesSent int    `json:"queue_messages_sent"`
	SendFailures      int    `json:"send_failures"`
}

// RunCollection executes one full collection cycle. Individual source
// failures are non-fatal; the run fails only when history cannot be loaded
// or the collection blob cannot be persisted. The collection blob is written
// before any fanout so every queued topic has a durable audit trail.
func (c *Collector) RunCollection(ctx context.Context, runID string, only []string) (*RunResult, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	log := slog.With("run_id", runID, "replica_id", c.replicaID)
	started := time.Now().UTC()

	history, err := loadHistory(ctx, c.store, c.cfg.Collector.DedupWindow, started)
	if err != nil {
		return nil, err
	}
	log.Info("Dedup history loaded", "hashes", history.Len())

	result := &RunResult{CollectionID: runID}
	coll := &models.Collection{
		CollectionID: runID,
		StartedAt:    started,
	}

	for name, sc := range c.cfg.Sources {
		if !sourceSelected(name, only) {
			continue
		}
		result.SourcesQueried++
		coll.Sources = append(coll.Sources, name)

		items, err := c.fetchSource(ctx, name, sc)
		if err != nil {
			// One unreachable source never fails the run.
			log.Warn("Source unavailable, continuing", "source", name, "error", err)
			result.SourcesFailed++
			continue
		}

		tmpl, err := c.cfg.GetQualityTemplate(sc.QualityTemplateName())
		if err != nil {
			return nil, err
		}

		for _, item := range items {
			if reason := CheckQuality(item, tmpl); reason != "" {
				log.Debug("Item rejected", "source", name, "item_id", item.ItemID, "reason", string(reason))
				result.Rejected++
				continue
			}
			if history.Seen(item) {
				result.Deduped++
				continue
			}
			history.Add(item)
			item.Score = clampInt(item.Score)
			coll.Items = append(coll.Items, item)
			result.Accepted++
		}
	}

	coll.CompletedAt = time.Now().UTC()
	coll.AcceptedCount = result.Accepted
	coll.RejectedCount = result.Rejected
	coll.DedupedCount = result.Deduped

	blobPath := coll.BlobPath()
	if err := c.persistCollection(ctx, coll, blobPath); err != nil {
		return nil, err
	}

	sent, failed := c.fanout(ctx, coll, blobPath, log)
	result.QueueMessagesSent = sent
	result.SendFailures = failed

	log.Info("Collection run complete",
		"accepted", result.Accepted,
		"rejected", result.Rejected,
		"deduped", result.Deduped,
		"sent", result.QueueMessagesSent,
		"send_failures", result.SendFailures,
		"sources_failed", result.SourcesFailed,
		"duration_ms", time.Since(started).Milliseconds())
	return result, nil
}

// fetchSource builds the adapter, fetches, and always closes it.
func (c *Collector) fetchSource(ctx context.Context, name string, sc *config.SourceConfig) ([]models.CollectedItem, error) {
	src, err := c.newSource(name, sc, c.cfg.Collector.FetchTimeout)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()
	return src.Fetch(ctx)
}

// persistCollection writes the audit blob to the collected-content container.
func (c *Collector) persistCollection(ctx context.Context, coll *models.Collection, blobPath string) error {
	data, err := json.Marshal(coll)
	if err != nil {
		return fmt.Errorf("marshaling collection %s: %w", coll.CollectionID, err)
	}
	if err := c.store.Put(ctx, config.ContainerCollected, blobPath, data, "application/json", false); err != nil {
		return fmt.Errorf("persisting collection %s: %w", coll.CollectionID, err)
	}
	return nil
}

// fanout sends one topic message per accepted item. Each send gets bounded
// retries with exponential backoff; an item that exhausts its retries is
// logged and counted but does not abort the remaining fanout. The persisted
// collection blob means a lost topic is recoverable by reconciliation.
func (c *Collector) fanout(ctx context.Context, coll *models.Collection, blobPath string, log *slog.Logger) (sent, failed int) {
	for _, item := range coll.Items {
		payload := topicPayload(item, coll.CollectionID, blobPath)
		env, err := pipeline.NewEnvelope(ServiceName, pipeline.OpProcessTopic, coll.CollectionID, payload)
		if err != nil {
			log.Error("Failed to build topic envelope", "topic_id", payload.TopicID, "error", err)
			failed++
			continue
		}
		if err := c.sendWithRetry(ctx, env); err != nil {
			log.Error("Failed to enqueue topic after retries", "topic_id", payload.TopicID, "error", err)
			failed++
			continue
		}
		sent++
	}
	return sent, failed
}

// sendWithRetry retries transient queue errors with exponential backoff.
func (c *Collector) sendWithRetry(ctx context.Context, env *pipeline.Envelope) error {
	retries := c.cfg.Collector.SendRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * 250 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		if lastErr = queue.SendEnvelope(ctx, c.queue, config.QueueProcessing, env); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

// topicPayload maps an accepted item to its Q1 work unit.
func topicPayload(item models.CollectedItem, collectionID, blobPath string) *pipeline.TopicPayload {
	return &pipeline.TopicPayload{
		TopicID:        item.TopicID(),
		Title:          item.Title,
		Source:         item.Source,
		URL:            item.URL,
		Excerpt:        item.Excerpt,
		Score:          item.Score,
		Comments:       item.Comments,
		CollectedAt:    item.FetchedAt,
		PriorityScore:  priorityScore(item),
		CollectionID:   collectionID,
		CollectionBlob: blobPath,
	}
}

// priorityScore orders topics for downstream consumers: engagement dominates,
// recency is implicit in queue order.
func priorityScore(item models.CollectedItem) float64 {
	score := float64(item.Score) + 0.5*float64(item.Comments)
	if score > 10000 {
		score = 10000
	}
	return score
}

func sourceSelected(name string, only []string) bool {
	if len(only) == 0 {
		return true
	}
	for _, n := range only {
		if n == name {
			return true
		}
	}
	return false
}

func clampInt(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// RunStartup executes the boot-time collection when configured. Failures are
// logged, never fatal: a replica that cannot collect can still drain queues.
func (c *Collector) RunStartup(ctx context.Context) {
	if !c.cfg.Collector.AutoCollectOnStartup {
		return
	}
	slog.Info("Auto-collect on startup enabled, running collection")
	if _, err := c.RunCollection(ctx, "", nil); err != nil {
		slog.Error("Startup collection failed", "error", err)
	}
}

// RunPeriodic blocks running scheduled collections until the context is
// cancelled. A zero interval disables the schedule and returns immediately.
func (c *Collector) RunPeriodic(ctx context.Context) {
	interval := c.cfg.Collector.Interval
	if interval <= 0 {
		slog.Info("Scheduled collection disabled")
		return
	}
	slog.Info("Scheduled collection enabled", "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.RunCollection(ctx, "", nil); err != nil {
				slog.Error("Scheduled collection failed", "error", err)
			}
		}
	}
}

// Handler adapts the collector to the queue worker, serving collect
// operations from the collection-requests queue.
type Handler struct {
	collector *Collector
}

// NewHandler wraps a collector for queue consumption.
func NewHandler(c *Collector) *Handler {
	return &Handler{collector: c}
}

// Handle runs one requested collection.
func (h *Handler) Handle(ctx context.Context, env *pipeline.Envelope, _ *queue.Message) queue.HandlerResult {
	var payload pipeline.CollectPayload
	if err := env.DecodePayload(&payload); err != nil {
		return queue.HandlerResult{
			Status: queue.StatusFailed,
			Stats:  pipeline.StageStats{Processed: 1, Failed: 1},
			Err:    pipeline.NewStageError(pipeline.KindBadInput, ServiceName, "", env.CorrelationID, err),
		}
	}

	result, err := h.collector.RunCollection(ctx, payload.RunID, payload.Sources)
	if err != nil {
		return queue.HandlerResult{
			Status: queue.StatusFailed,
			Stats:  pipeline.StageStats{Processed: 1, Failed: 1},
			Err:    pipeline.NewStageError(pipeline.KindTransientDependency, ServiceName, "", env.CorrelationID, err),
		}
	}
	slog.Info("Requested collection finished",
		"collection_id", result.CollectionID, "accepted", result.Accepted, "sent", result.QueueMessagesSent)
	return queue.HandlerResult{
		Status: queue.StatusSuccess,
		Stats:  pipeline.StageStats{Processed: 1, Succeeded: 1},
	}
}
