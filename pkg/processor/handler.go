// Package processor consumes topic messages and generates at most one
// article per topic. The lease plus the done-marker blob together give the
// at-most-once guarantee; everything else is failure plumbing.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/lease"
	"github.com/curator-sh/curator/pkg/llm"
	"github.com/curator-sh/curator/pkg/models"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/storage"
	"github.com/curator-sh/curator/pkg/version"
)

// ServiceName stamped on envelopes and provenance entries.
const ServiceName = "processor"

// Handler processes one topic message into a ProcessedArticle.
type Handler struct {
	cfg       *config.ProcessorConfig
	store     storage.Store
	queue     queue.Queue
	leases    *lease.Manager
	llmClient llm.Client
	holderID  string
	dedup     *pipeline.Deduplicator
}

// NewHandler wires the processor's dependencies. holderID identifies this
// replica in lease blobs and provenance entries.
func NewHandler(cfg *config.ProcessorConfig, store storage.Store, q queue.Queue, leases *lease.Manager, client llm.Client, holderID string) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     store,
		queue:     q,
		leases:    leases,
		llmClient: client,
		holderID:  holderID,
		dedup:     pipeline.NewDeduplicator(4096, 48*time.Hour),
	}
}

// Handle runs the per-message protocol: validate, done-marker check, lease,
// generate, persist, trigger render, release.
func (h *Handler) Handle(ctx context.Context, env *pipeline.Envelope, _ *queue.Message) queue.HandlerResult {
	var payload pipeline.TopicPayload
	if err := env.DecodePayload(&payload); err != nil {
		return h.failed(pipeline.KindBadInput, "", env.CorrelationID, err, nil)
	}
	if err := payload.Validate(); err != nil {
		return h.failed(pipeline.KindBadInput, payload.TopicID, env.CorrelationID, err, nil)
	}

	log := slog.With("topic_id", payload.TopicID, "correlation_id", env.CorrelationID)

	// Best-effort duplicate-delivery guard ahead of the storage round trips.
	// Only completed messages are recorded, so a transient failure's
	// redelivery is never suppressed here.
	if h.dedup.Contains(env.MessageID) {
		log.Info("Duplicate delivery suppressed", "message_id", env.MessageID)
		return skipped()
	}

	slug, done, err := h.resolveSlug(ctx, &payload)
	if err != nil {
		return h.failed(pipeline.KindTransientDependency, payload.TopicID, env.CorrelationID, err, log)
	}
	if done {
		log.Info("Article already generated, skipping", "slug", slug)
		return skipped()
	}

	if _, err := h.leases.Acquire(ctx, payload.TopicID, h.holderID, h.cfg.LeaseTTL); err != nil {
		if errors.Is(err, lease.ErrHeld) {
			// Another replica is generating; redelivery after the
			// visibility timeout will find the done marker.
			log.Info("Lease held elsewhere, backing off")
			return h.failed(pipeline.KindLeaseContention, payload.TopicID, env.CorrelationID, err, nil)
		}
		return h.failed(pipeline.KindTransientDependency, payload.TopicID, env.CorrelationID, err, log)
	}

	article, err := h.generate(ctx, &payload, slug)
	if err != nil {
		h.releaseLease(ctx, payload.TopicID, log)
		if llm.IsPermanent(err) {
			h.writeFailureRecord(ctx, &payload, env.CorrelationID, err, log)
			return h.failed(pipeline.KindPermanentDependency, payload.TopicID, env.CorrelationID, err, log)
		}
		return h.failed(pipeline.Classify(err), payload.TopicID, env.CorrelationID, err, log)
	}

	blobPath, err := h.persistArticle(ctx, article)
	if err != nil {
		if errors.Is(err, storage.ErrBlobExists) {
			// Lost a race after the done-marker check; the winner's
			// article stands.
			h.releaseLease(ctx, payload.TopicID, log)
			log.Info("Article written concurrently, skipping", "slug", article.Slug)
			return skipped()
		}
		h.releaseLease(ctx, payload.TopicID, log)
		return h.failed(pipeline.KindStorageWrite, payload.TopicID, env.CorrelationID, err, log)
	}

	// A lost render trigger is recoverable from C2 by reconciliation, so a
	// send failure past this point never fails the message.
	if err := h.sendRenderMessage(ctx, env.CorrelationID, blobPath); err != nil {
		log.Error("Failed to enqueue render message, reconciler will recover", "error", err)
	}

	h.releaseLease(ctx, payload.TopicID, log)
	h.dedup.Seen(env.MessageID)

	log.Info("Article generated",
		"slug", article.Slug, "cost_usd", article.CostUSD, "tokens", article.Tokens)
	return queue.HandlerResult{
		Status: queue.StatusSuccess,
		Stats:  pipeline.StageStats{Processed: 1, Succeeded: 1, CostUSD: article.CostUSD},
	}
}

// resolveSlug derives the topic's slug and checks the done marker. A slug
// already used by a different topic gets a topic-hash suffix instead.
func (h *Handler) resolveSlug(ctx context.Context, p *pipeline.TopicPayload) (string, bool, error) {
	slug := Slugify(p.Title)
	existing, found, err := h.findArticleBySlug(ctx, slug)
	if err != nil {
		return "", false, err
	}
	if !found {
		return slug, false, nil
	}
	if existing.ArticleID == p.TopicID {
		return slug, true, nil
	}

	slug = CollisionSlug(slug, p.TopicID)
	existing, found, err = h.findArticleBySlug(ctx, slug)
	if err != nil {
		return "", false, err
	}
	return slug, found && existing.ArticleID == p.TopicID, nil
}

// findArticleBySlug scans the articles prefix for <slug>.json under any
// month directory.
func (h *Handler) findArticleBySlug(ctx context.Context, slug string) (*models.ProcessedArticle, bool, error) {
	names, err := h.store.List(ctx, config.ContainerProcessed, "articles/")
	if err != nil {
		return nil, false, fmt.Errorf("listing articles: %w", err)
	}
	target := "/" + slug + ".json"
	for _, name := range names {
		if !strings.HasSuffix(name, target) {
			continue
		}
		blob, err := h.store.Get(ctx, config.ContainerProcessed, name)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, false, fmt.Errorf("reading article %s: %w", name, err)
		}
		var article models.ProcessedArticle
		if err := json.Unmarshal(blob.Data, &article); err != nil {
			return nil, false, fmt.Errorf("decoding article %s: %w", name, err)
		}
		return &article, true, nil
	}
	return nil, false, nil
}

// generate runs the LLM calls and assembles the article.
func (h *Handler) generate(ctx context.Context, p *pipeline.TopicPayload, slug string) (*models.ProcessedArticle, error) {
	completion, err := h.llmClient.Complete(ctx, &llm.Request{
		Messages:    buildResearchPrompt(p),
		Temperature: -1,
	})
	if err != nil {
		return nil, err
	}

	d, err := parseDraft(completion.Content, p.Title)
	if err != nil {
		return nil, &llm.PermanentError{Err: err}
	}

	cost := completion.CostUSD
	tokens := completion.TotalTokens()

	if h.cfg.TitleOptions {
		// Best-effort refinement; any failure keeps the draft title.
		titles, titleCost, titleTokens := h.titleOptions(ctx, d)
		d.Title = selectTitle(d.Title, titles)
		cost += titleCost
		tokens += titleTokens
	}

	now := time.Now().UTC()
	return &models.ProcessedArticle{
		ArticleID:    p.TopicID,
		Title:        d.Title,
		Slug:         slug,
		Description:  d.Description,
		Content:      d.Content,
		Tags:         d.Tags,
		Category:     h.cfg.DefaultCategory,
		Source:       p.Source,
		SourceURL:    p.URL,
		References:   []models.Reference{{Source: p.Source, URL: p.URL}},
		CostUSD:      cost,
		Tokens:       tokens,
		QualityScore: contentQuality(d),
		GeneratedAt:  now,
		Provenance: []models.ProvenanceEntry{{
			Stage:       ServiceName,
			ProcessorID: h.holderID,
			Version:     version.GitCommit,
			Timestamp:   now,
			CostUSD:     cost,
			Tokens:      tokens,
		}},
	}, nil
}

func (h *Handler) titleOptions(ctx context.Context, d *draft) ([]string, float64, int) {
	completion, err := h.llmClient.Complete(ctx, &llm.Request{
		Messages:    buildTitleOptionsPrompt(d.Title, d.Description),
		MaxTokens:   256,
		Temperature: -1,
	})
	if err != nil {
		slog.Warn("Title options call failed, keeping draft title", "error", err)
		return nil, 0, 0
	}
	return parseTitleOptions(completion.Content), completion.CostUSD, completion.TotalTokens()
}

// contentQuality is a rough 0..1 heuristic over the draft shape.
func contentQuality(d *draft) float64 {
	score := 0.4
	if len(d.Content) > 1500 {
		score += 0.3
	} else if len(d.Content) > 500 {
		score += 0.15
	}
	if d.Description != "" {
		score += 0.1
	}
	if len(d.Tags) >= 3 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

// persistArticle writes the done-marker blob with create-if-absent semantics.
func (h *Handler) persistArticle(ctx context.Context, article *models.ProcessedArticle) (string, error) {
	data, err := json.Marshal(article)
	if err != nil {
		return "", fmt.Errorf("marshaling article %s: %w", article.Slug, err)
	}
	path := article.BlobPath()
	if err := h.store.Put(ctx, config.ContainerProcessed, path, data, "application/json", true); err != nil {
		return "", err
	}
	return path, nil
}

func (h *Handler) sendRenderMessage(ctx context.Context, correlationID, blobPath string) error {
	env, err := pipeline.NewEnvelope(ServiceName, pipeline.OpRenderMarkdown, correlationID,
		&pipeline.RenderPayload{ProcessedBlobPath: blobPath})
	if err != nil {
		return err
	}
	return queue.SendEnvelope(ctx, h.queue, config.QueueMarkdown, env)
}

// writeFailureRecord persists the operator-visible record that terminates a
// poison topic. Best effort: a failed write still deletes the message.
func (h *Handler) writeFailureRecord(ctx context.Context, p *pipeline.TopicPayload, correlationID string, cause error, log *slog.Logger) {
	record := models.FailureRecord{
		TopicID:       p.TopicID,
		CorrelationID: correlationID,
		Stage:         ServiceName,
		Reason:        cause.Error(),
		FailedAt:      time.Now().UTC(),
	}
	data, err := json.Marshal(record)
	if err != nil {
		log.Error("Failed to marshal failure record", "error", err)
		return
	}
	if err := h.store.Put(ctx, config.ContainerProcessed, models.FailureBlobPath(p.TopicID), data, "application/json", false); err != nil {
		log.Error("Failed to write failure record", "error", err)
	}
}

func (h *Handler) releaseLease(ctx context.Context, topicID string, log *slog.Logger) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.leases.Release(releaseCtx, topicID, h.holderID); err != nil {
		log.Warn("Failed to release lease, TTL will expire it", "error", err)
	}
}

func (h *Handler) failed(kind pipeline.Kind, topicID, correlationID string, err error, log *slog.Logger) queue.HandlerResult {
	if log != nil {
		log.Warn("Topic processing failed", "kind", string(kind), "error", err)
	}
	return queue.HandlerResult{
		Status: queue.StatusFailed,
		Stats:  pipeline.StageStats{Processed: 1, Failed: 1},
		Err:    pipeline.NewStageError(kind, ServiceName, topicID, correlationID, err),
	}
}

func skipped() queue.HandlerResult {
	return queue.HandlerResult{
		Status: queue.StatusSkipped,
		Stats:  pipeline.StageStats{Processed: 1, Skipped: 1},
	}
}
