// Package renderer converts processed articles into markdown files with
// YAML front-matter and coalesces upstream completion into single site
// build requests.
package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/images"
	"github.com/curator-sh/curator/pkg/models"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/storage"
)

// ServiceName stamped on envelopes produced by the renderer.
const ServiceName = "renderer"

// Handler renders one processed article to markdown.
type Handler struct {
	store     storage.Store
	images    *images.Dispatcher
	generated *Counter
}

// NewHandler wires the renderer's dependencies. The counter is shared with
// the drain monitor that emits build requests.
func NewHandler(store storage.Store, dispatcher *images.Dispatcher, generated *Counter) *Handler {
	return &Handler{store: store, images: dispatcher, generated: generated}
}

// Handle loads the processed article, selects an image, and writes the
// markdown blob. The generated counter only moves when a new blob was
// actually written, so idempotent re-runs never trigger spurious builds.
func (h *Handler) Handle(ctx context.Context, env *pipeline.Envelope, _ *queue.Message) queue.HandlerResult {
	var payload pipeline.RenderPayload
	if err := env.DecodePayload(&payload); err != nil {
		return failed(pipeline.KindBadInput, "", env.CorrelationID, err)
	}
	if err := payload.Validate(); err != nil {
		return failed(pipeline.KindBadInput, "", env.CorrelationID, err)
	}

	log := slog.With("blob", payload.ProcessedBlobPath, "correlation_id", env.CorrelationID)

	article, err := h.loadArticle(ctx, payload.ProcessedBlobPath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The article vanished; retrying cannot bring it back.
			return failed(pipeline.KindBadInput, "", env.CorrelationID, err)
		}
		return failed(pipeline.KindTransientDependency, "", env.CorrelationID, err)
	}

	img := h.selectImage(ctx, article, log)

	content, err := renderMarkdown(article, img)
	if err != nil {
		return failed(pipeline.KindBadInput, article.ArticleID, env.CorrelationID, err)
	}

	mdPath := models.MarkdownBlobPath(article.Category, article.GeneratedAt, article.Slug)
	err = h.store.Put(ctx, config.ContainerMarkdown, mdPath, content, "text/markdown", true)
	if errors.Is(err, storage.ErrBlobExists) {
		log.Info("Markdown already rendered, skipping", "markdown", mdPath)
		return queue.HandlerResult{
			Status: queue.StatusSkipped,
			Stats:  pipeline.StageStats{Processed: 1, Skipped: 1},
		}
	}
	if err != nil {
		return failed(pipeline.KindStorageWrite, article.ArticleID, env.CorrelationID,
			fmt.Errorf("writing markdown %s: %w", mdPath, err))
	}

	h.generated.Inc()
	log.Info("Markdown rendered", "markdown", mdPath, "has_image", img != nil)
	return queue.HandlerResult{
		Status: queue.StatusSuccess,
		Stats:  pipeline.StageStats{Processed: 1, Succeeded: 1},
	}
}

func (h *Handler) loadArticle(ctx context.Context, path string) (*models.ProcessedArticle, error) {
	blob, err := h.store.Get(ctx, config.ContainerProcessed, path)
	if err != nil {
		return nil, fmt.Errorf("loading article %s: %w", path, err)
	}
	var article models.ProcessedArticle
	if err := json.Unmarshal(blob.Data, &article); err != nil {
		return nil, fmt.Errorf("decoding article %s: %w", path, err)
	}
	return &article, nil
}

// selectImage runs the image protocol: deterministic query, round-robin
// dispatch with failover, graceful degradation to no image on exhaustion.
func (h *Handler) selectImage(ctx context.Context, article *models.ProcessedArticle, log *slog.Logger) *images.Image {
	if h.images == nil || !h.images.Enabled() {
		return nil
	}
	img, err := h.images.Select(ctx, imageQuery(article))
	if err != nil {
		log.Warn("No image found, rendering without one", "error", err)
		return nil
	}
	return img
}

// imageQuery builds the deterministic search query from the title plus the
// top tags.
func imageQuery(article *models.ProcessedArticle) string {
	parts := []string{article.Title}
	tags := article.Tags
	if len(tags) > 2 {
		tags = tags[:2]
	}
	parts = append(parts, tags...)
	return strings.Join(parts, " ")
}

// renderMarkdown serializes the front matter and body.
func renderMarkdown(article *models.ProcessedArticle, img *images.Image) ([]byte, error) {
	fm := models.FrontMatter{
		Title:       article.Title,
		Date:        article.GeneratedAt,
		Source:      article.Source,
		Tags:        article.Tags,
		Description: article.Description,
		References:  article.References,
	}
	if img != nil {
		fm.HeroImage = img.URL
		fm.Thumbnail = img.Thumbnail
		fm.ImageCredit = img.Credit
	}

	head, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("marshaling front matter for %s: %w", article.Slug, err)
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(head)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimSpace(article.Content))
	b.WriteString("\n")
	return []byte(b.String()), nil
}

func failed(kind pipeline.Kind, topicID, correlationID string, err error) queue.HandlerResult {
	return queue.HandlerResult{
		Status: queue.StatusFailed,
		Stats:  pipeline.StageStats{Processed: 1, Failed: 1},
		Err:    pipeline.NewStageError(kind, ServiceName, topicID, correlationID, err),
	}
}
