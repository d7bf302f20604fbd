// Package reconcile closes the atomicity gap between "wrote artifact" and
// "sent downstream message". It scans the processed container for articles
// with no rendered markdown and re-emits render requests, and forces a
// publish when markdown exists that the live site has never seen.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/models"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/storage"
)

// ServiceName stamped on re-emitted envelopes.
const ServiceName = "reconciler"

// Reconciler scans containers and re-emits lost downstream work.
type Reconciler struct {
	store storage.Store
	queue queue.Queue
}

// NewReconciler wires the reconciler to the shared adapters.
func NewReconciler(store storage.Store, q queue.Queue) *Reconciler {
	return &Reconciler{store: store, queue: q}
}

// Result summarizes one reconciliation pass.
type Result struct {
	ArticlesScanned int  `json:"articles_scanned"`
	RenderReEmitted int  `json:"render_re_emitted"`
	PublishForced   bool `json:"publish_forced"`
}

// Run executes one full pass. Individual re-emit failures are logged and
// counted against the next pass; the scan itself failing is the only error.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	result := &Result{}

	if err := r.reconcileRenders(ctx, result); err != nil {
		return nil, err
	}
	if err := r.reconcilePublish(ctx, result); err != nil {
		return nil, err
	}

	slog.Info("Reconciliation pass complete",
		"articles_scanned", result.ArticlesScanned,
		"render_re_emitted", result.RenderReEmitted,
		"publish_forced", result.PublishForced)
	return result, nil
}

// reconcileRenders re-emits a render request for every processed article
// whose markdown blob is missing.
func (r *Reconciler) reconcileRenders(ctx context.Context, result *Result) error {
	names, err := r.store.List(ctx, config.ContainerProcessed, "articles/")
	if err != nil {
		return fmt.Errorf("listing processed articles: %w", err)
	}

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.ArticlesScanned++

		blob, err := r.store.Get(ctx, config.ContainerProcessed, name)
		if err != nil {
			slog.Warn("Skipping unreadable article", "blob", name, "error", err)
			continue
		}
		var article models.ProcessedArticle
		if err := json.Unmarshal(blob.Data, &article); err != nil {
			slog.Warn("Skipping malformed article", "blob", name, "error", err)
			continue
		}

		mdPath := models.MarkdownBlobPath(article.Category, article.GeneratedAt, article.Slug)
		exists, err := r.store.Exists(ctx, config.ContainerMarkdown, mdPath)
		if err != nil {
			return fmt.Errorf("checking markdown %s: %w", mdPath, err)
		}
		if exists {
			continue
		}

		env, err := pipeline.NewEnvelope(ServiceName, pipeline.OpRenderMarkdown, "",
			&pipeline.RenderPayload{ProcessedBlobPath: name})
		if err != nil {
			return err
		}
		if err := queue.SendEnvelope(ctx, r.queue, config.QueueMarkdown, env); err != nil {
			slog.Error("Failed to re-emit render request", "blob", name, "error", err)
			continue
		}
		slog.Info("Re-emitted render request", "blob", name, "markdown", mdPath)
		result.RenderReEmitted++
	}
	return nil
}

// reconcilePublish forces one build when markdown content exists that the
// live site does not reflect. The mapping from a markdown path
// <category>/<year>/<slug>.md to its published page is
// <category>/<year>/<slug>/index.html under the generator's pretty-URL
// layout.
func (r *Reconciler) reconcilePublish(ctx context.Context, result *Result) error {
	// Nothing to force while renders are still outstanding; the drain
	// monitor owns that path.
	if result.RenderReEmitted > 0 {
		return nil
	}

	markdown, err := r.store.List(ctx, config.ContainerMarkdown, "")
	if err != nil {
		return fmt.Errorf("listing markdown content: %w", err)
	}

	stale := false
	for _, name := range markdown {
		if err := ctx.Err(); err != nil {
			return err
		}
		page := strings.TrimSuffix(name, ".md") + "/index.html"
		exists, err := r.store.Exists(ctx, config.ContainerWeb, page)
		if err != nil {
			return fmt.Errorf("checking page %s: %w", page, err)
		}
		if !exists {
			slog.Info("Markdown missing from live site", "markdown", name, "page", page)
			stale = true
			break
		}
	}
	if !stale {
		return nil
	}

	env, err := pipeline.NewEnvelope(ServiceName, pipeline.OpPublishSite, "", &pipeline.BuildPayload{
		BatchID: uuid.NewString(),
		Trigger: "manual",
	})
	if err != nil {
		return err
	}
	if err := queue.SendEnvelope(ctx, r.queue, config.QueuePublishing, env); err != nil {
		return fmt.Errorf("forcing publish: %w", err)
	}
	result.PublishForced = true
	return nil
}
