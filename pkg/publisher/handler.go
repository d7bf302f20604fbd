// Package publisher builds the static site from the markdown container and
// atomically replaces the live web container, with backup and rollback.
// The stage runs as a single replica; serial builds are a deployment
// invariant, not an implementation choice.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/storage"
)

// ServiceName stamped on envelopes and deployment results.
const ServiceName = "publisher"

// DeploymentResult is the outcome of one build message.
type DeploymentResult struct {
	Status        string   `json:"status"`
	BuildMS       int64    `json:"build_ms"`
	UploadedFiles int      `json:"uploaded_files"`
	SiteURL       string   `json:"site_url"`
	Errors        []string `json:"errors,omitempty"`
}

// Handler builds and deploys the site.
type Handler struct {
	cfg     *config.PublisherConfig
	store   storage.Store
	builder Builder
}

// NewHandler wires the publisher. The builder is injected so tests can stub
// the generator subprocess.
func NewHandler(cfg *config.PublisherConfig, store storage.Store, builder Builder) *Handler {
	return &Handler{cfg: cfg, store: store, builder: builder}
}

// Handle runs the publish protocol: prepare, build, validate, backup,
// upload, with rollback on upload failure. Validation happens before
// anything destructive touches the live container.
func (h *Handler) Handle(ctx context.Context, env *pipeline.Envelope, _ *queue.Message) queue.HandlerResult {
	var payload pipeline.BuildPayload
	if err := env.DecodePayload(&payload); err != nil {
		return h.failed(pipeline.KindBadInput, payload.BatchID, env.CorrelationID, err)
	}

	log := slog.With("batch_id", payload.BatchID, "correlation_id", env.CorrelationID, "trigger", payload.Trigger)
	log.Info("Site build starting", "markdown_count", payload.MarkdownCount)

	result, err := h.publish(ctx, log)
	if err != nil {
		kind := pipeline.Classify(err)
		var se *pipeline.StageError
		if errors.As(err, &se) {
			kind = se.Kind
		}
		pipeline.SiteBuilds.WithLabelValues("failed").Inc()
		log.Error("Site build failed", "kind", string(kind), "error", err)
		return h.failed(kind, payload.BatchID, env.CorrelationID, err)
	}

	pipeline.SiteBuilds.WithLabelValues("success").Inc()
	log.Info("Site deployed",
		"build_ms", result.BuildMS, "uploaded_files", result.UploadedFiles, "site_url", result.SiteURL)
	return queue.HandlerResult{
		Status: queue.StatusSuccess,
		Stats:  pipeline.StageStats{Processed: 1, Succeeded: 1},
	}
}

func (h *Handler) publish(ctx context.Context, log *slog.Logger) (*DeploymentResult, error) {
	workDir, err := os.MkdirTemp("", "curator-site-*")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	if err := h.prepare(ctx, workDir); err != nil {
		return nil, pipeline.NewStageError(pipeline.KindTransientDependency, ServiceName, "", "", err)
	}

	out, err := h.builder.Build(ctx, workDir)
	if err != nil {
		// Non-zero exit stays retryable: the inputs may heal (e.g. a
		// malformed markdown blob replaced by a re-render).
		return nil, pipeline.NewStageError(pipeline.KindTransientDependency, ServiceName, "", "", err)
	}
	log.Info("Site generator finished", "duration_ms", out.Duration.Milliseconds())

	outputDir := filepath.Join(workDir, "public")
	stats, err := validateOutput(outputDir, h.cfg.OutputMaxMB)
	if err != nil {
		// Builds are reproducible; a validation failure must not loop.
		return nil, pipeline.NewStageError(pipeline.KindBuildFailure, ServiceName, "", "", err)
	}
	log.Info("Output validated", "files", stats.Files, "total_mb", stats.TotalBytes>>20)

	if err := h.backup(ctx, log); err != nil {
		return nil, err
	}

	uploaded, err := h.upload(ctx, outputDir, log)
	if err != nil {
		h.rollback(ctx, log)
		return nil, pipeline.NewStageError(pipeline.KindStorageWrite, ServiceName, "", "", err)
	}

	return &DeploymentResult{
		Status:        "success",
		BuildMS:       out.Duration.Milliseconds(),
		UploadedFiles: uploaded,
		SiteURL:       h.cfg.SiteURL,
	}, nil
}

// prepare copies the pinned site skeleton and streams the markdown blobs
// into the work directory, preserving the category/year prefix layout.
func (h *Handler) prepare(ctx context.Context, workDir string) error {
	if err := copyTree(h.cfg.SiteSourceDir, workDir); err != nil {
		return fmt.Errorf("copying site skeleton: %w", err)
	}

	names, err := h.store.List(ctx, config.ContainerMarkdown, "")
	if err != nil {
		return fmt.Errorf("listing markdown content: %w", err)
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		blob, err := h.store.Get(ctx, config.ContainerMarkdown, name)
		if err != nil {
			return fmt.Errorf("reading markdown %s: %w", name, err)
		}
		target := filepath.Join(workDir, "content", filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("staging markdown %s: %w", name, err)
		}
		if err := os.WriteFile(target, blob.Data, 0o644); err != nil {
			return fmt.Errorf("staging markdown %s: %w", name, err)
		}
	}
	return nil
}

// backup copies the live container to the backup prefix before any
// overwrite. Cancellation-aware: a shutdown mid-backup aborts cleanly and
// never proceeds to destructive steps.
func (h *Handler) backup(ctx context.Context, log *slog.Logger) error {
	names, err := h.store.List(ctx, config.ContainerWeb, "")
	if err != nil {
		return pipeline.NewStageError(pipeline.KindTransientDependency, ServiceName, "", "",
			fmt.Errorf("listing live site: %w", err))
	}
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			log.Warn("Backup cancelled, aborting before destructive steps", "copied", i)
			return pipeline.NewStageError(pipeline.KindCancellation, ServiceName, "", "", err)
		}
		if err := h.store.Copy(ctx, config.ContainerWeb, name, config.ContainerWebBackup, name); err != nil {
			return pipeline.NewStageError(pipeline.KindTransientDependency, ServiceName, "", "",
				fmt.Errorf("backing up %s: %w", name, err))
		}
		if h.cfg.ProgressEvery > 0 && (i+1)%h.cfg.ProgressEvery == 0 {
			log.Info("Backup progress", "copied", i+1, "total", len(names))
		}
	}
	log.Info("Live site backed up", "files", len(names))
	return nil
}

// upload walks the output tree into the live container.
func (h *Handler) upload(ctx context.Context, outputDir string, log *slog.Logger) (int, error) {
	uploaded := 0
	err := filepath.WalkDir(outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(outputDir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading output file %s: %w", rel, err)
		}
		name := filepath.ToSlash(rel)
		if err := h.store.Put(ctx, config.ContainerWeb, name, data, contentTypeFor(name), false); err != nil {
			return fmt.Errorf("uploading %s: %w", name, err)
		}
		uploaded++
		if h.cfg.ProgressEvery > 0 && uploaded%h.cfg.ProgressEvery == 0 {
			log.Info("Upload progress", "uploaded", uploaded)
		}
		return nil
	})
	return uploaded, err
}

// rollback restores the live container from the backup prefix. Best effort
// and cancellation-aware; a partial rollback is logged per file, never
// escalated, because the retried build will overwrite everything anyway.
func (h *Handler) rollback(ctx context.Context, log *slog.Logger) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
	defer cancel()

	log.Warn("Upload failed, rolling back live site")
	names, err := h.store.List(rollbackCtx, config.ContainerWebBackup, "")
	if err != nil {
		log.Error("Rollback failed to list backup", "error", err)
		return
	}
	restored := 0
	for _, name := range names {
		if err := rollbackCtx.Err(); err != nil {
			log.Error("Rollback cancelled", "restored", restored, "total", len(names))
			return
		}
		if err := h.store.Copy(rollbackCtx, config.ContainerWebBackup, name, config.ContainerWeb, name); err != nil {
			log.Error("Rollback failed to restore file", "name", name, "error", err)
			continue
		}
		restored++
		if h.cfg.ProgressEvery > 0 && restored%h.cfg.ProgressEvery == 0 {
			log.Info("Rollback progress", "restored", restored, "total", len(names))
		}
	}
	log.Warn("Rollback complete", "restored", restored, "total", len(names))
}

func (h *Handler) failed(kind pipeline.Kind, batchID, correlationID string, err error) queue.HandlerResult {
	var se *pipeline.StageError
	if !errors.As(err, &se) {
		err = pipeline.NewStageError(kind, ServiceName, batchID, correlationID, err)
	}
	return queue.HandlerResult{
		Status: queue.StatusFailed,
		Stats:  pipeline.StageStats{Processed: 1, Failed: 1},
		Err:    err,
	}
}

// copyTree copies a directory tree, preserving layout.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
}

// contentTypeFor maps output file extensions to MIME types for the web
// container.
func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	case ".json":
		return "application/json"
	case ".xml":
		return "application/xml"
	case ".svg":
		return "image/svg+xml"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".ico":
		return "image/x-icon"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".woff2":
		return "font/woff2"
	default:
		return "application/octet-stream"
	}
}
