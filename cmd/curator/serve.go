package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/curator-sh/curator/pkg/api"
	"github.com/curator-sh/curator/pkg/collector"
	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/database"
	"github.com/curator-sh/curator/pkg/images"
	"github.com/curator-sh/curator/pkg/lease"
	"github.com/curator-sh/curator/pkg/llm"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/processor"
	"github.com/curator-sh/curator/pkg/publisher"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/ratelimit"
	"github.com/curator-sh/curator/pkg/reconcile"
	"github.com/curator-sh/curator/pkg/renderer"
	"github.com/curator-sh/curator/pkg/storage"
)

// stageNames are the stages serve can run. "all" expands to every stage.
var stageNames = []string{"collector", "processor", "renderer", "publisher"}

func newServeCmd() *cobra.Command {
	var stagesFlag []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run pipeline stages",
		Long: `Run one or more pipeline stages in this process. Production deployments
run one stage per replica set; local runs use --stages all.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runServe(configDir, expandStages(stagesFlag))
		},
	}
	cmd.Flags().StringSliceVar(&stagesFlag, "stages", []string{"all"},
		"Stages to run: collector, processor, renderer, publisher, or all")
	return cmd
}

func expandStages(flags []string) map[string]bool {
	stages := make(map[string]bool)
	for _, s := range flags {
		if strings.EqualFold(s, "all") {
			for _, name := range stageNames {
				stages[name] = true
			}
			continue
		}
		stages[strings.ToLower(s)] = true
	}
	return stages
}

func runServe(configDir string, stages map[string]bool) error {
	// Load .env file from config directory
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	replicaID := resolveReplicaID()

	slog.Info("Starting curator",
		"http_port", httpPort,
		"replica_id", replicaID,
		"config_dir", configDir,
		"stages", stageList(stages))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("initializing configuration: %w", err)
	}

	// 2. Initialize storage and queue adapters
	dbClient, store, q, err := buildAdapters(ctx)
	if err != nil {
		return err
	}
	if dbClient != nil {
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
	}

	leases := lease.NewManager(store, config.ContainerLeases)

	// 3. One-time startup orphan lease sweep: a crashed predecessor with the
	// same replica identity must not block its own topics until TTL expiry.
	if stages["processor"] {
		if _, err := leases.ReleaseAllHeldBy(ctx, replicaID); err != nil {
			slog.Error("Failed to sweep orphan leases", "error", err)
			// Non-fatal, expired leases are taken over anyway
		}
	}

	// 4. Admin HTTP server skeleton; pools register as stages come up
	httpServer := api.NewServer(cfg, dbClient, store, q)
	httpServer.SetReconciler(reconcile.NewReconciler(store, q))

	var pools []*queue.WorkerPool
	startPool := func(pool *queue.WorkerPool) error {
		if err := pool.Start(ctx); err != nil {
			return err
		}
		pools = append(pools, pool)
		httpServer.RegisterPool(pool)
		return nil
	}

	// 5. Collector stage
	if stages["collector"] {
		coll := collector.NewCollector(cfg, store, q, replicaID)
		pool := queue.NewWorkerPool(replicaID, "collector", q,
			config.QueueCollectionRequests, cfg.Queues.Collector,
			map[pipeline.Operation]queue.Handler{
				pipeline.OpCollect: collector.NewHandler(coll),
			})
		if err := startPool(pool); err != nil {
			return fmt.Errorf("starting collector pool: %w", err)
		}
		go coll.RunStartup(ctx)
		go coll.RunPeriodic(ctx)
	}

	// 6. Processor stage
	var llmClient llm.Client
	if stages["processor"] {
		limiter := ratelimit.New("llm", cfg.Processor.RateLimitPerMin, 5)
		httpServer.RegisterLimiter(limiter)

		llmClient, err = llm.NewOpenAIClient(cfg.LLM, limiter)
		if err != nil {
			return fmt.Errorf("initializing LLM client: %w", err)
		}
		defer func() {
			if err := llmClient.Close(); err != nil {
				slog.Error("Error closing LLM client", "error", err)
			}
		}()

		pool := queue.NewWorkerPool(replicaID, "processor", q,
			config.QueueProcessing, cfg.Queues.Processor,
			map[pipeline.Operation]queue.Handler{
				pipeline.OpProcessTopic: processor.NewHandler(
					cfg.Processor, store, q, leases, llmClient, replicaID),
			})
		if err := startPool(pool); err != nil {
			return fmt.Errorf("starting processor pool: %w", err)
		}
	}

	// 7. Renderer stage
	if stages["renderer"] {
		dispatcher, err := images.NewDispatcher(cfg.Images)
		if err != nil {
			return fmt.Errorf("initializing image sources: %w", err)
		}
		counter := &renderer.Counter{}
		pool := queue.NewWorkerPool(replicaID, "renderer", q,
			config.QueueMarkdown, cfg.Queues.Renderer,
			map[pipeline.Operation]queue.Handler{
				pipeline.OpRenderMarkdown: renderer.NewHandler(store, dispatcher, counter),
			})
		if err := startPool(pool); err != nil {
			return fmt.Errorf("starting renderer pool: %w", err)
		}
		monitor := renderer.NewDrainMonitor(cfg.Renderer, q, counter, replicaID)
		go monitor.Run(ctx)
	}

	// 8. Publisher stage (serial; worker_count=1 enforced by validation)
	if stages["publisher"] {
		builder := publisher.NewExecBuilder(cfg.Publisher.GeneratorBinary, cfg.Publisher.BuildTimeout)
		pool := queue.NewWorkerPool(replicaID, "publisher", q,
			config.QueuePublishing, cfg.Queues.Publisher,
			map[pipeline.Operation]queue.Handler{
				pipeline.OpPublishSite: publisher.NewHandler(cfg.Publisher, store, builder),
			})
		if err := startPool(pool); err != nil {
			return fmt.Errorf("starting publisher pool: %w", err)
		}
	}

	// 9. Start HTTP server (non-blocking)
	errCh := httpServer.Start(":" + httpPort)

	cfgStats := cfg.Stats()
	slog.Info("Curator started successfully",
		"replica_id", replicaID,
		"stages", stageList(stages),
		"sources", cfgStats.Sources,
		"image_sources", cfgStats.ImageSources)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop background loops, drain workers, then HTTP
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		cfg.Queues.GracefulShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		for _, pool := range pools {
			pool.Stop()
		}
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Worker pools stopped gracefully")
	case <-shutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, in-flight messages will be redelivered")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// buildAdapters creates the storage and queue adapters. STORAGE_BACKEND
// selects postgres (deployment) or memory (single-process local runs).
func buildAdapters(ctx context.Context) (*database.Client, storage.Store, queue.Queue, error) {
	backend := getEnv("STORAGE_BACKEND", "postgres")
	switch backend {
	case "memory":
		slog.Warn("Using in-memory adapters; state is lost on restart")
		return nil, storage.NewMemStore(), queue.NewMemQueue(), nil
	case "postgres":
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading database config: %w", err)
		}
		dbClient, err := database.NewClient(ctx, dbConfig)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		slog.Info("Connected to PostgreSQL database")
		return dbClient, storage.NewPGStore(dbClient), queue.NewPGQueue(dbClient), nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown STORAGE_BACKEND %q", backend)
	}
}

func stageList(stages map[string]bool) string {
	var enabled []string
	for _, name := range stageNames {
		if stages[name] {
			enabled = append(enabled, name)
		}
	}
	return strings.Join(enabled, ",")
}
