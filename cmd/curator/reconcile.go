package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/curator-sh/curator/pkg/database"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/reconcile"
	"github.com/curator-sh/curator/pkg/storage"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and exit",
		Long: `Scan the processed container for articles with no rendered markdown and
re-emit render requests; force a publish when markdown exists that the live
site has never seen. Intended for operators and cron.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")
			return runReconcile(cmd, configDir)
		},
	}
}

func runReconcile(cmd *cobra.Command, configDir string) error {
	envPath := filepath.Join(configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("loading database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer func() { _ = dbClient.Close() }()

	r := reconcile.NewReconciler(storage.NewPGStore(dbClient), queue.NewPGQueue(dbClient))
	result, err := r.Run(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation: %w", err)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
