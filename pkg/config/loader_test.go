package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestInitializeDefaultsOnly(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Queues.Processor.WorkerCount)
	assert.Equal(t, 1, cfg.Queues.Publisher.WorkerCount)
	assert.Equal(t, 5*time.Minute, cfg.Processor.LeaseTTL)
	assert.Equal(t, 30*time.Second, cfg.Renderer.StableEmpty)
	assert.Equal(t, 200, cfg.Publisher.OutputMaxMB)
	assert.Empty(t, cfg.Sources)
}

func TestInitializeYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "curator.yaml", `
processor:
  lease_ttl: 10m
  rate_limit_per_min: 30
renderer:
  stable_empty: 45s
queues:
  renderer:
    worker_count: 20
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 10*time.Minute, cfg.Processor.LeaseTTL)
	assert.Equal(t, 30, cfg.Processor.RateLimitPerMin)
	assert.Equal(t, 45*time.Second, cfg.Renderer.StableEmpty)
	assert.Equal(t, 20, cfg.Queues.Renderer.WorkerCount)
	// Untouched sections keep their defaults.
	assert.Equal(t, 5, cfg.Queues.Processor.WorkerCount)
}

func TestInitializeSources(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sources.yaml", `
sources:
  hackernews:
    type: forum
    endpoint: https://hn.example.com/v0
    identifier: topstories
    limit: 30
  techfeed:
    type: feed
    endpoint: https://blog.example.com/rss.xml
quality_templates:
  strict:
    min_score: 100
    min_comments: 25
    min_title_length: 20
    threshold: 0.7
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 2)

	// User templates merge over the built-ins.
	strict, err := cfg.GetQualityTemplate("strict")
	require.NoError(t, err)
	assert.Equal(t, 100, strict.MinScore)

	builtin, err := cfg.GetQualityTemplate("forum-default")
	require.NoError(t, err)
	assert.Equal(t, 50, builtin.MinScore)

	_, err = cfg.GetQualityTemplate("missing")
	assert.Error(t, err)
}

func TestInitializeEnvOverrides(t *testing.T) {
	t.Setenv("AUTO_COLLECT_ON_STARTUP", "true")
	t.Setenv("PROCESSOR_RATE_LIMIT_PER_MIN", "15")
	t.Setenv("STABLE_EMPTY_SECONDS", "60")
	t.Setenv("SITE_BUILD_OUTPUT_MAX_MB", "50")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.True(t, cfg.Collector.AutoCollectOnStartup)
	assert.Equal(t, 15, cfg.Processor.RateLimitPerMin)
	assert.Equal(t, 60*time.Second, cfg.Renderer.StableEmpty)
	assert.Equal(t, 50, cfg.Publisher.OutputMaxMB)
}

func TestInitializeEnvExpansionInYAML(t *testing.T) {
	t.Setenv("TEST_FEED_URL", "https://feed.example.com/rss")
	dir := t.TempDir()
	writeFile(t, dir, "sources.yaml", `
sources:
  feed:
    type: feed
    endpoint: "{{.TEST_FEED_URL}}"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "https://feed.example.com/rss", cfg.Sources["feed"].Endpoint)
}

func TestInitializeRejectsInvalidSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sources.yaml", `
sources:
  broken:
    type: carrier-pigeon
    endpoint: https://example.com
`)

	_, err := Initialize(context.Background(), dir)
	assert.Error(t, err)
}

func TestInitializeRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "curator.yaml", "queues: [not a map")

	_, err := Initialize(context.Background(), dir)
	assert.Error(t, err)
}
