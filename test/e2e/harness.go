// Package e2e runs whole-pipeline scenarios against in-memory adapters:
// real worker pools, real handlers, real admin API, with the LLM provider,
// content sources, and site generator replaced by scripted fixtures.
package e2e

import (
	"context"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/curator-sh/curator/pkg/api"
	"github.com/curator-sh/curator/pkg/collector"
	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/images"
	"github.com/curator-sh/curator/pkg/lease"
	"github.com/curator-sh/curator/pkg/pipeline"
	"github.com/curator-sh/curator/pkg/processor"
	"github.com/curator-sh/curator/pkg/publisher"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/reconcile"
	"github.com/curator-sh/curator/pkg/renderer"
	"github.com/curator-sh/curator/pkg/storage"
)

// TestApp is one curator replica wired like cmd/curator serve, with
// in-memory storage and queue adapters. Tests share adapters between
// multiple TestApps to simulate multi-replica deployments.
type TestApp struct {
	T         *testing.T
	Config    *config.Config
	Store     storage.Store
	Queue     *queue.MemQueue
	Leases    *lease.Manager
	LLM       *ScriptedLLMClient
	Builder   *StubBuilder
	Server    *api.Server
	BaseURL   string
	ReplicaID string
	SiteDir   string

	ctx      context.Context
	cancel   context.CancelFunc
	pools    []*queue.WorkerPool
	httpSrv  *httptest.Server
	stopOnce sync.Once
}

type testAppConfig struct {
	stages           map[string]bool
	replicaID        string
	store            storage.Store
	queue            *queue.MemQueue
	llm              *ScriptedLLMClient
	builder          *StubBuilder
	sources          map[string]*config.SourceConfig
	imageEndpoint    string
	processorWorkers int
	edits            []func(*config.Config)
}

// TestAppOption customizes TestApp creation.
type TestAppOption func(*testAppConfig)

// WithStages limits the replica to the named stages. Default is all four.
func WithStages(stages ...string) TestAppOption {
	return func(tc *testAppConfig) {
		tc.stages = make(map[string]bool)
		for _, s := range stages {
			tc.stages[s] = true
		}
	}
}

// WithReplicaID sets the replica identity used for leases and logging.
func WithReplicaID(id string) TestAppOption {
	return func(tc *testAppConfig) { tc.replicaID = id }
}

// WithStore shares or wraps the object store. Pass the same store to two
// TestApps to simulate replicas over one backing account.
func WithStore(store storage.Store) TestAppOption {
	return func(tc *testAppConfig) { tc.store = store }
}

// WithQueue shares the queue between TestApps.
func WithQueue(q *queue.MemQueue) TestAppOption {
	return func(tc *testAppConfig) { tc.queue = q }
}

// WithLLMClient injects a scripted LLM client. Default is an empty script,
// so any unscripted call fails the topic visibly.
func WithLLMClient(client *ScriptedLLMClient) TestAppOption {
	return func(tc *testAppConfig) { tc.llm = client }
}

// WithBuilder injects the site generator stub.
func WithBuilder(b *StubBuilder) TestAppOption {
	return func(tc *testAppConfig) { tc.builder = b }
}

// WithSource registers a content source backed by a fixture server.
func WithSource(name string, sc *config.SourceConfig) TestAppOption {
	return func(tc *testAppConfig) { tc.sources[name] = sc }
}

// WithImageServer enables one stock image source at the given endpoint.
func WithImageServer(endpoint string) TestAppOption {
	return func(tc *testAppConfig) { tc.imageEndpoint = endpoint }
}

// WithProcessorWorkers overrides the processor worker count.
func WithProcessorWorkers(n int) TestAppOption {
	return func(tc *testAppConfig) { tc.processorWorkers = n }
}

// WithConfigEdit mutates the loaded configuration before stages are wired.
func WithConfigEdit(fn func(*config.Config)) TestAppOption {
	return func(tc *testAppConfig) { tc.edits = append(tc.edits, fn) }
}

// NewTestApp builds and starts a replica. Cleanup is registered on t; tests
// that assert shutdown behavior call Shutdown explicitly instead.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{
		stages:           map[string]bool{"collector": true, "processor": true, "renderer": true, "publisher": true},
		replicaID:        "curator-test-0",
		sources:          make(map[string]*config.SourceConfig),
		processorWorkers: 2,
	}
	for _, opt := range opts {
		opt(tc)
	}

	// 1. Config directory with test timings, fixture sources, and the
	// site skeleton the publisher copies into its work directory.
	siteDir := writeSiteSkeleton(t)
	configDir := writeConfigDir(t, tc, siteDir)

	ctx, cancel := context.WithCancel(context.Background())
	cfg, err := config.Initialize(ctx, configDir)
	require.NoError(t, err, "config should initialize")

	// Knobs YAML cannot express: a false overlay never beats a true
	// default in the merge, and worker counts are per-test.
	cfg.Processor.TitleOptions = false
	cfg.Queues.Processor.WorkerCount = tc.processorWorkers
	for _, edit := range tc.edits {
		edit(cfg)
	}

	// 2. Adapters, shared when injected.
	store := tc.store
	if store == nil {
		store = storage.NewMemStore()
	}
	q := tc.queue
	if q == nil {
		q = queue.NewMemQueue()
	}
	leases := lease.NewManager(store, config.ContainerLeases)

	// 3. Startup orphan lease sweep, matching production boot.
	if tc.stages["processor"] {
		_, err := leases.ReleaseAllHeldBy(ctx, tc.replicaID)
		require.NoError(t, err, "orphan lease sweep should succeed")
	}

	// 4. Admin server skeleton.
	server := api.NewServer(cfg, nil, store, q)
	server.SetReconciler(reconcile.NewReconciler(store, q))

	llmClient := tc.llm
	if llmClient == nil {
		llmClient = NewScriptedLLMClient()
	}
	builder := tc.builder
	if builder == nil {
		builder = NewStubBuilder()
	}

	app := &TestApp{
		T:         t,
		Config:    cfg,
		Store:     store,
		Queue:     q,
		Leases:    leases,
		LLM:       llmClient,
		Builder:   builder,
		Server:    server,
		ReplicaID: tc.replicaID,
		SiteDir:   siteDir,
		ctx:       ctx,
		cancel:    cancel,
	}

	startPool := func(pool *queue.WorkerPool) {
		require.NoError(t, pool.Start(ctx), "worker pool should start")
		app.pools = append(app.pools, pool)
		server.RegisterPool(pool)
	}

	// 5. Collector stage.
	if tc.stages["collector"] {
		coll := collector.NewCollector(cfg, store, q, tc.replicaID)
		startPool(queue.NewWorkerPool(tc.replicaID, "collector", q,
			config.QueueCollectionRequests, cfg.Queues.Collector,
			map[pipeline.Operation]queue.Handler{
				pipeline.OpCollect: collector.NewHandler(coll),
			}))
		go coll.RunStartup(ctx)
		go coll.RunPeriodic(ctx)
	}

	// 6. Processor stage with the scripted client in the provider's seat.
	if tc.stages["processor"] {
		startPool(queue.NewWorkerPool(tc.replicaID, "processor", q,
			config.QueueProcessing, cfg.Queues.Processor,
			map[pipeline.Operation]queue.Handler{
				pipeline.OpProcessTopic: processor.NewHandler(
					cfg.Processor, store, q, leases, llmClient, tc.replicaID),
			}))
	}

	// 7. Renderer stage plus drain monitor.
	if tc.stages["renderer"] {
		dispatcher, err := images.NewDispatcher(cfg.Images)
		require.NoError(t, err, "image dispatcher should build")
		counter := &renderer.Counter{}
		startPool(queue.NewWorkerPool(tc.replicaID, "renderer", q,
			config.QueueMarkdown, cfg.Queues.Renderer,
			map[pipeline.Operation]queue.Handler{
				pipeline.OpRenderMarkdown: renderer.NewHandler(store, dispatcher, counter),
			}))
		monitor := renderer.NewDrainMonitor(cfg.Renderer, q, counter, tc.replicaID)
		go monitor.Run(ctx)
	}

	// 8. Publisher stage with the stub generator.
	if tc.stages["publisher"] {
		startPool(queue.NewWorkerPool(tc.replicaID, "publisher", q,
			config.QueuePublishing, cfg.Queues.Publisher,
			map[pipeline.Operation]queue.Handler{
				pipeline.OpPublishSite: publisher.NewHandler(cfg.Publisher, store, builder),
			}))
	}

	// 9. Admin API on a random port.
	app.httpSrv = httptest.NewServer(server.Router())
	app.BaseURL = app.httpSrv.URL

	t.Cleanup(app.Shutdown)
	return app
}

// Shutdown stops the replica the way serve does: cancel the app context,
// drain worker pools in reverse start order inside the grace window, then
// close the admin server. Safe to call more than once.
func (app *TestApp) Shutdown() {
	app.stopOnce.Do(func() {
		app.cancel()

		done := make(chan struct{})
		go func() {
			for i := len(app.pools) - 1; i >= 0; i-- {
				app.pools[i].Stop()
			}
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(app.Config.Queues.GracefulShutdownTimeout):
			app.T.Log("shutdown grace window exceeded, workers abandoned")
		}

		if app.httpSrv != nil {
			app.httpSrv.Close()
		}
	})
}

// writeSiteSkeleton creates the pinned site-generator source directory the
// publisher stages markdown into.
func writeSiteSkeleton(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"hugo.toml":               "baseURL = \"https://curated.example.test/\"\ntitle = \"Curated\"\n",
		"themes/plain/theme.toml": "name = \"Plain\"\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// curatorYAML is the test timing profile: fast polls, short visibility
// windows so redelivery happens within a test run, and a drain window
// short enough to observe coalescing without slowing the suite.
const curatorYAML = `queues:
  collector:
    worker_count: 1
    visibility_timeout: 5s
    poll_interval: 20ms
    poll_interval_jitter: 10ms
    handler_timeout: 4s
  processor:
    worker_count: 2
    visibility_timeout: 2s
    poll_interval: 20ms
    poll_interval_jitter: 10ms
    handler_timeout: 1900ms
  renderer:
    worker_count: 2
    visibility_timeout: 2s
    poll_interval: 20ms
    poll_interval_jitter: 10ms
    handler_timeout: 1900ms
  publisher:
    worker_count: 1
    visibility_timeout: 3s
    poll_interval: 20ms
    poll_interval_jitter: 10ms
    handler_timeout: 2900ms
  graceful_shutdown_timeout: 5s
collector:
  dedup_window: 36h
  fetch_timeout: 2s
  send_retries: 2
processor:
  lease_ttl: 30s
  rate_limit_per_min: 6000
  default_category: tech
renderer:
  stable_empty: 150ms
  drain_check_interval: 25ms
publisher:
  site_source_dir: %s
  generator_binary: site-builder-stub
  output_max_mb: 50
  build_timeout: 10s
  progress_every: 500
  site_url: https://curated.example.test
llm:
  base_url: http://llm.invalid/v1
  api_key_env: CURATOR_E2E_LLM_KEY
  model: scripted
  max_attempts: 2
`

const imagesYAML = `images:
  strategy: dual-roundrobin
  request_timeout: 2s
  sources:
    - name: stock-a
      endpoint: %s
      api_key_env: CURATOR_E2E_IMAGE_KEY
      requests_per_hour: 60000
`

// writeConfigDir writes curator.yaml and sources.yaml into a temp dir for
// config.Initialize.
func writeConfigDir(t *testing.T, tc *testAppConfig, siteDir string) string {
	t.Helper()
	dir := t.TempDir()

	curator := fmt.Sprintf(curatorYAML, siteDir)
	if tc.imageEndpoint != "" {
		t.Setenv("CURATOR_E2E_IMAGE_KEY", "img-fixture-key")
		curator += fmt.Sprintf(imagesYAML, tc.imageEndpoint)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "curator.yaml"), []byte(curator), 0o644))

	if len(tc.sources) > 0 {
		raw, err := yaml.Marshal(&config.SourcesYAML{Sources: tc.sources})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, "sources.yaml"), raw, 0o644))
	}
	return dir
}
