package e2e

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-sh/curator/pkg/config"
)

// TestPipelineEndToEnd drives the full path: two sources are collected,
// every accepted item becomes exactly one article and one markdown file,
// the drained markdown queue coalesces into a single build, and the built
// site lands in the live container.
func TestPipelineEndToEnd(t *testing.T) {
	forum := StartForumServer(t, []ForumStory{
		{ID: 101, Title: "Why Write-Ahead Logs Power Modern Databases",
			URL: "https://blog.example.test/wal-internals", Score: 412, Descendants: 183},
		{ID: 102, Title: "Profiling Memory Allocations in Production Services",
			URL: "https://eng.example.test/memory-profiling", Score: 256, Descendants: 74},
		// Self post: no URL, the discussion itself is the link.
		{ID: 103, Title: "A Field Guide to Consistent Hashing at Scale",
			Text: "We rebalanced 40TB without downtime, ask us anything.", Score: 198, Descendants: 91},
	})
	feed := StartFeedServer(t, []FeedEntry{
		{Title: "Rolling Out Zero-Downtime Schema Migrations",
			Link: "https://db.example.test/posts/zero-downtime-migrations", GUID: "zdm-2026"},
		{Title: "Observability Lessons From a Cascading Outage",
			Link: "https://sre.example.test/posts/cascading-outage"},
		{Title: "Designing Rate Limiters for Bursty Workloads",
			Link: "https://api.example.test/posts/rate-limiter-design", GUID: "rl-2026",
			Description: "Token buckets, sliding windows, and when each fits."},
	})
	imageSrv := StartImageServer(t)

	llmClient := NewScriptedLLMClient()
	llmClient.SetFallback(DraftJSON)

	app := NewTestApp(t,
		WithSource("hn", &config.SourceConfig{Type: config.SourceTypeForum, Endpoint: forum.URL, Limit: 10}),
		WithSource("eng-blogs", &config.SourceConfig{Type: config.SourceTypeFeed, Endpoint: feed.URL, Limit: 10}),
		WithImageServer(imageSrv.URL),
		WithLLMClient(llmClient),
		// Widen the drain window so a scheduler hiccup between renders
		// cannot split the batch into two builds.
		WithConfigEdit(func(cfg *config.Config) {
			cfg.Renderer.StableEmpty = 300 * time.Millisecond
		}),
	)

	app.TriggerCollect(t)

	// One audit blob with full accounting, written before any fanout.
	collections := app.WaitForBlobs(t, config.ContainerCollected, "collections/", 1)
	coll := app.LoadCollection(t, collections[0])
	assert.Equal(t, 6, coll.AcceptedCount, "all fixture items pass quality")
	assert.Zero(t, coll.RejectedCount)
	assert.Zero(t, coll.DedupedCount)
	assert.ElementsMatch(t, []string{"hn", "eng-blogs"}, coll.Sources)
	assert.Len(t, coll.Items, 6)

	// Every topic becomes exactly one article and one markdown file.
	articleNames := app.WaitForBlobs(t, config.ContainerProcessed, "articles/", 6)
	markdownNames := app.WaitForBlobs(t, config.ContainerMarkdown, "tech/", 6)

	// The drained queue coalesces into a single build, then deploys:
	// one index plus one pretty-URL page per article.
	app.WaitForBuilds(t, 1)
	webFiles := app.WaitForBlobs(t, config.ContainerWeb, "", 7)
	assert.Contains(t, webFiles, "index.html")

	for _, name := range []string{
		config.QueueCollectionRequests,
		config.QueueProcessing,
		config.QueueMarkdown,
		config.QueuePublishing,
	} {
		app.WaitForQueueDeleted(t, name)
	}
	assert.Equal(t, 1, app.Builder.Builds(), "drained renders coalesce into one build")
	assert.Equal(t, 6, llmClient.CallCount(), "one generation call per topic")

	// Article integrity: category, accounting, provenance chain.
	article := app.LoadArticle(t, articleNames[0])
	assert.Equal(t, "tech", article.Category)
	assert.NotEmpty(t, article.Slug)
	assert.InDelta(t, 0.04, article.CostUSD, 1e-9)
	require.Len(t, article.Provenance, 1)
	assert.Equal(t, "processor", article.Provenance[0].Stage)
	assert.Equal(t, app.ReplicaID, article.Provenance[0].ProcessorID)

	// Markdown carries front matter including the selected hero image.
	for _, name := range markdownNames {
		md := app.BlobString(t, config.ContainerMarkdown, name)
		assert.True(t, strings.HasPrefix(md, "---\n"), "markdown %s should open with front matter", name)
		assert.Contains(t, md, "hero_image: https://img.example.test/full/")
		assert.Contains(t, md, "image_credit: Fixture Photographer")
	}

	// No leftover leases, no failure records.
	leases, err := app.Store.List(context.Background(), config.ContainerLeases, "")
	require.NoError(t, err)
	assert.Empty(t, leases, "all topic leases released")
	failures, err := app.Store.List(context.Background(), config.ContainerProcessed, "failures/")
	require.NoError(t, err)
	assert.Empty(t, failures)

	// A deployed page embeds its source markdown.
	var pageName string
	for _, name := range webFiles {
		if name != "index.html" && strings.HasSuffix(name, "/index.html") {
			pageName = name
			break
		}
	}
	require.NotEmpty(t, pageName, "deployment should contain article pages")
	page := app.BlobString(t, config.ContainerWeb, pageName)
	assert.Contains(t, page, "<article>")
	assert.Contains(t, page, "title:")

	// Admin surface agrees with the quiesced state.
	health := app.GetJSON(t, "/health", http.StatusOK)
	assert.Equal(t, "healthy", health["status"])
	status := app.GetJSON(t, "/api/v1/status", http.StatusOK)
	assert.Len(t, status["worker_pools"], 4)
	queues, ok := status["queues"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 0, queues[config.QueueProcessing])

	// Reconciliation over a consistent pipeline re-emits nothing.
	recon := app.PostJSON(t, "/api/v1/reconcile", nil, http.StatusOK)
	assert.EqualValues(t, 6, recon["articles_scanned"])
	assert.EqualValues(t, 0, recon["render_re_emitted"])
	assert.Equal(t, false, recon["publish_forced"])
}
