package e2e

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/storage"
)

// limitedStore fails Puts into one container once a budget is spent.
// Copies pass through, so backup and rollback keep working during the
// simulated outage.
type limitedStore struct {
	storage.Store
	mu        sync.Mutex
	container string
	remaining int
}

func (s *limitedStore) Put(ctx context.Context, container, name string, data []byte, contentType string, ifNoneMatch bool) error {
	if container == s.container {
		s.mu.Lock()
		if s.remaining == 0 {
			s.mu.Unlock()
			return errors.New("simulated storage outage")
		}
		if s.remaining > 0 {
			s.remaining--
		}
		s.mu.Unlock()
	}
	return s.Store.Put(ctx, container, name, data, contentType, ifNoneMatch)
}

func (s *limitedStore) heal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remaining = -1
}

// TestUploadFailureRollsBackLiveSite makes the upload die partway through a
// deployment. The live container must be restored from backup, the build
// message must survive for redelivery, and the retry after the outage must
// deploy the new site.
func TestUploadFailureRollsBackLiveSite(t *testing.T) {
	const (
		legacyIndex = "<!doctype html><html><body><h1>Legacy Site</h1></body></html>"
		legacyAbout = "<!doctype html><html><body><p>About the legacy site.</p></body></html>"
	)

	ctx := context.Background()
	mem := storage.NewMemStore()
	require.NoError(t, mem.Put(ctx, config.ContainerWeb, "index.html", []byte(legacyIndex), "text/html", false))
	require.NoError(t, mem.Put(ctx, config.ContainerWeb, "about/index.html", []byte(legacyAbout), "text/html", false))

	md := "---\ntitle: Seeded Article\ndate: 2026-08-25T00:00:00Z\nsource: hn\ntags:\n    - tools\n---\n\n## Body\n\nContent.\n"
	require.NoError(t, mem.Put(ctx, config.ContainerMarkdown, "tech/2026/alpha-article.md", []byte(md), "text/markdown", false))
	require.NoError(t, mem.Put(ctx, config.ContainerMarkdown, "tech/2026/beta-article.md", []byte(md), "text/markdown", false))

	// Budget of one: the new index uploads, the first article page fails.
	flaky := &limitedStore{Store: mem, container: config.ContainerWeb, remaining: 1}
	app := NewTestApp(t, WithStages("publisher"), WithStore(flaky))

	app.TriggerPublish(t)

	require.Eventually(t, func() bool {
		return app.Builder.Builds() >= 1
	}, waitTimeout, waitTick, "build should run before the upload fails")

	// Rollback restores the legacy index the partial upload overwrote.
	require.Eventually(t, func() bool {
		blob, err := mem.Get(ctx, config.ContainerWeb, "index.html")
		return err == nil && string(blob.Data) == legacyIndex
	}, waitTimeout, waitTick, "live index should be restored from backup")

	// The live container is exactly the legacy site again.
	names, err := mem.List(ctx, config.ContainerWeb, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"about/index.html", "index.html"}, names)
	assert.Equal(t, legacyAbout, app.BlobString(t, config.ContainerWeb, "about/index.html"))

	// Backup captured the pre-deployment site, and the message survived.
	backupNames, err := mem.List(ctx, config.ContainerWebBackup, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"about/index.html", "index.html"}, backupNames)
	assert.Equal(t, 1, app.Queue.Len(config.QueuePublishing),
		"storage failures are retryable, the build message must survive")

	flaky.heal()

	// Redelivery deploys the full new site.
	app.WaitForQueueDeleted(t, config.QueuePublishing)
	assert.GreaterOrEqual(t, app.Builder.Builds(), 2, "redelivery rebuilds")

	index := app.BlobString(t, config.ContainerWeb, "index.html")
	assert.NotEqual(t, legacyIndex, index)
	assert.Contains(t, index, "<h1>Curated</h1>")

	pages, err := mem.List(ctx, config.ContainerWeb, "tech/")
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]string{"tech/2026/alpha-article/index.html", "tech/2026/beta-article/index.html"}, pages)

	// Upload overwrites, it does not prune: the legacy about page stays
	// until a generator output replaces it.
	exists, err := mem.Exists(ctx, config.ContainerWeb, "about/index.html")
	require.NoError(t, err)
	assert.True(t, exists)
}
