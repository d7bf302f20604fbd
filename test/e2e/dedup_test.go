package e2e

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-sh/curator/pkg/config"
)

// TestRecollectionSendsNoDuplicateTopics runs the same source twice.
// The second run must account every item as deduped and add nothing to
// the processing queue.
func TestRecollectionSendsNoDuplicateTopics(t *testing.T) {
	forum := StartForumServer(t, []ForumStory{
		{ID: 201, Title: "Lessons From Operating a Petabyte Object Store",
			URL: "https://store.example.test/petabyte-lessons", Score: 380, Descendants: 120},
		{ID: 202, Title: "The Hidden Costs of Synchronous Replication",
			URL: "https://db.example.test/sync-replication-costs", Score: 295, Descendants: 88},
		{ID: 203, Title: "Benchmarking TLS Handshakes Across Load Balancers",
			URL: "https://net.example.test/tls-handshake-bench", Score: 210, Descendants: 64},
	})

	app := NewTestApp(t,
		WithStages("collector"),
		WithSource("hn", &config.SourceConfig{Type: config.SourceTypeForum, Endpoint: forum.URL, Limit: 10}),
	)

	firstRun := app.TriggerCollect(t)
	firstBlobs := app.WaitForBlobs(t, config.ContainerCollected, "collections/", 1)
	app.WaitForQueueDeleted(t, config.QueueCollectionRequests)

	first := app.LoadCollection(t, firstBlobs[0])
	assert.Equal(t, firstRun, first.CollectionID, "manual run id becomes the collection id")
	assert.Equal(t, 3, first.AcceptedCount)
	assert.Zero(t, first.DedupedCount)
	assert.Equal(t, 3, app.Queue.Len(config.QueueProcessing), "one topic message per accepted item")

	app.TriggerCollect(t)
	bothBlobs := app.WaitForBlobs(t, config.ContainerCollected, "collections/", 2)
	app.WaitForQueueDeleted(t, config.QueueCollectionRequests)

	var secondName string
	for _, name := range bothBlobs {
		if name != firstBlobs[0] {
			secondName = name
		}
	}
	require.NotEmpty(t, secondName)

	second := app.LoadCollection(t, secondName)
	assert.Zero(t, second.AcceptedCount, "everything was seen in the dedup window")
	assert.Zero(t, second.RejectedCount)
	assert.Equal(t, 3, second.DedupedCount)

	assert.Equal(t, 3, app.Queue.Len(config.QueueProcessing),
		"recollection must not fan out duplicate topics")
}
