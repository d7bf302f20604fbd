package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/pkg/storage"
)

// TestLeaseContentionAcrossReplicas delivers the same topic twice to two
// processor replicas sharing one store and queue. The lease admits exactly
// one generation; the other replica backs off and its redelivery finds the
// done marker.
func TestLeaseContentionAcrossReplicas(t *testing.T) {
	store := storage.NewMemStore()
	q := queue.NewMemQueue()

	const title = "Inside the Scheduler: How Goroutines Get Their Turn"
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	llmClient := NewScriptedLLMClient()
	llmClient.AddSequential(LLMScriptEntry{Text: DraftJSON(title), WaitCh: release, OnBlock: started})

	appA := NewTestApp(t,
		WithStages("processor"), WithStore(store), WithQueue(q),
		WithReplicaID("curator-a"), WithLLMClient(llmClient), WithProcessorWorkers(1))
	appB := NewTestApp(t,
		WithStages("processor"), WithStore(store), WithQueue(q),
		WithReplicaID("curator-b"), WithLLMClient(llmClient), WithProcessorWorkers(1))

	topic := fixtureTopic("hn", "9001", title)
	appA.SendTopic(t, topic)
	appA.SendTopic(t, topic)

	// One replica takes the lease and parks inside generation. Each
	// replica runs a single worker, so the duplicate can only be claimed
	// by the other replica.
	select {
	case <-started:
	case <-time.After(waitTimeout):
		t.Fatal("no replica reached generation")
	}

	// The other replica claims the duplicate, hits the held lease, and
	// leaves it for redelivery: both messages in flight, neither deleted.
	require.Eventually(t, func() bool {
		depth, err := q.Depth(context.Background(), config.QueueProcessing)
		return err == nil && depth == 0 && q.Len(config.QueueProcessing) == 2
	}, time.Second, 5*time.Millisecond, "duplicate should be claimed and backed off while the lease is held")

	leases, err := store.List(context.Background(), config.ContainerLeases, "")
	require.NoError(t, err)
	assert.Len(t, leases, 1, "one lease blob while generation is in flight")

	close(release)

	// The winner persists exactly one article; the loser's redelivery
	// finds the done marker and deletes its message without generating.
	articles := appA.WaitForBlobs(t, config.ContainerProcessed, "articles/", 1)
	appB.WaitForQueueDeleted(t, config.QueueProcessing)
	assert.Equal(t, 1, llmClient.CallCount(), "only the lease holder generates")

	article := appA.LoadArticle(t, articles[0])
	assert.Equal(t, topic.TopicID, article.ArticleID)
	require.NotEmpty(t, article.Provenance)
	assert.Contains(t, []string{"curator-a", "curator-b"}, article.Provenance[0].ProcessorID)

	leases, err = store.List(context.Background(), config.ContainerLeases, "")
	require.NoError(t, err)
	assert.Empty(t, leases, "lease released after generation")

	failures, err := store.List(context.Background(), config.ContainerProcessed, "failures/")
	require.NoError(t, err)
	assert.Empty(t, failures, "contention is not a failure condition")

	// One markdown request per article, even with a duplicate delivery.
	assert.Equal(t, 1, q.Len(config.QueueMarkdown))
}
