package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-sh/curator/pkg/queue"
	"github.com/curator-sh/curator/test/util"
)

func newPGQueue(t *testing.T) *queue.PGQueue {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	return queue.NewPGQueue(util.SetupTestDatabase(t))
}

func TestPGQueueSendReceiveDelete(t *testing.T) {
	q := newPGQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "processing-queue", []byte(`{"n":1}`)))

	msgs, err := q.Receive(ctx, "processing-queue", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte(`{"n":1}`), msgs[0].Body)
	assert.Equal(t, 1, msgs[0].DequeueCount)
	assert.NotEmpty(t, msgs[0].PopReceipt)

	require.NoError(t, q.Delete(ctx, "processing-queue", msgs[0].ID, msgs[0].PopReceipt))

	_, err = q.Receive(ctx, "processing-queue", 10, time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoMessages)
}

func TestPGQueueClaimedMessageInvisible(t *testing.T) {
	q := newPGQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "processing-queue", []byte(`{}`)))
	_, err := q.Receive(ctx, "processing-queue", 1, time.Minute)
	require.NoError(t, err)

	// The claim hides the message from other consumers.
	_, err = q.Receive(ctx, "processing-queue", 1, time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoMessages)

	depth, err := q.Depth(ctx, "processing-queue")
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestPGQueueRedeliveryAfterVisibilityTimeout(t *testing.T) {
	q := newPGQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "processing-queue", []byte(`{}`)))

	first, err := q.Receive(ctx, "processing-queue", 1, 500*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		depth, err := q.Depth(ctx, "processing-queue")
		return err == nil && depth == 1
	}, 5*time.Second, 100*time.Millisecond, "message must become visible again")

	second, err := q.Receive(ctx, "processing-queue", 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, second[0].DequeueCount)

	// The first consumer's receipt went stale with the redelivery.
	err = q.Delete(ctx, "processing-queue", first[0].ID, first[0].PopReceipt)
	assert.ErrorIs(t, err, queue.ErrReceiptMismatch)

	require.NoError(t, q.Delete(ctx, "processing-queue", second[0].ID, second[0].PopReceipt))
}

func TestPGQueueFIFOOrder(t *testing.T) {
	q := newPGQueue(t)
	ctx := context.Background()

	for _, body := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		require.NoError(t, q.Send(ctx, "processing-queue", []byte(body)))
	}

	msgs, err := q.Receive(ctx, "processing-queue", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []byte(`{"n":1}`), msgs[0].Body)
	assert.Equal(t, []byte(`{"n":3}`), msgs[2].Body)
}

func TestPGQueueIsolationBetweenQueues(t *testing.T) {
	q := newPGQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "markdown-queue", []byte(`{}`)))

	_, err := q.Receive(ctx, "publishing-queue", 1, time.Minute)
	assert.ErrorIs(t, err, queue.ErrNoMessages)

	depth, err := q.Depth(ctx, "markdown-queue")
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}
