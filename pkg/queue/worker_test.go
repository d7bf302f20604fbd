package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-sh/curator/pkg/config"
	"github.com/curator-sh/curator/pkg/pipeline"
)

type handlerFunc func(ctx context.Context, env *pipeline.Envelope, msg *Message) HandlerResult

func (f handlerFunc) Handle(ctx context.Context, env *pipeline.Envelope, msg *Message) HandlerResult {
	return f(ctx, env, msg)
}

func workerConfig() config.StageQueueConfig {
	return config.StageQueueConfig{
		WorkerCount:        1,
		VisibilityTimeout:  time.Minute,
		PollInterval:       10 * time.Millisecond,
		PollIntervalJitter: 0,
		HandlerTimeout:     30 * time.Second,
	}
}

func sendTestEnvelope(t *testing.T, q Queue, queueName string) {
	t.Helper()
	env, err := pipeline.NewEnvelope("test", pipeline.OpProcessTopic, "corr-1",
		&pipeline.TopicPayload{TopicID: "t-1", Title: "Title", Source: "src"})
	require.NoError(t, err)
	require.NoError(t, SendEnvelope(context.Background(), q, queueName, env))
}

func newTestWorker(q Queue, handler Handler) *Worker {
	handlers := map[pipeline.Operation]Handler{pipeline.OpProcessTopic: handler}
	return NewWorker("w-0", "replica-test", q, config.QueueProcessing, workerConfig(), handlers, &pipeline.StatsRecorder{})
}

func TestWorkerSuccessDeletesMessage(t *testing.T) {
	q := NewMemQueue()
	sendTestEnvelope(t, q, config.QueueProcessing)

	var handled int
	w := newTestWorker(q, handlerFunc(func(context.Context, *pipeline.Envelope, *Message) HandlerResult {
		handled++
		return HandlerResult{Status: StatusSuccess, Stats: pipeline.StageStats{Processed: 1, Succeeded: 1}}
	}))

	require.NoError(t, w.pollAndProcess(context.Background()))
	assert.Equal(t, 1, handled)

	// Deleted for good: even past the visibility timeout nothing comes back.
	base := time.Now()
	q.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	_, err := q.Receive(context.Background(), config.QueueProcessing, 1, time.Minute)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestWorkerRetryableFailureLeavesMessage(t *testing.T) {
	q := NewMemQueue()
	sendTestEnvelope(t, q, config.QueueProcessing)

	w := newTestWorker(q, handlerFunc(func(_ context.Context, env *pipeline.Envelope, _ *Message) HandlerResult {
		return HandlerResult{
			Status: StatusFailed,
			Err:    pipeline.NewStageError(pipeline.KindTransientDependency, "test", "t-1", env.CorrelationID, errors.New("boom")),
		}
	}))

	require.NoError(t, w.pollAndProcess(context.Background()))

	// Redelivered after the visibility window with a bumped dequeue count.
	base := time.Now()
	q.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	msgs, err := q.Receive(context.Background(), config.QueueProcessing, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].DequeueCount)
}

func TestWorkerPoisonFailureDeletesMessage(t *testing.T) {
	q := NewMemQueue()
	sendTestEnvelope(t, q, config.QueueProcessing)

	w := newTestWorker(q, handlerFunc(func(_ context.Context, env *pipeline.Envelope, _ *Message) HandlerResult {
		return HandlerResult{
			Status: StatusFailed,
			Err:    pipeline.NewStageError(pipeline.KindBadInput, "test", "t-1", env.CorrelationID, errors.New("garbage")),
		}
	}))

	require.NoError(t, w.pollAndProcess(context.Background()))

	base := time.Now()
	q.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	_, err := q.Receive(context.Background(), config.QueueProcessing, 1, time.Minute)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestWorkerMalformedBodyDeleted(t *testing.T) {
	q := NewMemQueue()
	require.NoError(t, q.Send(context.Background(), config.QueueProcessing, []byte("not an envelope")))

	var handled int
	w := newTestWorker(q, handlerFunc(func(context.Context, *pipeline.Envelope, *Message) HandlerResult {
		handled++
		return HandlerResult{Status: StatusSuccess}
	}))

	require.NoError(t, w.pollAndProcess(context.Background()))
	assert.Equal(t, 0, handled, "malformed messages never reach a handler")

	base := time.Now()
	q.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	depth, err := q.Depth(context.Background(), config.QueueProcessing)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestWorkerUnknownOperationDeleted(t *testing.T) {
	q := NewMemQueue()
	env, err := pipeline.NewEnvelope("test", pipeline.Operation("future_op"), "corr-1", map[string]string{})
	require.NoError(t, err)
	require.NoError(t, SendEnvelope(context.Background(), q, config.QueueProcessing, env))

	var handled int
	w := newTestWorker(q, handlerFunc(func(context.Context, *pipeline.Envelope, *Message) HandlerResult {
		handled++
		return HandlerResult{Status: StatusSuccess}
	}))

	require.NoError(t, w.pollAndProcess(context.Background()))
	assert.Equal(t, 0, handled)

	base := time.Now()
	q.SetClock(func() time.Time { return base.Add(2 * time.Minute) })
	_, err = q.Receive(context.Background(), config.QueueProcessing, 1, time.Minute)
	assert.ErrorIs(t, err, ErrNoMessages)
}

func TestWorkerEmptyQueue(t *testing.T) {
	w := newTestWorker(NewMemQueue(), handlerFunc(func(context.Context, *pipeline.Envelope, *Message) HandlerResult {
		return HandlerResult{Status: StatusSuccess}
	}))
	assert.ErrorIs(t, w.pollAndProcess(context.Background()), ErrNoMessages)
}

func TestWorkerHealthTransitions(t *testing.T) {
	q := NewMemQueue()
	sendTestEnvelope(t, q, config.QueueProcessing)

	var w *Worker
	w = newTestWorker(q, handlerFunc(func(_ context.Context, _ *pipeline.Envelope, msg *Message) HandlerResult {
		health := w.Health()
		assert.Equal(t, string(WorkerStatusWorking), health.Status)
		assert.Equal(t, msg.ID, health.CurrentMessageID)
		return HandlerResult{Status: StatusSuccess}
	}))

	require.NoError(t, w.pollAndProcess(context.Background()))

	health := w.Health()
	assert.Equal(t, string(WorkerStatusIdle), health.Status)
	assert.Empty(t, health.CurrentMessageID)
	assert.Equal(t, 1, health.MessagesProcessed)
}

func TestShouldDelete(t *testing.T) {
	assert.True(t, shouldDelete(nil))
	assert.False(t, shouldDelete(errors.New("unclassified")), "unknown errors stay retryable")
	assert.True(t, shouldDelete(pipeline.NewStageError(pipeline.KindBadInput, "s", "", "", errors.New("x"))))
	assert.True(t, shouldDelete(pipeline.NewStageError(pipeline.KindBuildFailure, "s", "", "", errors.New("x"))))
	assert.False(t, shouldDelete(pipeline.NewStageError(pipeline.KindLeaseContention, "s", "", "", errors.New("x"))))
	assert.False(t, shouldDelete(pipeline.NewStageError(pipeline.KindStorageWrite, "s", "", "", errors.New("x"))))
}

func TestPollIntervalJitterBounds(t *testing.T) {
	cfg := workerConfig()
	cfg.PollInterval = 5 * time.Second
	cfg.PollIntervalJitter = time.Second
	w := NewWorker("w-0", "replica-test", NewMemQueue(), config.QueueProcessing, cfg, nil, nil)

	for i := 0; i < 200; i++ {
		d := w.pollInterval()
		assert.GreaterOrEqual(t, d, 4*time.Second)
		assert.LessOrEqual(t, d, 6*time.Second)
	}
}

func TestWorkerPoolProcessesUntilStopped(t *testing.T) {
	q := NewMemQueue()
	for i := 0; i < 5; i++ {
		sendTestEnvelope(t, q, config.QueueProcessing)
	}

	cfg := workerConfig()
	cfg.WorkerCount = 3
	pool := NewWorkerPool("replica-test", "processor", q, config.QueueProcessing, cfg,
		map[pipeline.Operation]Handler{
			pipeline.OpProcessTopic: handlerFunc(func(context.Context, *pipeline.Envelope, *Message) HandlerResult {
				return HandlerResult{Status: StatusSuccess, Stats: pipeline.StageStats{Processed: 1, Succeeded: 1}}
			}),
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	assert.Eventually(t, func() bool {
		return pool.Stats().Succeeded == 5
	}, 5*time.Second, 20*time.Millisecond)

	health := pool.Health()
	assert.True(t, health.IsHealthy)
	assert.Equal(t, 3, health.TotalWorkers)
	assert.Equal(t, 0, health.QueueDepth)
	assert.Len(t, health.WorkerStats, 3)
}

func TestWorkerPoolDoubleStartAndStop(t *testing.T) {
	pool := NewWorkerPool("replica-test", "processor", NewMemQueue(), config.QueueProcessing,
		workerConfig(), nil)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	require.NoError(t, pool.Start(ctx), "duplicate start is a no-op")
	pool.Stop()
	pool.Stop()
}
