package lease

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-sh/curator/pkg/storage"
)

func TestAcquireFreshLease(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemStore(), "leases")

	l, err := m.Acquire(ctx, "topic-1", "replica-a", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "replica-a", l.HolderID)
	assert.True(t, l.ExpiresAt.After(l.AcquiredAt))
}

func TestAcquireHeldByOther(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemStore(), "leases")

	_, err := m.Acquire(ctx, "topic-1", "replica-a", 5*time.Minute)
	require.NoError(t, err)

	_, err = m.Acquire(ctx, "topic-1", "replica-b", 5*time.Minute)
	assert.ErrorIs(t, err, ErrHeld)
}

func TestAcquireSameHolderRefreshes(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemStore(), "leases")

	first, err := m.Acquire(ctx, "topic-1", "replica-a", 5*time.Minute)
	require.NoError(t, err)

	// Restart case: the same holder re-acquires and refreshes the TTL.
	second, err := m.Acquire(ctx, "topic-1", "replica-a", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, second.ExpiresAt.Before(first.ExpiresAt))
}

func TestAcquireTakesOverExpiredLease(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemStore(), "leases")

	now := time.Now()
	m.SetClock(func() time.Time { return now })

	_, err := m.Acquire(ctx, "topic-1", "replica-a", time.Minute)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	l, err := m.Acquire(ctx, "topic-1", "replica-b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "replica-b", l.HolderID)
}

func TestAcquireRaceOneWinner(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemStore(), "leases")

	const contenders = 8
	var wg sync.WaitGroup
	won := make(chan string, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			holder := string(rune('a' + id))
			if _, err := m.Acquire(ctx, "topic-1", holder, time.Minute); err == nil {
				won <- holder
			}
		}(i)
	}
	wg.Wait()
	close(won)

	winners := 0
	for range won {
		winners++
	}
	assert.Equal(t, 1, winners, "exactly one contender must win the lease")
}

func TestReleaseByHolder(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemStore(), "leases")

	_, err := m.Acquire(ctx, "topic-1", "replica-a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.Release(ctx, "topic-1", "replica-a"))

	// Released: another holder can acquire immediately.
	_, err = m.Acquire(ctx, "topic-1", "replica-b", time.Minute)
	assert.NoError(t, err)
}

func TestReleaseByNonHolderIsNoOp(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemStore(), "leases")

	_, err := m.Acquire(ctx, "topic-1", "replica-a", time.Minute)
	require.NoError(t, err)

	require.NoError(t, m.Release(ctx, "topic-1", "replica-b"))

	// replica-a still holds it.
	_, err = m.Acquire(ctx, "topic-1", "replica-c", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)
}

func TestReleaseAbsentIsNoOp(t *testing.T) {
	m := NewManager(storage.NewMemStore(), "leases")
	assert.NoError(t, m.Release(context.Background(), "never-acquired", "replica-a"))
}

func TestHeartbeatExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	m := NewManager(store, "leases")

	now := time.Now()
	m.SetClock(func() time.Time { return now })

	l, err := m.Acquire(ctx, "topic-1", "replica-a", time.Minute)
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	require.NoError(t, m.Heartbeat(ctx, "topic-1", "replica-a", time.Minute))

	// Past the original expiry, the lease is still held.
	now = now.Add(45 * time.Second)
	_, err = m.Acquire(ctx, "topic-1", "replica-b", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)
	_ = l
}

func TestHeartbeatByNonHolderFails(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemStore(), "leases")

	_, err := m.Acquire(ctx, "topic-1", "replica-a", time.Minute)
	require.NoError(t, err)

	err = m.Heartbeat(ctx, "topic-1", "replica-b", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)
}

func TestReleaseAllHeldBy(t *testing.T) {
	ctx := context.Background()
	m := NewManager(storage.NewMemStore(), "leases")

	_, err := m.Acquire(ctx, "topic-1", "replica-a", time.Hour)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "topic-2", "replica-a", time.Hour)
	require.NoError(t, err)
	_, err = m.Acquire(ctx, "topic-3", "replica-b", time.Hour)
	require.NoError(t, err)

	released, err := m.ReleaseAllHeldBy(ctx, "replica-a")
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	// replica-a's topics are free; replica-b's lease survives the sweep.
	_, err = m.Acquire(ctx, "topic-1", "replica-c", time.Minute)
	assert.NoError(t, err)
	_, err = m.Acquire(ctx, "topic-3", "replica-c", time.Minute)
	assert.ErrorIs(t, err, ErrHeld)
}
