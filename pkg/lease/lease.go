// Package lease implements short-TTL exclusive claims on top of the object
// store's create-if-absent primitive. A lease blob is the only cross-replica
// coordination surface in the pipeline.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/curator-sh/curator/pkg/storage"
)

// ErrHeld indicates another holder owns an unexpired lease.
var ErrHeld = errors.New("lease held")

// Lease is the JSON body of a lease blob.
type Lease struct {
	HolderID   string    `json:"holder_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the lease TTL has elapsed.
func (l Lease) Expired(now time.Time) bool {
	return !l.ExpiresAt.After(now)
}

// Manager acquires and releases leases in the lease container.
type Manager struct {
	store     storage.Store
	container string
	now       func() time.Time
}

// NewManager creates a lease manager over the given container.
func NewManager(store storage.Store, container string) *Manager {
	return &Manager{store: store, container: container, now: time.Now}
}

// SetClock overrides the time source. Test hook for expiry.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Acquire claims key for holderID with the given TTL.
//
// The claim is an atomic create-if-absent put. When the blob already exists,
// three cases apply:
//   - same holder: re-acquire succeeds (restart case), TTL is refreshed
//   - expired lease: taken over via an etag-conditional overwrite, so two
//     replicas racing for an expired lease still produce exactly one winner
//   - live foreign lease: ErrHeld, with the current holder reported
func (m *Manager) Acquire(ctx context.Context, key, holderID string, ttl time.Duration) (*Lease, error) {
	now := m.now()
	lease := Lease{HolderID: holderID, AcquiredAt: now, ExpiresAt: now.Add(ttl)}
	body, err := json.Marshal(lease)
	if err != nil {
		return nil, fmt.Errorf("marshaling lease %s: %w", key, err)
	}

	err = m.store.Put(ctx, m.container, key, body, "application/json", true)
	if err == nil {
		return &lease, nil
	}
	if !errors.Is(err, storage.ErrBlobExists) {
		return nil, fmt.Errorf("acquiring lease %s: %w", key, err)
	}

	blob, err := m.store.Get(ctx, m.container, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Released between our put and get; one retry is enough, a
			// second contender that beat us will surface as ErrHeld.
			return m.retryAcquire(ctx, key, lease, body)
		}
		return nil, fmt.Errorf("reading lease %s: %w", key, err)
	}

	var current Lease
	if err := json.Unmarshal(blob.Data, &current); err != nil {
		return nil, fmt.Errorf("decoding lease %s: %w", key, err)
	}

	if current.HolderID != holderID && !current.Expired(now) {
		return nil, fmt.Errorf("lease %s held by %s until %s: %w",
			key, current.HolderID, current.ExpiresAt.Format(time.RFC3339), ErrHeld)
	}

	// Same holder or expired: overwrite conditionally on the etag we read.
	if err := m.store.PutIfMatch(ctx, m.container, key, body, "application/json", blob.Etag); err != nil {
		if errors.Is(err, storage.ErrEtagMismatch) || errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("lease %s takeover lost race: %w", key, ErrHeld)
		}
		return nil, fmt.Errorf("taking over lease %s: %w", key, err)
	}
	if current.HolderID != holderID {
		slog.Info("Took over expired lease",
			"key", key, "previous_holder", current.HolderID, "holder", holderID)
	}
	return &lease, nil
}

func (m *Manager) retryAcquire(ctx context.Context, key string, lease Lease, body []byte) (*Lease, error) {
	err := m.store.Put(ctx, m.container, key, body, "application/json", true)
	if err == nil {
		return &lease, nil
	}
	if errors.Is(err, storage.ErrBlobExists) {
		return nil, fmt.Errorf("lease %s reclaimed concurrently: %w", key, ErrHeld)
	}
	return nil, fmt.Errorf("acquiring lease %s: %w", key, err)
}

// Release deletes the lease only if holderID still owns it. Releasing a
// lease held by someone else (or already gone) is a no-op.
func (m *Manager) Release(ctx context.Context, key, holderID string) error {
	blob, err := m.store.Get(ctx, m.container, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("reading lease %s for release: %w", key, err)
	}

	var current Lease
	if err := json.Unmarshal(blob.Data, &current); err != nil {
		return fmt.Errorf("decoding lease %s for release: %w", key, err)
	}
	if current.HolderID != holderID {
		return nil
	}
	if err := m.store.Delete(ctx, m.container, key); err != nil {
		return fmt.Errorf("releasing lease %s: %w", key, err)
	}
	return nil
}

// Heartbeat extends the lease expiry for the current holder.
func (m *Manager) Heartbeat(ctx context.Context, key, holderID string, ttl time.Duration) error {
	blob, err := m.store.Get(ctx, m.container, key)
	if err != nil {
		return fmt.Errorf("reading lease %s for heartbeat: %w", key, err)
	}

	var current Lease
	if err := json.Unmarshal(blob.Data, &current); err != nil {
		return fmt.Errorf("decoding lease %s for heartbeat: %w", key, err)
	}
	if current.HolderID != holderID {
		return fmt.Errorf("heartbeat on lease %s: %w", key, ErrHeld)
	}

	current.ExpiresAt = m.now().Add(ttl)
	body, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("marshaling lease %s heartbeat: %w", key, err)
	}
	if err := m.store.PutIfMatch(ctx, m.container, key, body, "application/json", blob.Etag); err != nil {
		return fmt.Errorf("extending lease %s: %w", key, err)
	}
	return nil
}

// ReleaseAllHeldBy releases every lease currently held by holderID.
// Run once at replica startup so a crashed predecessor with the same
// identity does not block its own topics until TTL expiry.
func (m *Manager) ReleaseAllHeldBy(ctx context.Context, holderID string) (int, error) {
	names, err := m.store.List(ctx, m.container, "")
	if err != nil {
		return 0, fmt.Errorf("listing leases: %w", err)
	}

	released := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return released, err
		}
		blob, err := m.store.Get(ctx, m.container, name)
		if err != nil {
			continue
		}
		var current Lease
		if err := json.Unmarshal(blob.Data, &current); err != nil {
			continue
		}
		if current.HolderID != holderID {
			continue
		}
		if err := m.store.Delete(ctx, m.container, name); err != nil {
			slog.Warn("Failed to release startup orphan lease", "key", name, "error", err)
			continue
		}
		released++
	}
	if released > 0 {
		slog.Info("Released startup orphan leases", "holder_id", holderID, "count", released)
	}
	return released, nil
}
