package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-sh/curator/pkg/storage"
	"github.com/curator-sh/curator/test/util"
)

func newPGStore(t *testing.T) *storage.PGStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	return storage.NewPGStore(util.SetupTestDatabase(t))
}

func TestPGStorePutGet(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "processed-content", "articles/2026/08/a.json",
		[]byte(`{"slug":"a"}`), "application/json", false))

	blob, err := store.Get(ctx, "processed-content", "articles/2026/08/a.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"slug":"a"}`), blob.Data)
	assert.Equal(t, "application/json", blob.ContentType)
	assert.NotEmpty(t, blob.Etag)

	_, err = store.Get(ctx, "processed-content", "articles/2026/08/missing.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPGStoreCreateIfAbsent(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "leases", "topic-1", []byte("a"), "text/plain", true))
	err := store.Put(ctx, "leases", "topic-1", []byte("b"), "text/plain", true)
	assert.ErrorIs(t, err, storage.ErrBlobExists)

	// The loser's data never lands.
	blob, err := store.Get(ctx, "leases", "topic-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), blob.Data)
}

func TestPGStoreEtagRotation(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "c", "b", []byte("v1"), "text/plain", false))
	first, err := store.Get(ctx, "c", "b")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "c", "b", []byte("v2"), "text/plain", false))
	second, err := store.Get(ctx, "c", "b")
	require.NoError(t, err)
	assert.NotEqual(t, first.Etag, second.Etag)
}

func TestPGStorePutIfMatch(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "c", "b", []byte("v1"), "text/plain", false))
	blob, err := store.Get(ctx, "c", "b")
	require.NoError(t, err)

	require.NoError(t, store.PutIfMatch(ctx, "c", "b", []byte("v2"), "text/plain", blob.Etag))

	// The same etag is now stale.
	err = store.PutIfMatch(ctx, "c", "b", []byte("v3"), "text/plain", blob.Etag)
	assert.ErrorIs(t, err, storage.ErrEtagMismatch)

	err = store.PutIfMatch(ctx, "c", "absent", []byte("x"), "text/plain", blob.Etag)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPGStoreListPrefix(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	for _, name := range []string{"articles/2026/08/b.json", "articles/2026/08/a.json", "failures/t.json"} {
		require.NoError(t, store.Put(ctx, "processed-content", name, []byte("{}"), "application/json", false))
	}

	names, err := store.List(ctx, "processed-content", "articles/")
	require.NoError(t, err)
	assert.Equal(t, []string{"articles/2026/08/a.json", "articles/2026/08/b.json"}, names)
}

func TestPGStoreCopyAcrossContainers(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "$web", "index.html", []byte("<html/>"), "text/html; charset=utf-8", false))
	require.NoError(t, store.Copy(ctx, "$web", "index.html", "$web-backup", "index.html"))

	blob, err := store.Get(ctx, "$web-backup", "index.html")
	require.NoError(t, err)
	assert.Equal(t, []byte("<html/>"), blob.Data)
	assert.Equal(t, "text/html; charset=utf-8", blob.ContentType)

	err = store.Copy(ctx, "$web", "missing.html", "$web-backup", "missing.html")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPGStoreDeleteAndExists(t *testing.T) {
	store := newPGStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "c", "b", []byte("v"), "text/plain", false))
	exists, err := store.Exists(ctx, "c", "b")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, "c", "b"))
	exists, err = store.Exists(ctx, "c", "b")
	require.NoError(t, err)
	assert.False(t, exists)

	// Deleting an absent blob is a no-op.
	assert.NoError(t, store.Delete(ctx, "c", "b"))
}
