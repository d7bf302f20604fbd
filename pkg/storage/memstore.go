package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests and single-process local runs.
// It honors the same create-if-absent and etag semantics as PGStore.
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string]*Blob // key: container + "\x00" + name
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string]*Blob)}
}

func memKey(container, name string) string { return container + "\x00" + name }

// Put writes a blob, optionally with create-if-absent semantics.
func (s *MemStore) Put(_ context.Context, container, name string, data []byte, contentType string, ifNoneMatch bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(container, name)
	if ifNoneMatch {
		if _, ok := s.blobs[key]; ok {
			return fmt.Errorf("putting blob %s/%s: %w", container, name, ErrBlobExists)
		}
	}
	s.blobs[key] = &Blob{
		Container:   container,
		Name:        name,
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		Etag:        uuid.NewString(),
	}
	return nil
}

// PutIfMatch overwrites the blob only when its stored etag matches.
func (s *MemStore) PutIfMatch(_ context.Context, container, name string, data []byte, contentType, etag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := memKey(container, name)
	existing, ok := s.blobs[key]
	if !ok {
		return fmt.Errorf("conditional put %s/%s: %w", container, name, ErrNotFound)
	}
	if existing.Etag != etag {
		return fmt.Errorf("conditional put %s/%s: %w", container, name, ErrEtagMismatch)
	}
	s.blobs[key] = &Blob{
		Container:   container,
		Name:        name,
		Data:        append([]byte(nil), data...),
		ContentType: contentType,
		Etag:        uuid.NewString(),
	}
	return nil
}

// Get returns a copy of the blob or ErrNotFound.
func (s *MemStore) Get(_ context.Context, container, name string) (*Blob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, ok := s.blobs[memKey(container, name)]
	if !ok {
		return nil, fmt.Errorf("getting blob %s/%s: %w", container, name, ErrNotFound)
	}
	cp := *blob
	cp.Data = append([]byte(nil), blob.Data...)
	return &cp, nil
}

// List returns blob names under prefix, sorted ascending.
func (s *MemStore) List(_ context.Context, container, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var names []string
	for _, blob := range s.blobs {
		if blob.Container == container && strings.HasPrefix(blob.Name, prefix) {
			names = append(names, blob.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a blob; absent blobs are a no-op.
func (s *MemStore) Delete(_ context.Context, container, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, memKey(container, name))
	return nil
}

// Copy duplicates src to dst, overwriting dst. Containers may differ.
func (s *MemStore) Copy(_ context.Context, srcContainer, src, dstContainer, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, ok := s.blobs[memKey(srcContainer, src)]
	if !ok {
		return fmt.Errorf("copying %s/%s to %s/%s: %w", srcContainer, src, dstContainer, dst, ErrNotFound)
	}
	s.blobs[memKey(dstContainer, dst)] = &Blob{
		Container:   dstContainer,
		Name:        dst,
		Data:        append([]byte(nil), blob.Data...),
		ContentType: blob.ContentType,
		Etag:        uuid.NewString(),
	}
	return nil
}

// Exists reports whether the blob is present.
func (s *MemStore) Exists(_ context.Context, container, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[memKey(container, name)]
	return ok, nil
}
