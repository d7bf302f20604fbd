// Package storage defines the object-store adapter used by every pipeline
// stage, with a PostgreSQL implementation for deployment and an in-memory
// implementation for tests and local runs.
package storage

import (
	"context"
	"errors"
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the named blob does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrBlobExists indicates a create-if-absent put hit an existing blob.
	ErrBlobExists = errors.New("blob already exists")

	// ErrEtagMismatch indicates a conditional put lost a concurrent race.
	ErrEtagMismatch = errors.New("blob etag mismatch")
)

// Blob is stored content plus the metadata conditional writes need.
type Blob struct {
	Container   string
	Name        string
	Data        []byte
	ContentType string
	Etag        string
}

// Store is the object-store capability set. Put with ifNoneMatch provides
// the create-if-absent primitive that leases and deterministic article
// writes are built on.
type Store interface {
	// Put writes a blob. With ifNoneMatch=true it fails with ErrBlobExists
	// when the blob is already present.
	Put(ctx context.Context, container, name string, data []byte, contentType string, ifNoneMatch bool) error

	// PutIfMatch overwrites only when the stored etag equals etag.
	// Fails with ErrEtagMismatch on a lost race, ErrNotFound when absent.
	PutIfMatch(ctx context.Context, container, name string, data []byte, contentType, etag string) error

	// Get returns the blob or ErrNotFound.
	Get(ctx context.Context, container, name string) (*Blob, error)

	// List returns blob names under prefix, sorted ascending.
	List(ctx context.Context, container, prefix string) ([]string, error)

	// Delete removes a blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, container, name string) error

	// Copy duplicates src to dst, overwriting dst. Source and destination
	// containers may differ; the site backup copies across them.
	Copy(ctx context.Context, srcContainer, src, dstContainer, dst string) error

	// Exists reports whether the blob is present.
	Exists(ctx context.Context, container, name string) (bool, error)
}
