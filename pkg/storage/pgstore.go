package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/curator-sh/curator/pkg/database"
)

// PGStore implements Store on PostgreSQL. Create-if-absent maps to
// INSERT ... ON CONFLICT DO NOTHING; conditional overwrite to an UPDATE
// guarded by the stored etag. Both are single statements, so the
// uniqueness guarantees hold under any interleaving of replicas.
type PGStore struct {
	db *sql.DB
}

// NewPGStore creates a Postgres-backed object store.
func NewPGStore(client *database.Client) *PGStore {
	return &PGStore{db: client.DB()}
}

// Put writes a blob, optionally with create-if-absent semantics.
func (s *PGStore) Put(ctx context.Context, container, name string, data []byte, contentType string, ifNoneMatch bool) error {
	etag := uuid.NewString()
	if ifNoneMatch {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO blobs (container, name, data, content_type, etag)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (container, name) DO NOTHING`,
			container, name, data, contentType, etag)
		if err != nil {
			return fmt.Errorf("putting blob %s/%s: %w", container, name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("putting blob %s/%s: %w", container, name, err)
		}
		if n == 0 {
			return fmt.Errorf("putting blob %s/%s: %w", container, name, ErrBlobExists)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (container, name, data, content_type, etag)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (container, name) DO UPDATE
		SET data = EXCLUDED.data,
		    content_type = EXCLUDED.content_type,
		    etag = EXCLUDED.etag,
		    updated_at = now()`,
		container, name, data, contentType, etag)
	if err != nil {
		return fmt.Errorf("putting blob %s/%s: %w", container, name, err)
	}
	return nil
}

// PutIfMatch overwrites the blob only when its stored etag matches.
func (s *PGStore) PutIfMatch(ctx context.Context, container, name string, data []byte, contentType, etag string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE blobs
		SET data = $4, content_type = $5, etag = $6, updated_at = now()
		WHERE container = $1 AND name = $2 AND etag = $3`,
		container, name, etag, data, contentType, uuid.NewString())
	if err != nil {
		return fmt.Errorf("conditional put %s/%s: %w", container, name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("conditional put %s/%s: %w", container, name, err)
	}
	if n == 0 {
		exists, err := s.Exists(ctx, container, name)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("conditional put %s/%s: %w", container, name, ErrNotFound)
		}
		return fmt.Errorf("conditional put %s/%s: %w", container, name, ErrEtagMismatch)
	}
	return nil
}

// Get returns the blob or ErrNotFound.
func (s *PGStore) Get(ctx context.Context, container, name string) (*Blob, error) {
	blob := &Blob{Container: container, Name: name}
	err := s.db.QueryRowContext(ctx, `
		SELECT data, content_type, etag FROM blobs
		WHERE container = $1 AND name = $2`,
		container, name).Scan(&blob.Data, &blob.ContentType, &blob.Etag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting blob %s/%s: %w", container, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob %s/%s: %w", container, name, err)
	}
	return blob, nil
}

// List returns blob names under prefix, sorted ascending.
func (s *PGStore) List(ctx context.Context, container, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name FROM blobs
		WHERE container = $1 AND name LIKE $2 || '%'
		ORDER BY name`,
		container, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s/%s*: %w", container, prefix, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing %s/%s*: %w", container, prefix, err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing %s/%s*: %w", container, prefix, err)
	}
	return names, nil
}

// Delete removes a blob; absent blobs are a no-op.
func (s *PGStore) Delete(ctx context.Context, container, name string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM blobs WHERE container = $1 AND name = $2`, container, name)
	if err != nil {
		return fmt.Errorf("deleting blob %s/%s: %w", container, name, err)
	}
	return nil
}

// Copy duplicates src to dst, overwriting dst. Containers may differ.
func (s *PGStore) Copy(ctx context.Context, srcContainer, src, dstContainer, dst string) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (container, name, data, content_type, etag)
		SELECT $3, $4, data, content_type, $5
		FROM blobs WHERE container = $1 AND name = $2
		ON CONFLICT (container, name) DO UPDATE
		SET data = EXCLUDED.data,
		    content_type = EXCLUDED.content_type,
		    etag = EXCLUDED.etag,
		    updated_at = now()`,
		srcContainer, src, dstContainer, dst, uuid.NewString())
	if err != nil {
		return fmt.Errorf("copying %s/%s to %s/%s: %w", srcContainer, src, dstContainer, dst, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("copying %s/%s to %s/%s: %w", srcContainer, src, dstContainer, dst, err)
	}
	if n == 0 {
		return fmt.Errorf("copying %s/%s to %s/%s: %w", srcContainer, src, dstContainer, dst, ErrNotFound)
	}
	return nil
}

// Exists reports whether the blob is present.
func (s *PGStore) Exists(ctx context.Context, container, name string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM blobs WHERE container = $1 AND name = $2`,
		container, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking blob %s/%s: %w", container, name, err)
	}
	return true, nil
}
