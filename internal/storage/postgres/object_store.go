package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dmahlow/lorekeep/internal/knowledge"
)

// ObjectStore persists ingested objects in Postgres.
type ObjectStore struct {
	pool dbPool
}

// NewObjectStore creates a Postgres-backed ObjectStore using the provided config.
func NewObjectStore(ctx context.Context, cfg Config) (*ObjectStore, error) {
	pool, err := newPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ObjectStore{pool: pool}, nil
}

// NewObjectStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewObjectStoreWithPool(pool dbPool) (*ObjectStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ObjectStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ObjectStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const objectColumns = `
	id, type, source_uri, title, status, raw_blob_uri, clean_blob_uri,
	cleaned_text, summary, claims, tags, created_at, updated_at`

// CreateObject inserts a new object row.
func (s *ObjectStore) CreateObject(ctx context.Context, obj knowledge.PersistedObject) error {
	if obj.ID == "" {
		return fmt.Errorf("object id is required")
	}
	query := `
INSERT INTO knowledge_objects (` + objectColumns + `
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)`
	args := []any{
		obj.ID,
		obj.Type,
		obj.SourceURI,
		obj.Title,
		obj.Status,
		obj.RawBlobURI,
		obj.CleanBlobURI,
		obj.CleanedText,
		obj.Summary,
		obj.Claims,
		obj.Tags,
		obj.CreatedAt,
		obj.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert object: %w", err)
	}
	return nil
}

// UpdateObject replaces the mutable fields of an existing object.
func (s *ObjectStore) UpdateObject(ctx context.Context, obj knowledge.PersistedObject) error {
	query := `
UPDATE knowledge_objects
SET title = $1, status = $2, raw_blob_uri = $3, clean_blob_uri = $4,
    cleaned_text = $5, summary = $6, claims = $7, tags = $8, updated_at = now()
WHERE id = $9`
	tag, err := s.pool.Exec(ctx, query,
		obj.Title,
		obj.Status,
		obj.RawBlobURI,
		obj.CleanBlobURI,
		obj.CleanedText,
		obj.Summary,
		obj.Claims,
		obj.Tags,
		obj.ID,
	)
	if err != nil {
		return fmt.Errorf("update object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetObject fetches an object by ID.
func (s *ObjectStore) GetObject(ctx context.Context, objectID string) (knowledge.PersistedObject, error) {
	query := `SELECT ` + objectColumns + ` FROM knowledge_objects WHERE id = $1`
	var obj knowledge.PersistedObject
	err := s.pool.QueryRow(ctx, query, objectID).Scan(
		&obj.ID,
		&obj.Type,
		&obj.SourceURI,
		&obj.Title,
		&obj.Status,
		&obj.RawBlobURI,
		&obj.CleanBlobURI,
		&obj.CleanedText,
		&obj.Summary,
		&obj.Claims,
		&obj.Tags,
		&obj.CreatedAt,
		&obj.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return knowledge.PersistedObject{}, ErrNotFound
		}
		return knowledge.PersistedObject{}, fmt.Errorf("get object: %w", err)
	}
	return obj, nil
}
