package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// ImageStore maintains the image_index table on top of a raw store handle.
// Visual embeddings live here, in their own embedding space.
type ImageStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewImageStore wraps the store's raw handle. The schema is created by the
// store's migrations, so the handle must come from an opened Store.
func NewImageStore(db *sql.DB) *ImageStore {
	return &ImageStore{db: db}
}

// Upsert inserts or replaces an image record keyed by path.
func (s *ImageStore) Upsert(ctx context.Context, rec *ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO image_index (path, name, embedding, width, height, byte_size, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			embedding = excluded.embedding,
			width = excluded.width,
			height = excluded.height,
			byte_size = excluded.byte_size,
			modified_at = excluded.modified_at
	`, rec.Path, rec.Name, SerializeVector(rec.Embedding),
		rec.Width, rec.Height, rec.ByteSize, rec.ModifiedAt)
	if err != nil {
		return fmt.Errorf("upsert image %s: %w", rec.Path, err)
	}
	return nil
}

// Get retrieves the image record for a path, or ErrNotFound.
func (s *ImageStore) Get(ctx context.Context, path string) (*ImageRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, name, embedding, width, height, byte_size, modified_at
		FROM image_index
		WHERE path = ?
	`, path)
	return scanImage(row)
}

func scanImage(row rowScanner) (*ImageRecord, error) {
	var rec ImageRecord
	var blob []byte
	err := row.Scan(&rec.Path, &rec.Name, &blob, &rec.Width, &rec.Height,
		&rec.ByteSize, &rec.ModifiedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Embedding = DeserializeVector(blob)
	return &rec, nil
}

// IsFresh reports whether an image record exists for path with a stored
// modified_at at or past the given timestamp and a well-formed embedding.
func (s *ImageStore) IsFresh(ctx context.Context, path string, modifiedAt int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM image_index
		WHERE path = ? AND modified_at >= ?
		AND embedding IS NOT NULL AND length(embedding) > 0 AND length(embedding) % 4 = 0`,
		path, modifiedAt).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Delete removes the image record for a path.
func (s *ImageStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM image_index WHERE path = ?", path)
	return err
}

// DeleteUnder removes image records at or below a path prefix, matching
// whole path components.
func (s *ImageStore) DeleteUnder(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix = strings.TrimRight(prefix, "/")
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM image_index WHERE path = ? OR substr(path, 1, ?) = ?",
		prefix, len(prefix)+1, prefix+"/")
	return err
}

// Iter calls fn for every image record holding a well-formed embedding.
func (s *ImageStore) Iter(ctx context.Context, fn func(*ImageRecord) error) error {
	return s.iterWhere(ctx, "", nil, fn)
}

// IterUnder is Iter scoped to a path prefix, matching whole components.
func (s *ImageStore) IterUnder(ctx context.Context, prefix string, fn func(*ImageRecord) error) error {
	prefix = strings.TrimRight(prefix, "/")
	where := " AND (path = ? OR substr(path, 1, ?) = ?)"
	args := []interface{}{prefix, len(prefix) + 1, prefix + "/"}
	return s.iterWhere(ctx, where, args, fn)
}

func (s *ImageStore) iterWhere(ctx context.Context, extra string, args []interface{}, fn func(*ImageRecord) error) error {
	query := `
		SELECT path, name, embedding, width, height, byte_size, modified_at
		FROM image_index
		WHERE embedding IS NOT NULL AND length(embedding) > 0 AND length(embedding) % 4 = 0
	` + extra
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("iterate images: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanImage(rows)
		if err != nil {
			return err
		}
		if rec.Embedding == nil {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the number of image records.
func (s *ImageStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM image_index").Scan(&n)
	return n, err
}
