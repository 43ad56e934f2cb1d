package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/filescope/filescope/pkg/types"
)

// Store is the SQLite-backed vector store. One writer at a time; reads may
// proceed concurrently from other goroutines.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writes
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// WAL with NORMAL durability: readers proceed during writes, fsync cost
	// stays bounded.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set synchronous mode: %w", err)
	}

	// SQLite benefits from a single connection: one writer, short reads.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// Open creates or opens the index database at dbPath, applying any pending
// schema migrations.
func Open(dbPath string) (*Store, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RawDB exposes the underlying handle for trusted same-process components
// that maintain auxiliary tables (the image store is such a case).
func (s *Store) RawDB() *sql.DB {
	return s.db
}

// Upsert inserts or replaces the record keyed by its path. The embedding
// blob is written when present and cleared when absent.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *Store) upsertLocked(ctx context.Context, q execer, rec *Record) error {
	if rec.IndexedAt == 0 && rec.Embedding != nil {
		rec.IndexedAt = time.Now().Unix()
	}
	query := `
		INSERT INTO indexed_files (path, name, file_type, byte_size, modified_at, indexed_at, embedding, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name = excluded.name,
			file_type = excluded.file_type,
			byte_size = excluded.byte_size,
			modified_at = excluded.modified_at,
			indexed_at = excluded.indexed_at,
			embedding = excluded.embedding,
			content_hash = excluded.content_hash
		RETURNING id
	`
	err := q.QueryRowContext(ctx, query,
		rec.Path, rec.Name, string(rec.Kind), rec.ByteSize,
		rec.ModifiedAt, rec.IndexedAt,
		SerializeVector(rec.Embedding), rec.ContentHash,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", rec.Path, err)
	}
	return nil
}

// UpsertBatch writes a batch of records inside one transaction. Either the
// whole batch commits or none of it does.
func (s *Store) UpsertBatch(ctx context.Context, recs []*Record) error {
	if len(recs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, rec := range recs {
		if err := s.upsertLocked(ctx, tx, rec); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// UpdateEmbedding replaces the embedding for an existing path and bumps its
// indexed_at. Returns ErrNotFound if the path is absent.
func (s *Store) UpdateEmbedding(ctx context.Context, path string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"UPDATE indexed_files SET embedding = ?, indexed_at = ? WHERE path = ?",
		SerializeVector(vec), time.Now().Unix(), path)
	if err != nil {
		return fmt.Errorf("update embedding %s: %w", path, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateContentHash stores a content hash for an existing path.
func (s *Store) UpdateContentHash(ctx context.Context, path string, hash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		"UPDATE indexed_files SET content_hash = ? WHERE path = ?", hash, path)
	if err != nil {
		return fmt.Errorf("update content hash %s: %w", path, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the record for a path. Deleting an absent path is a no-op.
func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM indexed_files WHERE path = ?", path)
	return err
}

// DeleteUnder removes every record whose path is prefix itself or lives
// below it. The match is on whole path components: /a/b does not match
// /a/bc.
func (s *Store) DeleteUnder(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix = strings.TrimRight(prefix, "/")
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM indexed_files WHERE path = ? OR substr(path, 1, ?) = ?",
		prefix, len(prefix)+1, prefix+"/")
	return err
}

// Get retrieves the record for a path, or ErrNotFound.
func (s *Store) Get(ctx context.Context, path string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, name, file_type, byte_size, modified_at, indexed_at, embedding, content_hash
		FROM indexed_files
		WHERE path = ?
	`, path)
	return scanRecord(row)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var kind string
	var blob []byte
	err := row.Scan(&rec.ID, &rec.Path, &rec.Name, &kind, &rec.ByteSize,
		&rec.ModifiedAt, &rec.IndexedAt, &blob, &rec.ContentHash)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Kind = types.FileKind(kind)
	rec.Embedding = DeserializeVector(blob)
	return &rec, nil
}

// IsFresh reports whether a record exists for path with a stored
// modified_at at or past the given timestamp and a well-formed embedding.
// A missing or corrupt embedding reads as stale so the record is
// re-embedded on the next pass.
func (s *Store) IsFresh(ctx context.Context, path string, modifiedAt int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM indexed_files
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

// IterEmbedded calls fn for every record holding a well-formed embedding.
// Malformed blobs are skipped. Iteration stops on the first error from fn.
func (s *Store) IterEmbedded(ctx context.Context, fn func(*Record) error) error {
	return s.iterWhere(ctx, "", nil, fn)
}

// IterUnder is IterEmbedded scoped to records at or below a path prefix,
// matching whole path components.
func (s *Store) IterUnder(ctx context.Context, prefix string, fn func(*Record) error) error {
	prefix = strings.TrimRight(prefix, "/")
	where := " AND (path = ? OR substr(path, 1, ?) = ?)"
	args := []interface{}{prefix, len(prefix) + 1, prefix + "/"}
	return s.iterWhere(ctx, where, args, fn)
}

func (s *Store) iterWhere(ctx context.Context, extra string, args []interface{}, fn func(*Record) error) error {
	query := `
		SELECT id, path, name, file_type, byte_size, modified_at, indexed_at, embedding, content_hash
		FROM indexed_files
		WHERE embedding IS NOT NULL AND length(embedding) > 0 AND length(embedding) % 4 = 0
	` + extra
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("iterate embedded: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanRecord(rows)
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

// Count returns the number of records in the index.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM indexed_files").Scan(&n)
	return n, err
}

// TotalBytes returns the sum of indexed file sizes.
func (s *Store) TotalBytes(ctx context.Context) (int64, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT SUM(byte_size) FROM indexed_files").Scan(&n)
	return n.Int64, err
}

// Clear drops all records from both tables.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM indexed_files"); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM image_index")
	return err
}

// Stats gathers aggregate counters for status displays.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByKind: make(map[types.FileKind]int64)}

	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), SUM(byte_size) FROM indexed_files").Scan(&stats.Files, &total)
	if err != nil {
		return nil, err
	}
	stats.TotalBytes = total.Int64

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM indexed_files
		WHERE embedding IS NOT NULL AND length(embedding) > 0 AND length(embedding) % 4 = 0
	`).Scan(&stats.Embedded)
	if err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM image_index").Scan(&stats.Images); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT file_type, COUNT(*) FROM indexed_files GROUP BY file_type")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		stats.ByKind[types.FileKind(kind)] = n
	}
	return stats, rows.Err()
}
