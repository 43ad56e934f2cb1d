package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "2.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      []string // executed in order inside one transaction
}

// AllMigrations contains all database migrations in ascending order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
	},
	{
		Version: "2.0.0",
		Up:      migrationV2Up,
	},
}

var migrationV1Up = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
	    version TEXT PRIMARY KEY,
	    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS indexed_files (
	    id INTEGER PRIMARY KEY AUTOINCREMENT,
	    path TEXT NOT NULL UNIQUE,
	    name TEXT NOT NULL,
	    file_type TEXT NOT NULL DEFAULT 'unknown',
	    byte_size INTEGER NOT NULL DEFAULT 0,
	    modified_at INTEGER NOT NULL DEFAULT 0,
	    indexed_at INTEGER NOT NULL DEFAULT 0,
	    embedding BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_files_path ON indexed_files(path)`,
	`CREATE INDEX IF NOT EXISTS idx_files_modified ON indexed_files(modified_at)`,
}

var migrationV2Up = []string{
	`ALTER TABLE indexed_files ADD COLUMN content_hash BLOB`,
	`CREATE INDEX IF NOT EXISTS idx_files_hash ON indexed_files(content_hash)`,
	`CREATE TABLE IF NOT EXISTS image_index (
	    path TEXT PRIMARY KEY,
	    name TEXT NOT NULL,
	    embedding BLOB,
	    width INTEGER NOT NULL DEFAULT 0,
	    height INTEGER NOT NULL DEFAULT 0,
	    byte_size INTEGER NOT NULL DEFAULT 0,
	    modified_at INTEGER NOT NULL DEFAULT 0
	)`,
}

// ApplyMigrations runs all pending migrations in ascending version order.
// Each migration executes inside a single transaction together with the
// version stamp, so a crash leaves the prior version fully usable.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	current, err := readSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range AllMigrations {
		version, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(version) {
			continue // already applied
		}

		if err := applyOne(ctx, db, migration); err != nil {
			return err
		}
		current = version
	}

	return nil
}

func applyOne(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", migration.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range migration.Up {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			// ALTER steps can fail when an aborted earlier run already added
			// the column. Treat that as a no-op so migrations stay
			// idempotent.
			if isDuplicateColumn(err) {
				continue
			}
			return fmt.Errorf("apply migration %s: %w", migration.Version, err)
		}
	}

	// schema_version keeps a single row holding the current version.
	if _, err := tx.ExecContext(ctx, "DELETE FROM schema_version"); err != nil {
		return fmt.Errorf("clear schema_version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
		return fmt.Errorf("record migration %s: %w", migration.Version, err)
	}

	return tx.Commit()
}

// readSchemaVersion returns the stored schema version, or 0.0.0 when the
// database is empty.
func readSchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("check schema_version table: %w", err)
	}

	var versionStr string
	err = db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&versionStr)
	if err == sql.ErrNoRows || (err == nil && versionStr == "") {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}

	version, err := semver.NewVersion(versionStr)
	if err != nil {
		return nil, fmt.Errorf("invalid stored schema version %s: %w", versionStr, err)
	}
	return version, nil
}

func isDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}
