package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"

	"apflow/internal/config"
)

// DB wraps the shared SQLite handle every store in the pipeline uses.
// All persisted records (documents, match results, holds, bills, vendors,
// the audit log, and the stage queues) live in one database file.
type DB struct {
	*sql.DB
	path string
}

// Open initializes or connects to the pipeline database and applies the schema.
func Open(cfg *config.Config) (*DB, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(filepath.Join(cfg.Paths.LogDir, "apflow.db"))
}

// OpenPath opens the database at an explicit path. Used by tests.
func OpenPath(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	wrapped := &DB{DB: db, path: path}
	if err := wrapped.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return wrapped, nil
}

// Path returns the database file location.
func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// NullableString converts empty strings to NULL for insertion.
func NullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// BoolToInt converts a bool into the 0/1 representation SQLite stores.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
