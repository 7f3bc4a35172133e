// Package sqlite provides the SQLite driver for the SQL store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/policity/policity/internal/persistence/sqlstore"

	_ "modernc.org/sqlite" // CGo-free SQLite driver
)

// SQLiteDriver implements the sqlstore.Driver interface for SQLite.
type SQLiteDriver struct{}

// Name returns the driver name.
func (d *SQLiteDriver) Name() string {
	return "sqlite"
}

// Open establishes a connection to the SQLite database file, creating its
// parent directory when missing.
func (d *SQLiteDriver) Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if path := filePath(dsn); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite connection: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent step persists.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Rebind returns the query unchanged; SQLite uses ? placeholders.
func (d *SQLiteDriver) Rebind(query string) string {
	return query
}

// filePath extracts the filesystem path from the DSN, stripping the
// optional file: scheme, query parameters, and the in-memory form.
func filePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == ":memory:" || path == "" {
		return ""
	}
	return path
}

func init() {
	sqlstore.RegisterDriver(&SQLiteDriver{})
}
