// Package sqlite implements the repository interfaces on SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary
// cross-compiles without a C toolchain. Use ":memory:" in tests.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

const memoryPath = ":memory:"

// DB wraps a sql.DB connection pool and implements repository.RunRepository.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath, creating its directory when needed,
// and runs migrations.
func New(dbPath string) (*DB, error) {
	if dbPath != memoryPath {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite: creating data directory: %w", err)
			}
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every connection to ":memory:" is its own empty database.
	if dbPath == memoryPath {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets the history endpoints read while an execution is being stored.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /healthz.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// migrate creates the schema. CREATE ... IF NOT EXISTS keeps it idempotent.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			code        TEXT NOT NULL,
			packages    TEXT NOT NULL DEFAULT '[]',
			strategy    TEXT NOT NULL DEFAULT '',
			success     INTEGER NOT NULL DEFAULT 0,
			output      TEXT NOT NULL DEFAULT '[]',
			error       TEXT NOT NULL DEFAULT '',
			error_kind  TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			subject     TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating runs table: %w", err)
	}

	return nil
}
