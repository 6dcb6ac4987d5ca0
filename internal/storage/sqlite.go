// Package storage opens the local SQLite database shared by the invocation
// journal and the process book.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path and
// ensures required tables exist. Network filesystems are refused.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := RequireLocal(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
		"PRAGMA journal_mode = WAL;",
	} {
		if _, err := db.ExecContext(pctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if err := BootstrapSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Tables lists every table BootstrapSQLite creates.
var Tables = []string{"invocation_log", "processes", "messages", "settings"}

// BootstrapSQLite creates tables/indexes if missing.
func BootstrapSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invocation_log (
  id           TEXT PRIMARY KEY,
  command      TEXT NOT NULL,
  process_id   TEXT,
  status       TEXT NOT NULL,
  kind         TEXT,
  last_error   TEXT,
  stderr       TEXT,
  exit_code    INTEGER NOT NULL DEFAULT -1,
  digest       TEXT,
  result       JSON,
  started_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL,
  duration_ms  INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS processes (
  id            TEXT PRIMARY KEY,
  module        TEXT,
  scheduler     TEXT,
  name          TEXT,
  invocation_id TEXT,
  created_at    TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS messages (
  id            TEXT PRIMARY KEY,
  process_id    TEXT NOT NULL,
  action        TEXT,
  digest        TEXT,
  invocation_id TEXT,
  sent_at       TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS settings (
  key        TEXT PRIMARY KEY,
  value      TEXT NOT NULL,
  updated_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS invocation_log_started_at_idx ON invocation_log(started_at);`,
		`CREATE INDEX IF NOT EXISTS invocation_log_command_status_idx ON invocation_log(command, status);`,
		`CREATE INDEX IF NOT EXISTS messages_process_sent_at_idx ON messages(process_id, sent_at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
