package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/penciled/penciled/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite database at baseDir/penciled.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.penciled.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Create exports subdirectory
	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "penciled.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
// Call after Init if you need to tune pool behavior for contention.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS sessions (
		  id            TEXT PRIMARY KEY,
		  owner         TEXT NOT NULL,
		  input_kind    TEXT NOT NULL,
		  input_ref     TEXT NOT NULL,
		  input_hint    TEXT,
		  status        TEXT NOT NULL,
		  error_message TEXT,
		  event_count   INTEGER NOT NULL DEFAULT 0,
		  listable      INTEGER NOT NULL DEFAULT 0,
		  created_at    INTEGER NOT NULL,
		  updated_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_owner_updated
		ON sessions(owner, updated_at DESC)
		WHERE listable = 1;

		CREATE INDEX IF NOT EXISTS idx_sessions_status_updated
		ON sessions(status, updated_at);

		CREATE TABLE IF NOT EXISTS events (
		  id          TEXT PRIMARY KEY,
		  session_id  TEXT NOT NULL,
		  position    INTEGER NOT NULL,
		  summary     TEXT NOT NULL,
		  start_date  TEXT NOT NULL,
		  start_time  TEXT,
		  start_tz    TEXT,
		  end_date    TEXT,
		  end_time    TEXT,
		  end_tz      TEXT,
		  all_day     INTEGER NOT NULL DEFAULT 0,
		  location    TEXT,
		  description TEXT,
		  recurrence  TEXT,
		  calendar_id TEXT,
		  version     INTEGER NOT NULL DEFAULT 1,
		  created_at  INTEGER NOT NULL,
		  updated_at  INTEGER NOT NULL,
		  deleted_at  INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_events_session_position
		ON events(session_id, position)
		WHERE deleted_at IS NULL;

		CREATE TABLE IF NOT EXISTS provider_syncs (
		  event_id          TEXT NOT NULL,
		  provider          TEXT NOT NULL,
		  provider_event_id TEXT NOT NULL,
		  calendar_id       TEXT NOT NULL,
		  synced_version    INTEGER NOT NULL,
		  synced_at         INTEGER NOT NULL,
		  PRIMARY KEY (event_id, provider)
		);

		CREATE TABLE IF NOT EXISTS stage_records (
		  id              TEXT PRIMARY KEY,
		  session_id      TEXT NOT NULL,
		  stage           TEXT NOT NULL,
		  input_snapshot  TEXT NOT NULL,
		  output_snapshot TEXT,
		  ok              INTEGER NOT NULL,
		  duration_ms     INTEGER NOT NULL,
		  error_message   TEXT,
		  created_at      INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_stage_records_session
		ON stage_records(session_id, created_at);

		CREATE TABLE IF NOT EXISTS guest_sessions (
		  session_id  TEXT PRIMARY KEY,
		  token_hash  TEXT NOT NULL UNIQUE,
		  created_at  INTEGER NOT NULL,
		  migrated_at INTEGER
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}
