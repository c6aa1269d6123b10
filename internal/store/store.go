// Package store provides the SQLite-backed local durable store for
// fieldsync entities and the sync outbox.
//
// The store is the single shared mutable resource of the engine: every
// entity and queue status transition goes through one of the atomic
// operations here, never through ad hoc writes, so concurrent sync passes
// cannot double-submit an entity.
//
// The database runs in embedded mode with WAL for concurrent reads.
//
// Layout:
//   - Database file: .fieldsync/field.db
//   - Tables: progress_entries, media_assets, gps_tracks, sync_queue
//   - sync_queue has a UNIQUE(entity_type, entity_local_id) constraint;
//     terminal outcomes delete the row, which is what makes enqueue
//     idempotent while an operation is still in flight.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/provtrack/fieldsync/internal/schema"
)

// ErrNotFound is returned when a requested entity or queue entry does
// not exist.
var ErrNotFound = errors.New("not found")

// timeFormat is the canonical on-disk timestamp encoding. Nanosecond
// precision keeps local creation order unambiguous for chain derivation.
const timeFormat = time.RFC3339Nano

// Store wraps the SQLite connection with fieldsync-specific operations.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// If the database doesn't exist, it is created; call InitSchema before
// first use. The caller MUST call Close when done.
//
// Example:
//
//	st, err := store.Open(".fieldsync/field.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	// WAL mode allows the CLI to read while the daemon writes.
	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after a WAL checkpoint.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

// InitSchema creates all tables and indexes if they don't exist.
func (s *Store) InitSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS progress_entries (
			local_id      TEXT PRIMARY KEY,
			server_id     TEXT NOT NULL DEFAULT '',
			project_id    TEXT NOT NULL,
			description   TEXT NOT NULL,
			percent       INTEGER NOT NULL,
			latitude      REAL,
			longitude     REAL,
			accuracy      REAL,
			previous_hash TEXT NOT NULL DEFAULT '',
			current_hash  TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			sync_status   TEXT NOT NULL DEFAULT 'pending',
			sync_error    TEXT NOT NULL DEFAULT '',
			synced_at     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_project_created
			ON progress_entries(project_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_status
			ON progress_entries(sync_status)`,

		`CREATE TABLE IF NOT EXISTS media_assets (
			local_id       TEXT PRIMARY KEY,
			server_id      TEXT NOT NULL DEFAULT '',
			project_id     TEXT NOT NULL,
			entry_local_id TEXT NOT NULL DEFAULT '',
			file_path      TEXT NOT NULL,
			mime_type      TEXT NOT NULL DEFAULT '',
			size_bytes     INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			sync_status    TEXT NOT NULL DEFAULT 'pending',
			sync_error     TEXT NOT NULL DEFAULT '',
			synced_at      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_media_status
			ON media_assets(sync_status)`,
		`CREATE INDEX IF NOT EXISTS idx_media_path
			ON media_assets(file_path)`,

		`CREATE TABLE IF NOT EXISTS gps_tracks (
			local_id       TEXT PRIMARY KEY,
			server_id      TEXT NOT NULL DEFAULT '',
			project_id     TEXT NOT NULL,
			entry_local_id TEXT NOT NULL DEFAULT '',
			file_path      TEXT NOT NULL,
			size_bytes     INTEGER NOT NULL DEFAULT 0,
			point_count    INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			sync_status    TEXT NOT NULL DEFAULT 'pending',
			sync_error     TEXT NOT NULL DEFAULT '',
			synced_at      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_status
			ON gps_tracks(sync_status)`,
		`CREATE INDEX IF NOT EXISTS idx_tracks_path
			ON gps_tracks(file_path)`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
			queue_id        INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_type     TEXT NOT NULL,
			entity_local_id TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			retry_count     INTEGER NOT NULL DEFAULT 0,
			enqueued_at     TEXT NOT NULL,
			next_attempt_at TEXT NOT NULL,
			updated_at      TEXT NOT NULL,
			UNIQUE(entity_type, entity_local_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_status
			ON sync_queue(entity_type, status, next_attempt_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.conn.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// entityTable maps an entity type to its table name.
func entityTable(t schema.EntityType) (string, error) {
	switch t {
	case schema.EntityProgress:
		return "progress_entries", nil
	case schema.EntityMedia:
		return "media_assets", nil
	case schema.EntityTrack:
		return "gps_tracks", nil
	default:
		return "", fmt.Errorf("unknown entity type %q", t)
	}
}

// CountByStatus returns entity counts per sync status for one type.
func (s *Store) CountByStatus(ctx context.Context, t schema.EntityType) (map[schema.SyncStatus]int, error) {
	table, err := entityTable(t)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT sync_status, COUNT(*) FROM %s GROUP BY sync_status`, table))
	if err != nil {
		return nil, fmt.Errorf("failed to count %s by status: %w", t, err)
	}
	defer rows.Close()

	counts := make(map[schema.SyncStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[schema.SyncStatus(status)] = n
	}
	return counts, rows.Err()
}

// ===== time encoding helpers =====

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(timeFormat, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
