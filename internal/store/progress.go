package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/provtrack/fieldsync/internal/hashchain"
	"github.com/provtrack/fieldsync/internal/schema"
)

const progressColumns = `local_id, server_id, project_id, description, percent,
	latitude, longitude, accuracy, previous_hash, current_hash,
	created_at, sync_status, sync_error, synced_at`

// CreateProgressEntry durably persists a new entry and its outbox record
// in a single transaction.
//
// This is the durability contract of the write path: once this returns
// nil, the entry survives process restarts and will eventually be synced.
// The enqueue half is idempotent; re-creating a queue row for an entity
// that already has one is a no-op.
func (s *Store) CreateProgressEntry(ctx context.Context, e *schema.ProgressEntry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid progress entry: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertProgressTx(ctx, tx, e); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit progress entry: %w", err)
	}
	return nil
}

// AppendProgressEntry links a new entry to the project's chain head and
// persists it with its outbox record. Head read, insert, and enqueue
// happen under one transaction so two concurrent writers cannot both
// link to the same predecessor and fork the chain. The entry's
// PreviousHash and CurrentHash are filled in from the head found.
func (s *Store) AppendProgressEntry(ctx context.Context, e *schema.ProgressEntry) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var prev string
	err = tx.QueryRowContext(ctx, `
		SELECT current_hash FROM progress_entries
		WHERE project_id = ? AND sync_status != 'failed'
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, e.ProjectID).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to query chain head: %w", err)
	}

	e.PreviousHash = prev
	e.CurrentHash = hashchain.Compute(e.ProjectID, e.Description, e.Percent, prev)
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid progress entry: %w", err)
	}

	if err := insertProgressTx(ctx, tx, e); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit progress entry: %w", err)
	}
	return nil
}

func insertProgressTx(ctx context.Context, tx *sql.Tx, e *schema.ProgressEntry) error {
	var lat, lon, acc sql.NullFloat64
	if e.Location != nil {
		lat = sql.NullFloat64{Float64: e.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: e.Location.Longitude, Valid: true}
		if e.Location.Accuracy > 0 {
			acc = sql.NullFloat64{Float64: e.Location.Accuracy, Valid: true}
		}
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO progress_entries (
			local_id, server_id, project_id, description, percent,
			latitude, longitude, accuracy, previous_hash, current_hash,
			created_at, sync_status, sync_error, synced_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.LocalID, e.ServerID, e.ProjectID, e.Description, e.Percent,
		lat, lon, acc, e.PreviousHash, e.CurrentHash,
		formatTime(e.CreatedAt), string(e.SyncStatus), e.SyncError,
		timeToNullString(e.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert progress entry: %w", err)
	}

	return enqueueTx(ctx, tx, schema.EntityProgress, e.LocalID, e.CreatedAt)
}

// GetProgressEntry fetches one entry by local ID.
func (s *Store) GetProgressEntry(ctx context.Context, localID string) (*schema.ProgressEntry, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+progressColumns+` FROM progress_entries WHERE local_id = ?`, localID)

	e, err := scanProgressEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress entry: %w", err)
	}
	return e, nil
}

// LatestChainEntry returns the most recently locally created entry for a
// project that is still part of the chain, or nil if the chain is empty.
//
// Permanently failed entries are excluded: a rejected entry never became
// part of the server's chain, and linking new entries to it would wedge
// the chain forever. The rowid tiebreak keeps the answer deterministic
// for entries created within the same timestamp granularity.
func (s *Store) LatestChainEntry(ctx context.Context, projectID string) (*schema.ProgressEntry, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT `+progressColumns+` FROM progress_entries
		WHERE project_id = ? AND sync_status != 'failed'
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1`, projectID)

	e, err := scanProgressEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest chain entry: %w", err)
	}
	return e, nil
}

// ListChainEntries returns a project's chain entries in local creation
// order, excluding permanently failed (rejected) entries.
func (s *Store) ListChainEntries(ctx context.Context, projectID string) ([]*schema.ProgressEntry, error) {
	return s.listProgress(ctx, `
		SELECT `+progressColumns+` FROM progress_entries
		WHERE project_id = ? AND sync_status != 'failed'
		ORDER BY created_at ASC, rowid ASC`, projectID)
}

// ListProgressEntries returns all of a project's entries in local
// creation order, including failed ones.
func (s *Store) ListProgressEntries(ctx context.Context, projectID string) ([]*schema.ProgressEntry, error) {
	return s.listProgress(ctx, `
		SELECT `+progressColumns+` FROM progress_entries
		WHERE project_id = ?
		ORDER BY created_at ASC, rowid ASC`, projectID)
}

// ListFailedProgress returns all permanently failed entries, oldest first.
func (s *Store) ListFailedProgress(ctx context.Context) ([]*schema.ProgressEntry, error) {
	return s.listProgress(ctx, `
		SELECT `+progressColumns+` FROM progress_entries
		WHERE sync_status = 'failed'
		ORDER BY created_at ASC, rowid ASC`)
}

func (s *Store) listProgress(ctx context.Context, query string, args ...any) ([]*schema.ProgressEntry, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list progress entries: %w", err)
	}
	defer rows.Close()

	var entries []*schema.ProgressEntry
	for rows.Next() {
		e, err := scanProgressEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan progress entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProgressEntry(sc scanner) (*schema.ProgressEntry, error) {
	var (
		e             schema.ProgressEntry
		lat, lon, acc sql.NullFloat64
		createdAt     string
		status        string
		syncedAt      sql.NullString
	)

	err := sc.Scan(
		&e.LocalID, &e.ServerID, &e.ProjectID, &e.Description, &e.Percent,
		&lat, &lon, &acc, &e.PreviousHash, &e.CurrentHash,
		&createdAt, &status, &e.SyncError, &syncedAt,
	)
	if err != nil {
		return nil, err
	}

	if lat.Valid && lon.Valid {
		e.Location = &schema.Location{
			Latitude:  lat.Float64,
			Longitude: lon.Float64,
		}
		if acc.Valid {
			e.Location.Accuracy = acc.Float64
		}
	}

	e.CreatedAt = parseTime(createdAt)
	e.SyncStatus = schema.SyncStatus(status)
	e.SyncedAt = nullStringToTime(syncedAt)
	return &e, nil
}

// touchEntityPending flips a failed entity back to pending and clears
// its error, as part of a manual resubmit transaction. Only failed
// entities qualify: resubmitting a synced one would re-upload an
// already-acknowledged record.
func touchEntityPending(ctx context.Context, tx *sql.Tx, table, localID string) error {
	var status string
	err := tx.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT sync_status FROM %s WHERE local_id = ?`, table), localID).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query entity status: %w", err)
	}
	if schema.SyncStatus(status) != schema.StatusFailed {
		return fmt.Errorf("entity %s is %s; only failed entities can be resubmitted", localID, status)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET sync_status = 'pending', sync_error = ''
		WHERE local_id = ?`, table), localID); err != nil {
		return fmt.Errorf("failed to reset entity: %w", err)
	}
	return nil
}
