package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/provtrack/fieldsync/internal/schema"
)

const queueColumns = `queue_id, entity_type, entity_local_id, status,
	retry_count, enqueued_at, next_attempt_at, updated_at`

// enqueueTx inserts an outbox record inside an existing transaction.
//
// INSERT OR IGNORE against the UNIQUE(entity_type, entity_local_id)
// constraint makes this idempotent: if the entity already has a
// non-terminal queue entry, nothing changes.
func enqueueTx(ctx context.Context, tx *sql.Tx, t schema.EntityType, localID string, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO sync_queue (
			entity_type, entity_local_id, status,
			retry_count, enqueued_at, next_attempt_at, updated_at
		) VALUES (?, ?, 'pending', 0, ?, ?, ?)`,
		string(t), localID, formatTime(now), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to enqueue %s/%s: %w", t, localID, err)
	}
	return nil
}

// Enqueue inserts an outbox record for an entity. Idempotent per the
// one-non-terminal-entry-per-entity invariant.
func (s *Store) Enqueue(ctx context.Context, t schema.EntityType, localID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := enqueueTx(ctx, tx, t, localID, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// ResetEntityForResubmit flips a failed entity back to pending, clears
// its error, and enqueues it again, all in one transaction. This is the
// manual-remediation path for retryable failures that exhausted their
// retry budget.
func (s *Store) ResetEntityForResubmit(ctx context.Context, t schema.EntityType, localID string) error {
	table, err := entityTable(t)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := touchEntityPending(ctx, tx, table, localID); err != nil {
		return err
	}
	if err := enqueueTx(ctx, tx, t, localID, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}

// GetQueueEntry fetches one outbox record by ID.
func (s *Store) GetQueueEntry(ctx context.Context, queueID int64) (*schema.QueueEntry, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+queueColumns+` FROM sync_queue WHERE queue_id = ?`, queueID)

	q, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return q, nil
}

// QueueEntryForEntity fetches the outbox record for an entity, if any.
func (s *Store) QueueEntryForEntity(ctx context.Context, t schema.EntityType, localID string) (*schema.QueueEntry, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE entity_type = ? AND entity_local_id = ?`, string(t), localID)

	q, err := scanQueueEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queue entry: %w", err)
	}
	return q, nil
}

// PendingQueueEntries snapshots the eligible pending entries for one
// entity type in enqueue (FIFO) order. Entries whose backoff window has
// not elapsed are skipped; entries enqueued after the snapshot belong to
// the next pass.
func (s *Store) PendingQueueEntries(ctx context.Context, t schema.EntityType, now time.Time) ([]*schema.QueueEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT `+queueColumns+` FROM sync_queue
		WHERE entity_type = ? AND status = 'pending' AND next_attempt_at <= ?
		ORDER BY queue_id ASC`,
		string(t), formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list pending queue entries: %w", err)
	}
	defer rows.Close()

	var entries []*schema.QueueEntry
	for rows.Next() {
		q, err := scanQueueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue entry: %w", err)
		}
		entries = append(entries, q)
	}
	return entries, rows.Err()
}

// ClaimQueueEntry atomically transitions an entry from pending to
// syncing, and the entity with it. Returns false if another pass claimed
// the entry first (or it reached a terminal outcome in the meantime).
//
// The conditional UPDATE is the concurrency guard: two passes racing for
// the same entry see exactly one RowsAffected() == 1.
func (s *Store) ClaimQueueEntry(ctx context.Context, q *schema.QueueEntry) (bool, error) {
	table, err := entityTable(q.EntityType)
	if err != nil {
		return false, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'syncing', updated_at = ?
		WHERE queue_id = ? AND status = 'pending'`,
		formatTime(time.Now()), q.QueueID)
	if err != nil {
		return false, fmt.Errorf("failed to claim queue entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET sync_status = 'syncing' WHERE local_id = ?`, table),
		q.EntityLocalID)
	if err != nil {
		return false, fmt.Errorf("failed to mark entity syncing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit claim: %w", err)
	}
	return true, nil
}

// CompleteQueueEntry removes the outbox record and marks the entity
// synced with its server-assigned ID, in one transaction.
func (s *Store) CompleteQueueEntry(ctx context.Context, q *schema.QueueEntry, serverID string, syncedAt time.Time) error {
	table, err := entityTable(q.EntityType)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE queue_id = ?`, q.QueueID); err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET sync_status = 'synced', server_id = ?, synced_at = ?, sync_error = ''
		WHERE local_id = ?`, table),
		serverID, formatTime(syncedAt), q.EntityLocalID)
	if err != nil {
		return fmt.Errorf("failed to mark entity synced: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sync success: %w", err)
	}
	return nil
}

// RetryQueueEntry returns the entry to pending with an incremented retry
// count and a backoff-gated next attempt time. The entity goes back to
// pending as well.
func (s *Store) RetryQueueEntry(ctx context.Context, q *schema.QueueEntry, nextAttempt time.Time) error {
	table, err := entityTable(q.EntityType)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'pending', retry_count = retry_count + 1,
		    next_attempt_at = ?, updated_at = ?
		WHERE queue_id = ?`,
		formatTime(nextAttempt), formatTime(time.Now()), q.QueueID)
	if err != nil {
		return fmt.Errorf("failed to reset queue entry for retry: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET sync_status = 'pending' WHERE local_id = ?`, table),
		q.EntityLocalID)
	if err != nil {
		return fmt.Errorf("failed to mark entity pending: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit retry reset: %w", err)
	}
	return nil
}

// FailQueueEntry removes the outbox record and marks the entity
// permanently failed with the given error message, in one transaction.
// The entity is retained for operator inspection; nothing here deletes it.
func (s *Store) FailQueueEntry(ctx context.Context, q *schema.QueueEntry, message string) error {
	table, err := entityTable(q.EntityType)
	if err != nil {
		return err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE queue_id = ?`, q.QueueID); err != nil {
		return fmt.Errorf("failed to delete queue entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET sync_status = 'failed', sync_error = ? WHERE local_id = ?`, table),
		message, q.EntityLocalID)
	if err != nil {
		return fmt.Errorf("failed to mark entity failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit permanent failure: %w", err)
	}
	return nil
}

// ReclaimStaleSyncing resets syncing entries not touched since olderThan
// back to pending. These are orphans of a pass that crashed mid-flight;
// resetting them is the engine's sole self-healing mechanism.
func (s *Store) ReclaimStaleSyncing(ctx context.Context, t schema.EntityType, olderThan time.Time) (int, error) {
	table, err := entityTable(t)
	if err != nil {
		return 0, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT entity_local_id FROM sync_queue
		WHERE entity_type = ? AND status = 'syncing' AND updated_at < ?`,
		string(t), formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to find stale entries: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sync_queue SET status = 'pending', updated_at = ?
		WHERE entity_type = ? AND status = 'syncing' AND updated_at < ?`,
		formatTime(time.Now()), string(t), formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale entries: %w", err)
	}

	for _, id := range stale {
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET sync_status = 'pending' WHERE local_id = ?`, table), id)
		if err != nil {
			return 0, fmt.Errorf("failed to reset stale entity: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit stale reclaim: %w", err)
	}
	return len(stale), nil
}

// QueueDepth returns the number of outbox records for one entity type.
func (s *Store) QueueDepth(ctx context.Context, t schema.EntityType) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_queue WHERE entity_type = ?`, string(t)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue entries: %w", err)
	}
	return n, nil
}

func scanQueueEntry(sc scanner) (*schema.QueueEntry, error) {
	var (
		q                                schema.QueueEntry
		entityType, status               string
		enqueuedAt, nextAttempt, updated string
	)

	err := sc.Scan(
		&q.QueueID, &entityType, &q.EntityLocalID, &status,
		&q.RetryCount, &enqueuedAt, &nextAttempt, &updated,
	)
	if err != nil {
		return nil, err
	}

	q.EntityType = schema.EntityType(entityType)
	q.Status = schema.QueueStatus(status)
	q.EnqueuedAt = parseTime(enqueuedAt)
	q.NextAttemptAt = parseTime(nextAttempt)
	q.UpdatedAt = parseTime(updated)
	return &q, nil
}
