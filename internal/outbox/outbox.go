// Package outbox implements the sync queue manager: the durable, ordered
// record of operations awaiting transmission, drained by the sync
// workers.
//
// All queue transitions delegate to the store's atomic operations; the
// manager adds the retry budget, the exponential backoff schedule, and
// logging.
package outbox

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/store"
)

// MaxRetries is the retry budget: a retryable failure on the attempt
// that would push retry_count to this value escalates to a permanent
// failure instead.
const MaxRetries = 5

// DefaultBackoffBase is the first retry delay; each subsequent retry
// doubles it.
const DefaultBackoffBase = 5 * time.Second

// Manager coordinates outbox bookkeeping for all entity types.
type Manager struct {
	store *store.Store

	// backoffBase scales the exponential schedule.
	backoffBase time.Duration

	// caps holds the per-entity-type backoff ceiling, normally the
	// type's periodic sync interval.
	caps map[schema.EntityType]time.Duration

	logger *log.Logger
}

// New creates a Manager. caps maps each entity type to its backoff
// ceiling (its periodic interval); missing types fall back to one
// minute. If logger is nil, a default stderr logger is used.
func New(st *store.Store, backoffBase time.Duration, caps map[schema.EntityType]time.Duration, logger *log.Logger) *Manager {
	if backoffBase <= 0 {
		backoffBase = DefaultBackoffBase
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[outbox] ", log.LstdFlags)
	}
	return &Manager{
		store:       st,
		backoffBase: backoffBase,
		caps:        caps,
		logger:      logger,
	}
}

// Backoff returns the delay before the next attempt after retryCount
// failures: base * 2^retryCount, capped at the entity type's periodic
// interval so a backlogged entry never waits longer than one schedule.
func (m *Manager) Backoff(t schema.EntityType, retryCount int) time.Duration {
	ceiling := m.caps[t]
	if ceiling <= 0 {
		ceiling = time.Minute
	}

	if retryCount > 30 {
		return ceiling
	}
	d := m.backoffBase << uint(retryCount)
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

// Enqueue inserts an outbox record for an entity. Re-enqueuing an entity
// that already has a non-terminal record is a no-op.
func (m *Manager) Enqueue(ctx context.Context, t schema.EntityType, localID string) error {
	if err := m.store.Enqueue(ctx, t, localID); err != nil {
		return fmt.Errorf("enqueue %s/%s: %w", t, localID, err)
	}
	return nil
}

// Eligible snapshots the pending entries whose backoff window has
// elapsed, in FIFO order.
func (m *Manager) Eligible(ctx context.Context, t schema.EntityType, now time.Time) ([]*schema.QueueEntry, error) {
	return m.store.PendingQueueEntries(ctx, t, now)
}

// Claim atomically transitions a queue entry (and its entity) from
// pending to syncing. Returns false if another pass won the race.
func (m *Manager) Claim(ctx context.Context, q *schema.QueueEntry) (bool, error) {
	return m.store.ClaimQueueEntry(ctx, q)
}

// MarkSuccess removes the queue entry and marks the entity synced with
// its server-assigned ID.
func (m *Manager) MarkSuccess(ctx context.Context, q *schema.QueueEntry, serverID string) error {
	if err := m.store.CompleteQueueEntry(ctx, q, serverID, time.Now()); err != nil {
		return err
	}
	m.logger.Printf("Synced %s %s (server_id=%s, attempts=%d)",
		q.EntityType, q.EntityLocalID, serverID, q.RetryCount+1)
	return nil
}

// ResetForRetry returns the entry to pending with an incremented retry
// count; the next attempt is gated by the backoff schedule.
func (m *Manager) ResetForRetry(ctx context.Context, q *schema.QueueEntry) error {
	delay := m.Backoff(q.EntityType, q.RetryCount)
	next := time.Now().Add(delay)
	if err := m.store.RetryQueueEntry(ctx, q, next); err != nil {
		return err
	}
	m.logger.Printf("Retry scheduled for %s %s in %v (attempt %d of %d)",
		q.EntityType, q.EntityLocalID, delay.Round(time.Millisecond), q.RetryCount+2, MaxRetries)
	return nil
}

// MarkPermanentFailure removes the queue entry and marks the entity
// failed with the given message. The entity stays in the store for
// operator inspection and manual resubmission.
func (m *Manager) MarkPermanentFailure(ctx context.Context, q *schema.QueueEntry, message string) error {
	if err := m.store.FailQueueEntry(ctx, q, message); err != nil {
		return err
	}
	m.logger.Printf("Permanent failure for %s %s: %s", q.EntityType, q.EntityLocalID, message)
	return nil
}

// ReclaimStale resets syncing entries older than the staleness cutoff
// back to pending. Called at the start of each pass to recover entries
// orphaned by a crash mid-flight.
func (m *Manager) ReclaimStale(ctx context.Context, t schema.EntityType, staleAfter time.Duration) (int, error) {
	n, err := m.store.ReclaimStaleSyncing(ctx, t, time.Now().Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logger.Printf("Reclaimed %d orphaned %s entries stuck in syncing", n, t)
	}
	return n, nil
}

// Depth returns the number of outbox records for one entity type.
func (m *Manager) Depth(ctx context.Context, t schema.EntityType) (int, error) {
	return m.store.QueueDepth(ctx, t)
}
