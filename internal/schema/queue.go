package schema

import (
	"fmt"
	"time"
)

// QueueStatus tracks an outbox entry. Terminal outcomes delete the row,
// so only the two in-flight states exist here.
type QueueStatus string

const (
	// QueuePending means the entry is waiting for a sync pass.
	QueuePending QueueStatus = "pending"

	// QueueSyncing means a pass has claimed the entry.
	QueueSyncing QueueStatus = "syncing"
)

// QueueEntry is one durable outbox record: an operation awaiting
// transmission for a single entity.
//
// Invariant: at most one queue entry exists per (EntityType,
// EntityLocalID). The store enforces this with a UNIQUE constraint;
// terminal outcomes remove the row, so a later manual resubmit can
// enqueue the same entity again.
type QueueEntry struct {
	QueueID       int64       `json:"queue_id"`
	EntityType    EntityType  `json:"entity_type"`
	EntityLocalID string      `json:"entity_local_id"`
	Status        QueueStatus `json:"status"`

	// RetryCount is the number of failed attempts so far.
	RetryCount int `json:"retry_count"`

	EnqueuedAt time.Time `json:"enqueued_at"`

	// NextAttemptAt gates the entry: a sync pass only picks it up once
	// this time has passed. Backoff pushes it forward on each retry.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// UpdatedAt is bumped on every status transition. A Syncing entry
	// whose UpdatedAt is older than one scheduling interval is treated
	// as orphaned by a crashed pass and reset to Pending.
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the queue entry fields.
func (q *QueueEntry) Validate() error {
	if !q.EntityType.Valid() {
		return fmt.Errorf("invalid entity_type %q", q.EntityType)
	}
	if q.EntityLocalID == "" {
		return fmt.Errorf("entity_local_id is required")
	}
	if q.Status != QueuePending && q.Status != QueueSyncing {
		return fmt.Errorf("invalid queue status %q", q.Status)
	}
	if q.RetryCount < 0 {
		return fmt.Errorf("retry_count cannot be negative (got %d)", q.RetryCount)
	}
	return nil
}
