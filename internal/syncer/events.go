package syncer

import (
	"time"

	"github.com/provtrack/fieldsync/internal/schema"
)

// EventKind classifies a sync lifecycle notification.
type EventKind string

const (
	// EventSynced fires when an entity reaches the backend.
	EventSynced EventKind = "synced"
	// EventRetryScheduled fires when a transient failure puts an entity
	// back in the queue with a backoff window.
	EventRetryScheduled EventKind = "retry_scheduled"
	// EventFailed fires when an entity fails permanently.
	EventFailed EventKind = "failed"
	// EventConflict fires when the server rejects a progress entry
	// because its chain head moved. Conflicts also fail permanently.
	EventConflict EventKind = "conflict"
	// EventTamperAlert fires when the server accepted an entry but
	// recorded a different hash than the local chain. The entry still
	// counts as synced; the mismatch is reported, not trusted.
	EventTamperAlert EventKind = "tamper_alert"
)

// Event describes one sync outcome, published to observers such as the
// dashboard.
type Event struct {
	Kind       EventKind         `json:"kind"`
	EntityType schema.EntityType `json:"entity_type"`
	LocalID    string            `json:"local_id"`
	ServerID   string            `json:"server_id,omitempty"`
	Error      string            `json:"error,omitempty"`
	RetryCount int               `json:"retry_count"`
	At         time.Time         `json:"at"`
}

// EventSink receives sync events. Publish must not block; slow
// consumers drop rather than stall a sync pass.
type EventSink interface {
	Publish(Event)
}
