// Package schema provides the data structures shared by the fieldsync
// local store, outbox, and sync workers.
//
// Entities (progress entries, media assets, GPS tracks) are created once
// by a user action and persisted locally before any network activity.
// After creation, only the sync bookkeeping fields (sync_status,
// server_id, sync_error, synced_at) are allowed to change; content fields
// and hashes are immutable.
package schema

// SyncStatus tracks where an entity is in its upload lifecycle.
//
// State machine (per entity):
//
//	Pending -> Syncing -> {Synced | Pending (bounded retry) | Failed}
//
// Synced and Failed are terminal. Failed entities are retained for
// operator inspection and manual resubmission; the engine never deletes
// them.
type SyncStatus string

const (
	// StatusPending means the entity is durably stored locally and
	// awaiting transmission.
	StatusPending SyncStatus = "pending"

	// StatusSyncing means a sync pass has claimed the entity and an
	// upload is (or recently was) in flight.
	StatusSyncing SyncStatus = "syncing"

	// StatusSynced means the server acknowledged the entity.
	StatusSynced SyncStatus = "synced"

	// StatusFailed means the upload was rejected permanently or retries
	// were exhausted. The entity stays visible until a user acts on it.
	StatusFailed SyncStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s SyncStatus) Terminal() bool {
	return s == StatusSynced || s == StatusFailed
}

// Valid reports whether the status is one of the known values.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusSynced, StatusFailed:
		return true
	}
	return false
}

// EntityType identifies which durable collection an entity belongs to.
// Each type has its own sync worker and periodic cadence.
type EntityType string

const (
	// EntityProgress is a hash-chained progress report.
	EntityProgress EntityType = "progress"

	// EntityMedia is a photo or other binary attachment.
	EntityMedia EntityType = "media"

	// EntityTrack is a recorded GPS track file.
	EntityTrack EntityType = "track"
)

// Valid reports whether the entity type is one of the known values.
func (t EntityType) Valid() bool {
	switch t {
	case EntityProgress, EntityMedia, EntityTrack:
		return true
	}
	return false
}

// EntityTypes lists all entity types in a stable order.
func EntityTypes() []EntityType {
	return []EntityType{EntityProgress, EntityMedia, EntityTrack}
}
