package schema

import (
	"fmt"
	"time"
)

// Location is an optional GPS fix captured alongside a field report.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// Accuracy is the reported horizontal accuracy in meters.
	// Zero means the device did not report accuracy.
	Accuracy float64 `json:"accuracy,omitempty"`
}

// Validate checks the location for plausible coordinates.
func (l *Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude must be between -90 and 90 (got %v)", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude must be between -180 and 180 (got %v)", l.Longitude)
	}
	if l.Accuracy < 0 {
		return fmt.Errorf("accuracy cannot be negative (got %v)", l.Accuracy)
	}
	return nil
}

// ProgressEntry is a field report of percent-complete for a project.
//
// Entries form a per-project append-only hash chain: CurrentHash covers
// the content fields plus the CurrentHash of the previously created entry
// for the same project. The chain follows local creation order, never
// sync completion order, so sync latency cannot alter linkage.
type ProgressEntry struct {
	// ===== Identity =====

	// LocalID is the client-generated UUID; it is the entry's stable
	// identity before (and after) server acknowledgment.
	LocalID string `json:"local_id"`

	// ServerID is assigned by the server on first successful sync.
	// Empty until then.
	ServerID string `json:"server_id,omitempty"`

	// ===== Content (immutable after creation) =====

	ProjectID   string    `json:"project_id"`
	Description string    `json:"description"`
	Percent     int       `json:"percent"` // 0-100
	Location    *Location `json:"location,omitempty"`

	// PreviousHash is the CurrentHash of the prior entry in this
	// project's chain, or empty for the first entry.
	PreviousHash string `json:"previous_hash,omitempty"`

	// CurrentHash is computed once at creation and never mutated.
	CurrentHash string `json:"current_hash"`

	CreatedAt time.Time `json:"created_at"`

	// ===== Sync bookkeeping (the only mutable fields) =====

	SyncStatus SyncStatus `json:"sync_status"`
	SyncError  string     `json:"sync_error,omitempty"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
}

// Validate checks the entry's content fields.
func (e *ProgressEntry) Validate() error {
	if e.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if e.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if e.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(e.Description) > 2000 {
		return fmt.Errorf("description must be 2000 characters or less (got %d)", len(e.Description))
	}
	if e.Percent < 0 || e.Percent > 100 {
		return fmt.Errorf("percent must be between 0 and 100 (got %d)", e.Percent)
	}
	if e.Location != nil {
		if err := e.Location.Validate(); err != nil {
			return fmt.Errorf("invalid location: %w", err)
		}
	}
	if e.CurrentHash == "" {
		return fmt.Errorf("current_hash is required")
	}
	if e.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if !e.SyncStatus.Valid() {
		return fmt.Errorf("invalid sync_status %q", e.SyncStatus)
	}
	return nil
}
