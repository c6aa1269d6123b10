package schema

import (
	"fmt"
	"time"
)

// GpsTrack is a recorded GPS track file (GPX) awaiting upload.
//
// Like MediaAsset, tracks share the common sync lifecycle without hash
// chaining. PointCount is informational metadata forwarded to the backend
// at registration time.
type GpsTrack struct {
	LocalID  string `json:"local_id"`
	ServerID string `json:"server_id,omitempty"`

	ProjectID string `json:"project_id"`

	// EntryLocalID optionally links the track to a progress entry.
	EntryLocalID string `json:"entry_local_id,omitempty"`

	FilePath   string `json:"file_path"`
	SizeBytes  int64  `json:"size_bytes"`
	PointCount int    `json:"point_count,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	SyncStatus SyncStatus `json:"sync_status"`
	SyncError  string     `json:"sync_error,omitempty"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
}

// Validate checks the track's content fields.
func (g *GpsTrack) Validate() error {
	if g.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if g.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if g.FilePath == "" {
		return fmt.Errorf("file_path is required")
	}
	if g.SizeBytes < 0 {
		return fmt.Errorf("size_bytes cannot be negative (got %d)", g.SizeBytes)
	}
	if g.PointCount < 0 {
		return fmt.Errorf("point_count cannot be negative (got %d)", g.PointCount)
	}
	if g.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if !g.SyncStatus.Valid() {
		return fmt.Errorf("invalid sync_status %q", g.SyncStatus)
	}
	return nil
}
