package schema

import (
	"fmt"
	"time"
)

// MediaAsset is a photo or other binary file awaiting upload.
//
// The file itself stays on disk at FilePath; the sync worker uploads it
// through a presigned URL and then registers it with the backend. Media
// assets share the ProgressEntry sync lifecycle but are not hash-chained.
type MediaAsset struct {
	LocalID  string `json:"local_id"`
	ServerID string `json:"server_id,omitempty"`

	ProjectID string `json:"project_id"`

	// EntryLocalID optionally links the asset to a progress entry.
	EntryLocalID string `json:"entry_local_id,omitempty"`

	FilePath  string `json:"file_path"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`

	CreatedAt time.Time `json:"created_at"`

	SyncStatus SyncStatus `json:"sync_status"`
	SyncError  string     `json:"sync_error,omitempty"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
}

// Validate checks the asset's content fields.
func (m *MediaAsset) Validate() error {
	if m.LocalID == "" {
		return fmt.Errorf("local_id is required")
	}
	if m.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if m.FilePath == "" {
		return fmt.Errorf("file_path is required")
	}
	if m.SizeBytes < 0 {
		return fmt.Errorf("size_bytes cannot be negative (got %d)", m.SizeBytes)
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if !m.SyncStatus.Valid() {
		return fmt.Errorf("invalid sync_status %q", m.SyncStatus)
	}
	return nil
}
