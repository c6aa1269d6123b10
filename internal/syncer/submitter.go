package syncer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/provtrack/fieldsync/internal/remote"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/store"
)

// PermanentError marks a failure that no retry can fix, independent of
// any HTTP status. The worker fails the entity immediately.
type PermanentError struct {
	Message string
}

func (e *PermanentError) Error() string {
	return e.Message
}

// HashMismatchError reports that the backend recorded a different hash
// than the local chain for an entry it accepted. The entry is still
// synced; the discrepancy is surfaced for audit rather than trusted
// silently.
type HashMismatchError struct {
	LocalID    string
	ServerID   string
	LocalHash  string
	ServerHash string
}

func (e *HashMismatchError) Error() string {
	return fmt.Sprintf("hash mismatch for entry %s: server recorded %s, local chain has %s",
		e.LocalID, e.ServerHash, e.LocalHash)
}

// Submitter transmits one claimed entity to the backend and returns its
// server-assigned ID. Implementations must be idempotent: every request
// carries the entity's local ID so a retried submission that already
// succeeded is answered with the original result.
type Submitter interface {
	EntityType() schema.EntityType
	Submit(ctx context.Context, localID string) (serverID string, err error)
}

// ProgressSubmitter transmits progress entries.
type ProgressSubmitter struct {
	store  *store.Store
	client *remote.Client
}

func NewProgressSubmitter(st *store.Store, client *remote.Client) *ProgressSubmitter {
	return &ProgressSubmitter{store: st, client: client}
}

func (s *ProgressSubmitter) EntityType() schema.EntityType {
	return schema.EntityProgress
}

// Submit sends one progress entry and cross-checks the hash the server
// recorded against the local chain. On a mismatch the server ID is
// returned together with a HashMismatchError: the server did accept the
// entry, so it counts as synced, but the discrepancy must reach the
// audit trail.
func (s *ProgressSubmitter) Submit(ctx context.Context, localID string) (string, error) {
	e, err := s.store.GetProgressEntry(ctx, localID)
	if err != nil {
		return "", &PermanentError{Message: fmt.Sprintf("loading progress entry: %v", err)}
	}

	req := &remote.CreateProgressRequest{
		ProjectID:     e.ProjectID,
		Description:   e.Description,
		Percent:       e.Percent,
		PreviousHash:  e.PreviousHash,
		ClientLocalID: e.LocalID,
	}
	if e.Location != nil {
		req.Latitude = &e.Location.Latitude
		req.Longitude = &e.Location.Longitude
	}

	resp, err := s.client.CreateProgress(ctx, req)
	if err != nil {
		return "", err
	}

	if resp.CurrentHash != "" && resp.CurrentHash != e.CurrentHash {
		return resp.ServerID, &HashMismatchError{
			LocalID:    e.LocalID,
			ServerID:   resp.ServerID,
			LocalHash:  e.CurrentHash,
			ServerHash: resp.CurrentHash,
		}
	}
	return resp.ServerID, nil
}

// MediaSubmitter transmits media assets with the two-step upload:
// presign, PUT the payload, then register the object with the backend.
type MediaSubmitter struct {
	store  *store.Store
	client *remote.Client
}

func NewMediaSubmitter(st *store.Store, client *remote.Client) *MediaSubmitter {
	return &MediaSubmitter{store: st, client: client}
}

func (s *MediaSubmitter) EntityType() schema.EntityType {
	return schema.EntityMedia
}

func (s *MediaSubmitter) Submit(ctx context.Context, localID string) (string, error) {
	a, err := s.store.GetMediaAsset(ctx, localID)
	if err != nil {
		return "", &PermanentError{Message: fmt.Sprintf("loading media asset: %v", err)}
	}
	if _, err := os.Stat(a.FilePath); os.IsNotExist(err) {
		return "", &PermanentError{Message: fmt.Sprintf("source file %s no longer exists", a.FilePath)}
	}

	presign, err := s.client.PresignUpload(ctx, &remote.PresignRequest{
		EntityType: string(schema.EntityMedia),
		FileName:   filepath.Base(a.FilePath),
		MimeType:   a.MimeType,
		SizeBytes:  a.SizeBytes,
	})
	if err != nil {
		return "", fmt.Errorf("presigning media upload: %w", err)
	}
	if err := s.client.UploadFile(ctx, presign.UploadURL, a.FilePath, a.MimeType); err != nil {
		return "", fmt.Errorf("uploading media payload: %w", err)
	}

	resp, err := s.client.RegisterMedia(ctx, &remote.RegisterMediaRequest{
		ProjectID:     a.ProjectID,
		EntryLocalID:  a.EntryLocalID,
		ObjectKey:     presign.ObjectKey,
		MimeType:      a.MimeType,
		SizeBytes:     a.SizeBytes,
		ClientLocalID: a.LocalID,
	})
	if err != nil {
		return "", err
	}
	return resp.ServerID, nil
}

// TrackSubmitter transmits GPS track files with the same two-step
// upload as media.
type TrackSubmitter struct {
	store  *store.Store
	client *remote.Client
}

func NewTrackSubmitter(st *store.Store, client *remote.Client) *TrackSubmitter {
	return &TrackSubmitter{store: st, client: client}
}

func (s *TrackSubmitter) EntityType() schema.EntityType {
	return schema.EntityTrack
}

func (s *TrackSubmitter) Submit(ctx context.Context, localID string) (string, error) {
	tr, err := s.store.GetGpsTrack(ctx, localID)
	if err != nil {
		return "", &PermanentError{Message: fmt.Sprintf("loading gps track: %v", err)}
	}
	if _, err := os.Stat(tr.FilePath); os.IsNotExist(err) {
		return "", &PermanentError{Message: fmt.Sprintf("source file %s no longer exists", tr.FilePath)}
	}

	presign, err := s.client.PresignUpload(ctx, &remote.PresignRequest{
		EntityType: string(schema.EntityTrack),
		FileName:   filepath.Base(tr.FilePath),
		SizeBytes:  tr.SizeBytes,
	})
	if err != nil {
		return "", fmt.Errorf("presigning track upload: %w", err)
	}
	if err := s.client.UploadFile(ctx, presign.UploadURL, tr.FilePath, "application/gpx+xml"); err != nil {
		return "", fmt.Errorf("uploading track payload: %w", err)
	}

	resp, err := s.client.RegisterTrack(ctx, &remote.RegisterTrackRequest{
		ProjectID:     tr.ProjectID,
		EntryLocalID:  tr.EntryLocalID,
		ObjectKey:     presign.ObjectKey,
		SizeBytes:     tr.SizeBytes,
		PointCount:    tr.PointCount,
		ClientLocalID: tr.LocalID,
	})
	if err != nil {
		return "", err
	}
	return resp.ServerID, nil
}
