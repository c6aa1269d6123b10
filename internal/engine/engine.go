// Package engine implements the durable write path and the manual
// remediation operations. Every capture goes to the local store first;
// network transmission happens later, in the background, and never
// gates the caller.
package engine

import (
	"context"
	"fmt"
	"log"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/provtrack/fieldsync/internal/hashchain"
	"github.com/provtrack/fieldsync/internal/remote"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/store"
)

// Notifier is called after a durable write so the daemon can trigger an
// immediate sync pass for the entity's type. Must not block.
type Notifier func(schema.EntityType)

// Engine coordinates durable writes against the local store.
type Engine struct {
	store  *store.Store
	client *remote.Client // nil when operating without credentials
	notify Notifier
	logger *log.Logger
}

// New creates an Engine. client may be nil; captures work fully offline.
func New(st *store.Store, client *remote.Client, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	return &Engine{store: st, client: client, logger: logger}
}

// SetNotifier registers the post-write sync trigger.
func (e *Engine) SetNotifier(fn Notifier) {
	e.notify = fn
}

// CreateProgressEntry appends a progress report to the project's local
// chain and queues it for sync. On return the entry is durable: it
// survives restarts and will eventually reach the backend.
//
// The chain links in local creation order. The previous hash comes from
// the most recent non-failed entry for the project, synced or not, so
// entries captured back-to-back offline still chain correctly. The head
// read and the insert share one store transaction, so concurrent
// writers cannot link to the same predecessor.
func (e *Engine) CreateProgressEntry(ctx context.Context, projectID, description string, percent int, loc *schema.Location) (*schema.ProgressEntry, error) {
	entry := &schema.ProgressEntry{
		LocalID:     uuid.NewString(),
		ProjectID:   projectID,
		Description: description,
		Percent:     percent,
		Location:    loc,
		CreatedAt:   time.Now(),
		SyncStatus:  schema.StatusPending,
	}

	if err := e.store.AppendProgressEntry(ctx, entry); err != nil {
		return nil, err
	}
	e.logger.Printf("Recorded progress for %s: %d%% (entry %s)", projectID, percent, entry.LocalID)
	e.fireNotify(schema.EntityProgress)
	return entry, nil
}

// AddMediaAsset records a local media file for upload. The file itself
// stays in place; only metadata is stored now, the payload moves during
// sync.
func (e *Engine) AddMediaAsset(ctx context.Context, projectID, entryLocalID, filePath string) (*schema.MediaAsset, error) {
	abs, info, err := statCapture(filePath)
	if err != nil {
		return nil, err
	}

	asset := &schema.MediaAsset{
		LocalID:      uuid.NewString(),
		ProjectID:    projectID,
		EntryLocalID: entryLocalID,
		FilePath:     abs,
		MimeType:     detectMimeType(abs),
		SizeBytes:    info.Size(),
		CreatedAt:    time.Now(),
		SyncStatus:   schema.StatusPending,
	}

	if err := e.store.CreateMediaAsset(ctx, asset); err != nil {
		return nil, err
	}
	e.logger.Printf("Recorded media %s for %s (%d bytes)", filepath.Base(abs), projectID, asset.SizeBytes)
	e.fireNotify(schema.EntityMedia)
	return asset, nil
}

// AddGpsTrack records a local GPS track file (GPX) for upload.
func (e *Engine) AddGpsTrack(ctx context.Context, projectID, entryLocalID, filePath string) (*schema.GpsTrack, error) {
	abs, info, err := statCapture(filePath)
	if err != nil {
		return nil, err
	}

	track := &schema.GpsTrack{
		LocalID:      uuid.NewString(),
		ProjectID:    projectID,
		EntryLocalID: entryLocalID,
		FilePath:     abs,
		SizeBytes:    info.Size(),
		PointCount:   countTrackPoints(abs),
		CreatedAt:    time.Now(),
		SyncStatus:   schema.StatusPending,
	}

	if err := e.store.CreateGpsTrack(ctx, track); err != nil {
		return nil, err
	}
	e.logger.Printf("Recorded track %s for %s (%d points)", filepath.Base(abs), projectID, track.PointCount)
	e.fireNotify(schema.EntityTrack)
	return track, nil
}

// VerifyProject recomputes the project's local hash chain and returns
// the verification result alongside the entries checked.
func (e *Engine) VerifyProject(ctx context.Context, projectID string) (hashchain.Result, []*schema.ProgressEntry, error) {
	entries, err := e.store.ListChainEntries(ctx, projectID)
	if err != nil {
		return hashchain.Result{}, nil, err
	}
	return hashchain.Verify(entries), entries, nil
}

// Resubmit returns a permanently failed entity to the sync queue and
// reports the local ID to watch for the outcome.
//
// Entry content and hashes are immutable, so a failed progress entry is
// never edited in place. Instead a new entry with the same content is
// created against the current chain head (fetched from the backend when
// reachable, the local head otherwise) and the failed one stays visible
// with its error. Media and tracks re-enter the queue unchanged.
func (e *Engine) Resubmit(ctx context.Context, t schema.EntityType, localID string) (string, error) {
	if t != schema.EntityProgress {
		if err := e.store.ResetEntityForResubmit(ctx, t, localID); err != nil {
			return "", err
		}
		e.fireNotify(t)
		return localID, nil
	}

	entry, err := e.store.GetProgressEntry(ctx, localID)
	if err != nil {
		return "", err
	}
	if entry.SyncStatus != schema.StatusFailed {
		return "", fmt.Errorf("entry %s is %s; only failed entries can be resubmitted", localID, entry.SyncStatus)
	}

	prevHash, err := e.chainHeadHash(ctx, entry.ProjectID)
	if err != nil {
		return "", err
	}

	replacement := &schema.ProgressEntry{
		LocalID:      uuid.NewString(),
		ProjectID:    entry.ProjectID,
		Description:  entry.Description,
		Percent:      entry.Percent,
		Location:     entry.Location,
		PreviousHash: prevHash,
		CurrentHash:  hashchain.Compute(entry.ProjectID, entry.Description, entry.Percent, prevHash),
		CreatedAt:    time.Now().UTC(),
		SyncStatus:   schema.StatusPending,
	}
	if err := e.store.CreateProgressEntry(ctx, replacement); err != nil {
		return "", err
	}
	e.logger.Printf("Resubmitted entry %s as %s against current chain head", localID, replacement.LocalID)
	e.fireNotify(schema.EntityProgress)
	return replacement.LocalID, nil
}

// chainHeadHash resolves the hash a resubmitted entry must link to.
// The backend's head wins when reachable; otherwise the local head
// stands in, which is correct whenever the original failure was not a
// chain conflict.
func (e *Engine) chainHeadHash(ctx context.Context, projectID string) (string, error) {
	if e.client != nil {
		latest, err := e.client.LatestProgress(ctx, projectID)
		if err == nil {
			return latest.CurrentHash, nil
		}
		e.logger.Printf("Chain head fetch failed, falling back to local head: %v", err)
	}

	head, err := e.store.LatestChainEntry(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("reading chain head: %w", err)
	}
	if head == nil {
		return "", nil
	}
	return head.CurrentHash, nil
}

// StatusSummary reports entity counts per sync status for every type.
func (e *Engine) StatusSummary(ctx context.Context) (map[schema.EntityType]map[schema.SyncStatus]int, error) {
	out := make(map[schema.EntityType]map[schema.SyncStatus]int)
	for _, t := range schema.EntityTypes() {
		counts, err := e.store.CountByStatus(ctx, t)
		if err != nil {
			return nil, err
		}
		out[t] = counts
	}
	return out, nil
}

func (e *Engine) fireNotify(t schema.EntityType) {
	if e.notify != nil {
		e.notify(t)
	}
}

// statCapture resolves and checks a capture file before recording it.
func statCapture(filePath string) (string, os.FileInfo, error) {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return "", nil, fmt.Errorf("resolving path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", nil, fmt.Errorf("capture file: %w", err)
	}
	if info.IsDir() {
		return "", nil, fmt.Errorf("capture path %s is a directory", abs)
	}
	return abs, info, nil
}

func detectMimeType(path string) string {
	if mt := mime.TypeByExtension(filepath.Ext(path)); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// countTrackPoints counts trackpoint elements in a GPX file. Best
// effort; an unreadable file counts as zero points and still syncs.
func countTrackPoints(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	return strings.Count(string(data), "<trkpt")
}
