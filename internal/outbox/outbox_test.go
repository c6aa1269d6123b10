package outbox

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/provtrack/fieldsync/internal/hashchain"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	caps := map[schema.EntityType]time.Duration{
		schema.EntityProgress: time.Minute,
	}
	m := New(st, time.Second, caps, log.New(io.Discard, "", 0))
	return m, st
}

func createPendingEntry(t *testing.T, st *store.Store, localID string) *schema.QueueEntry {
	t.Helper()
	ctx := context.Background()

	e := &schema.ProgressEntry{
		LocalID:     localID,
		ProjectID:   "proj-1",
		Description: "desc",
		Percent:     10,
		CurrentHash: hashchain.Compute("proj-1", "desc", 10, ""),
		CreatedAt:   time.Now(),
		SyncStatus:  schema.StatusPending,
	}
	if err := st.CreateProgressEntry(ctx, e); err != nil {
		t.Fatalf("CreateProgressEntry() failed: %v", err)
	}
	q, err := st.QueueEntryForEntity(ctx, schema.EntityProgress, localID)
	if err != nil {
		t.Fatalf("QueueEntryForEntity() failed: %v", err)
	}
	return q
}

func TestBackoff_ExponentialWithCap(t *testing.T) {
	m, _ := newTestManager(t)

	var prev time.Duration
	for retry := 0; retry < 5; retry++ {
		d := m.Backoff(schema.EntityProgress, retry)
		if d <= prev && d != time.Minute {
			t.Errorf("Backoff(%d) = %v, not strictly increasing (prev %v)", retry, d, prev)
		}
		if d > time.Minute {
			t.Errorf("Backoff(%d) = %v exceeds the cap", retry, d)
		}
		prev = d
	}

	if d := m.Backoff(schema.EntityProgress, 0); d != time.Second {
		t.Errorf("Backoff(0) = %v, want base interval", d)
	}
	if d := m.Backoff(schema.EntityProgress, 3); d != 8*time.Second {
		t.Errorf("Backoff(3) = %v, want 8s", d)
	}

	// Large retry counts saturate at the cap, never overflow.
	if d := m.Backoff(schema.EntityProgress, 40); d != time.Minute {
		t.Errorf("Backoff(40) = %v, want cap", d)
	}
	// Unknown types fall back to the one-minute ceiling.
	if d := m.Backoff(schema.EntityMedia, 20); d != time.Minute {
		t.Errorf("Backoff(media, 20) = %v, want fallback cap", d)
	}
}

func TestResetForRetry_SchedulesBackoff(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	q := createPendingEntry(t, st, "local-1")
	if _, err := m.Claim(ctx, q); err != nil {
		t.Fatalf("Claim() failed: %v", err)
	}

	before := time.Now()
	if err := m.ResetForRetry(ctx, q); err != nil {
		t.Fatalf("ResetForRetry() failed: %v", err)
	}

	q2, _ := st.QueueEntryForEntity(ctx, schema.EntityProgress, "local-1")
	if q2.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", q2.RetryCount)
	}
	// retry 0 uses the base interval.
	wantEarliest := before.Add(time.Second - 50*time.Millisecond)
	if q2.NextAttemptAt.Before(wantEarliest) {
		t.Errorf("next attempt %v earlier than backoff window", q2.NextAttemptAt)
	}
}

func TestResetForRetry_BackoffGrowsAcrossAttempts(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	createPendingEntry(t, st, "local-1")

	var delays []time.Duration
	for i := 0; i < 4; i++ {
		cur, _ := st.QueueEntryForEntity(ctx, schema.EntityProgress, "local-1")
		if _, err := m.Claim(ctx, cur); err != nil {
			t.Fatalf("Claim() failed: %v", err)
		}
		start := time.Now()
		if err := m.ResetForRetry(ctx, cur); err != nil {
			t.Fatalf("ResetForRetry() failed: %v", err)
		}
		after, _ := st.QueueEntryForEntity(ctx, schema.EntityProgress, "local-1")
		delays = append(delays, after.NextAttemptAt.Sub(start))
	}

	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Errorf("delay %d (%v) not greater than delay %d (%v)",
				i, delays[i], i-1, delays[i-1])
		}
	}
}

func TestMarkPermanentFailure_RetainsEntity(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	q := createPendingEntry(t, st, "local-1")
	if _, err := m.Claim(ctx, q); err != nil {
		t.Fatalf("Claim() failed: %v", err)
	}
	if err := m.MarkPermanentFailure(ctx, q, "chain conflict: previous_hash mismatch"); err != nil {
		t.Fatalf("MarkPermanentFailure() failed: %v", err)
	}

	e, err := st.GetProgressEntry(ctx, "local-1")
	if err != nil {
		t.Fatalf("entity was deleted, want retained: %v", err)
	}
	if e.SyncStatus != schema.StatusFailed {
		t.Errorf("status = %q, want failed", e.SyncStatus)
	}
	if e.SyncError != "chain conflict: previous_hash mismatch" {
		t.Errorf("sync error = %q", e.SyncError)
	}

	depth, _ := m.Depth(ctx, schema.EntityProgress)
	if depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

func TestMarkSuccess(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	q := createPendingEntry(t, st, "local-1")
	if _, err := m.Claim(ctx, q); err != nil {
		t.Fatalf("Claim() failed: %v", err)
	}
	if err := m.MarkSuccess(ctx, q, "srv-7"); err != nil {
		t.Fatalf("MarkSuccess() failed: %v", err)
	}

	e, _ := st.GetProgressEntry(ctx, "local-1")
	if e.SyncStatus != schema.StatusSynced || e.ServerID != "srv-7" {
		t.Errorf("entity = status %q server %q, want synced/srv-7", e.SyncStatus, e.ServerID)
	}
}

func TestReclaimStale(t *testing.T) {
	m, st := newTestManager(t)
	ctx := context.Background()

	q := createPendingEntry(t, st, "local-1")
	if _, err := m.Claim(ctx, q); err != nil {
		t.Fatalf("Claim() failed: %v", err)
	}

	// Entry was just claimed; a normal staleness window leaves it alone.
	n, err := m.ReclaimStale(ctx, schema.EntityProgress, time.Minute)
	if err != nil {
		t.Fatalf("ReclaimStale() failed: %v", err)
	}
	if n != 0 {
		t.Errorf("reclaimed %d, want 0", n)
	}

	// A zero window treats it as orphaned immediately.
	time.Sleep(10 * time.Millisecond)
	n, err = m.ReclaimStale(ctx, schema.EntityProgress, 0)
	if err != nil {
		t.Fatalf("ReclaimStale() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reclaimed %d, want 1", n)
	}
}
