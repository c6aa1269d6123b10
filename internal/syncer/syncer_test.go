package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/provtrack/fieldsync/internal/hashchain"
	"github.com/provtrack/fieldsync/internal/outbox"
	"github.com/provtrack/fieldsync/internal/remote"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/store"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Publish(e Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *captureSink) kinds() []EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	kinds := make([]EventKind, len(s.events))
	for i, e := range s.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

// newTestOutbox uses a millisecond-scale backoff so retry tests run in
// real time.
func newTestOutbox(st *store.Store) *outbox.Manager {
	caps := map[schema.EntityType]time.Duration{
		schema.EntityProgress: 5 * time.Millisecond,
		schema.EntityMedia:    5 * time.Millisecond,
		schema.EntityTrack:    5 * time.Millisecond,
	}
	return outbox.New(st, time.Millisecond, caps, log.New(io.Discard, "", 0))
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// createChainedEntry appends a progress entry to the local chain, the
// way the write path does: previous hash from the chain head, current
// hash computed over the content.
func createChainedEntry(t *testing.T, st *store.Store, localID, projectID, desc string, percent int) *schema.ProgressEntry {
	t.Helper()
	ctx := context.Background()

	prev, err := st.LatestChainEntry(ctx, projectID)
	if err != nil {
		t.Fatalf("LatestChainEntry() failed: %v", err)
	}
	prevHash := ""
	if prev != nil {
		prevHash = prev.CurrentHash
	}

	e := &schema.ProgressEntry{
		LocalID:      localID,
		ProjectID:    projectID,
		Description:  desc,
		Percent:      percent,
		PreviousHash: prevHash,
		CurrentHash:  hashchain.Compute(projectID, desc, percent, prevHash),
		CreatedAt:    time.Now(),
		SyncStatus:   schema.StatusPending,
	}
	if err := st.CreateProgressEntry(ctx, e); err != nil {
		t.Fatalf("CreateProgressEntry() failed: %v", err)
	}
	return e
}

// progressBackend is an httptest handler that accepts chained progress
// entries, recomputing the hash the way the real backend does.
type progressBackend struct {
	mu       sync.Mutex
	received []remote.CreateProgressRequest
	nextID   int
	status   int // non-zero forces this status on every create
}

func (b *progressBackend) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remote.CreateProgressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.status != 0 {
			w.WriteHeader(b.status)
			fmt.Fprintf(w, `{"detail": "forced status %d"}`, b.status)
			return
		}
		b.received = append(b.received, req)
		b.nextID++

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(remote.CreateProgressResponse{
			ServerID:    fmt.Sprintf("srv-%d", b.nextID),
			CurrentHash: hashchain.Compute(req.ProjectID, req.Description, req.Percent, req.PreviousHash),
			CreatedAt:   time.Now().UTC(),
		})
	}
}

func (b *progressBackend) requestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.received)
}

func TestRunPass_SyncsOfflineBacklogInOrder(t *testing.T) {
	st := newTestStore(t)
	ob := newTestOutbox(st)
	ctx := context.Background()

	backend := &progressBackend{}
	srv := httptest.NewServer(backend.handler())
	defer srv.Close()

	// Three entries captured while offline.
	createChainedEntry(t, st, "local-1", "proj-1", "foundation poured", 20)
	createChainedEntry(t, st, "local-2", "proj-1", "walls framed", 45)
	createChainedEntry(t, st, "local-3", "proj-1", "roof decked", 60)

	sink := &captureSink{}
	client := remote.New(srv.URL)
	w := NewWorker(ob, NewProgressSubmitter(st, client), client, WorkerConfig{}, sink, discardLogger())

	stats, err := w.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() failed: %v", err)
	}
	if stats.Synced != 3 {
		t.Fatalf("synced = %d, want 3", stats.Synced)
	}

	// FIFO: the backend saw the entries in creation order.
	if got := len(backend.received); got != 3 {
		t.Fatalf("backend received %d requests, want 3", got)
	}
	for i, want := range []string{"local-1", "local-2", "local-3"} {
		if backend.received[i].ClientLocalID != want {
			t.Errorf("request %d client_local_id = %q, want %q", i, backend.received[i].ClientLocalID, want)
		}
	}

	// All synced with distinct server IDs, chain intact.
	seen := map[string]bool{}
	for _, id := range []string{"local-1", "local-2", "local-3"} {
		e, err := st.GetProgressEntry(ctx, id)
		if err != nil {
			t.Fatalf("GetProgressEntry(%s) failed: %v", id, err)
		}
		if e.SyncStatus != schema.StatusSynced {
			t.Errorf("%s status = %q, want synced", id, e.SyncStatus)
		}
		if e.ServerID == "" || seen[e.ServerID] {
			t.Errorf("%s server_id = %q, want distinct non-empty", id, e.ServerID)
		}
		seen[e.ServerID] = true
	}

	entries, err := st.ListChainEntries(ctx, "proj-1")
	if err != nil {
		t.Fatalf("ListChainEntries() failed: %v", err)
	}
	if res := hashchain.Verify(entries); !res.Valid {
		t.Errorf("chain broken at index %d after sync", res.BrokenAt)
	}

	depth, _ := ob.Depth(ctx, schema.EntityProgress)
	if depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
	for _, k := range sink.kinds() {
		if k != EventSynced {
			t.Errorf("event kind = %q, want synced", k)
		}
	}
}

func TestRunPass_ConflictFailsWithoutRetry(t *testing.T) {
	st := newTestStore(t)
	ob := newTestOutbox(st)
	ctx := context.Background()

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"detail": "previous_hash does not match chain head"}`)
	}))
	defer srv.Close()

	createChainedEntry(t, st, "local-1", "proj-1", "stale entry", 30)

	sink := &captureSink{}
	client := remote.New(srv.URL)
	w := NewWorker(ob, NewProgressSubmitter(st, client), client, WorkerConfig{}, sink, discardLogger())

	stats, err := w.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() failed: %v", err)
	}
	if stats.Failed != 1 || stats.Retried != 0 {
		t.Errorf("stats = %+v, want 1 failed, 0 retried", stats)
	}
	if hits != 1 {
		t.Errorf("backend hit %d times, want exactly 1", hits)
	}

	e, _ := st.GetProgressEntry(ctx, "local-1")
	if e.SyncStatus != schema.StatusFailed {
		t.Errorf("status = %q, want failed", e.SyncStatus)
	}
	if e.SyncError == "" {
		t.Error("sync_error is empty, want conflict detail")
	}

	kinds := sink.kinds()
	if len(kinds) != 1 || kinds[0] != EventConflict {
		t.Errorf("events = %v, want one conflict", kinds)
	}
}

func TestRunPass_TransientFailureExhaustsRetryBudget(t *testing.T) {
	st := newTestStore(t)
	ob := newTestOutbox(st)
	ctx := context.Background()

	backend := &progressBackend{status: http.StatusInternalServerError}
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		backend.handler()(w, r)
	}))
	defer srv.Close()

	createChainedEntry(t, st, "local-1", "proj-1", "unlucky entry", 30)

	sink := &captureSink{}
	client := remote.New(srv.URL)
	w := NewWorker(ob, NewProgressSubmitter(st, client), client, WorkerConfig{}, sink, discardLogger())

	// Drive passes until the entry leaves the queue; each retry is gated
	// by a millisecond-scale backoff window.
	for i := 0; i < 20; i++ {
		if _, err := w.RunPass(ctx); err != nil {
			t.Fatalf("RunPass() failed: %v", err)
		}
		depth, _ := ob.Depth(ctx, schema.EntityProgress)
		if depth == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if hits != outbox.MaxRetries {
		t.Errorf("backend hit %d times, want %d", hits, outbox.MaxRetries)
	}

	e, _ := st.GetProgressEntry(ctx, "local-1")
	if e.SyncStatus != schema.StatusFailed {
		t.Errorf("status = %q, want failed after exhausted budget", e.SyncStatus)
	}

	kinds := sink.kinds()
	if len(kinds) != outbox.MaxRetries {
		t.Fatalf("got %d events, want %d", len(kinds), outbox.MaxRetries)
	}
	for i := 0; i < len(kinds)-1; i++ {
		if kinds[i] != EventRetryScheduled {
			t.Errorf("event %d = %q, want retry_scheduled", i, kinds[i])
		}
	}
	if kinds[len(kinds)-1] != EventFailed {
		t.Errorf("final event = %q, want failed", kinds[len(kinds)-1])
	}
}

func TestRunPass_HashMismatchSyncsWithTamperAlert(t *testing.T) {
	st := newTestStore(t)
	ob := newTestOutbox(st)
	sink := &captureSink{}
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(remote.CreateProgressResponse{
			ServerID:    "srv-1",
			CurrentHash: "deadbeef",
		})
	}))
	defer srv.Close()

	createChainedEntry(t, st, "local-1", "proj-1", "tampered", 30)

	client := remote.New(srv.URL)
	w := NewWorker(ob, NewProgressSubmitter(st, client), client, WorkerConfig{}, sink, discardLogger())

	stats, err := w.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() failed: %v", err)
	}
	if stats.Synced != 1 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want 1 synced, 0 failed", stats)
	}

	// The server accepted the entry, so it is synced; the mismatch is
	// reported, not trusted.
	e, _ := st.GetProgressEntry(ctx, "local-1")
	if e.SyncStatus != schema.StatusSynced {
		t.Errorf("status = %q, want synced", e.SyncStatus)
	}
	if e.ServerID != "srv-1" {
		t.Errorf("server ID = %q, want srv-1", e.ServerID)
	}

	kinds := sink.kinds()
	if len(kinds) != 2 || kinds[0] != EventTamperAlert || kinds[1] != EventSynced {
		t.Fatalf("events = %v, want [tamper_alert synced]", kinds)
	}
	alert := sink.all()[0]
	if alert.ServerID != "srv-1" || alert.Error == "" {
		t.Errorf("tamper alert = %+v, want server ID and error populated", alert)
	}
}

func TestRunPass_AuthFailureRefreshesToken(t *testing.T) {
	st := newTestStore(t)
	ob := newTestOutbox(st)
	ctx := context.Background()

	backend := &progressBackend{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-fresh"})
	})
	mux.HandleFunc("/api/projects/proj-1/progress", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"detail": "token expired"}`)
			return
		}
		backend.handler()(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	createChainedEntry(t, st, "local-1", "proj-1", "after expiry", 30)

	client := remote.NewWithToken(srv.URL, "tok-stale", "refresh-1")
	w := NewWorker(ob, NewProgressSubmitter(st, client), client, WorkerConfig{}, nil, discardLogger())

	// First pass hits the expired token, refreshes, and reschedules.
	stats, err := w.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() failed: %v", err)
	}
	if stats.Retried != 1 {
		t.Fatalf("stats = %+v, want 1 retried", stats)
	}
	if client.Token() != "tok-fresh" {
		t.Fatalf("token = %q, want refreshed", client.Token())
	}

	// Second pass succeeds with the fresh token once the backoff window
	// elapses.
	time.Sleep(10 * time.Millisecond)
	stats, err = w.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() failed: %v", err)
	}
	if stats.Synced != 1 {
		t.Errorf("stats = %+v, want 1 synced", stats)
	}
	if backend.requestCount() != 1 {
		t.Errorf("authorized requests = %d, want 1", backend.requestCount())
	}
}

func TestRunPass_MediaTwoStepUpload(t *testing.T) {
	st := newTestStore(t)
	ob := newTestOutbox(st)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "site.jpg")
	if err := os.WriteFile(path, []byte("jpeg-bytes"), 0644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	var uploaded []byte
	var registered remote.RegisterMediaRequest

	mux := http.NewServeMux()
	var baseURL string
	mux.HandleFunc("/api/uploads/presign", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.PresignResponse{
			UploadURL: baseURL + "/bucket/media/key-1",
			ObjectKey: "media/key-1",
		})
	})
	mux.HandleFunc("/bucket/media/key-1", func(w http.ResponseWriter, r *http.Request) {
		uploaded, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/projects/proj-1/media", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&registered)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(remote.RegisterResponse{ServerID: "srv-m1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	baseURL = srv.URL

	a := &schema.MediaAsset{
		LocalID:    "media-1",
		ProjectID:  "proj-1",
		FilePath:   path,
		MimeType:   "image/jpeg",
		SizeBytes:  int64(len("jpeg-bytes")),
		CreatedAt:  time.Now(),
		SyncStatus: schema.StatusPending,
	}
	if err := st.CreateMediaAsset(ctx, a); err != nil {
		t.Fatalf("CreateMediaAsset() failed: %v", err)
	}

	client := remote.New(srv.URL)
	w := NewWorker(ob, NewMediaSubmitter(st, client), client, WorkerConfig{}, nil, discardLogger())

	stats, err := w.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() failed: %v", err)
	}
	if stats.Synced != 1 {
		t.Fatalf("stats = %+v, want 1 synced", stats)
	}

	if string(uploaded) != "jpeg-bytes" {
		t.Errorf("uploaded payload = %q", uploaded)
	}
	if registered.ObjectKey != "media/key-1" {
		t.Errorf("registered object_key = %q", registered.ObjectKey)
	}
	if registered.ClientLocalID != "media-1" {
		t.Errorf("registered client_local_id = %q", registered.ClientLocalID)
	}

	got, _ := st.GetMediaAsset(ctx, "media-1")
	if got.SyncStatus != schema.StatusSynced || got.ServerID != "srv-m1" {
		t.Errorf("asset = status %q server %q, want synced/srv-m1", got.SyncStatus, got.ServerID)
	}
}

func TestRunPass_MissingSourceFileFailsPermanently(t *testing.T) {
	st := newTestStore(t)
	ob := newTestOutbox(st)
	ctx := context.Background()

	a := &schema.MediaAsset{
		LocalID:    "media-1",
		ProjectID:  "proj-1",
		FilePath:   filepath.Join(t.TempDir(), "gone.jpg"),
		MimeType:   "image/jpeg",
		SizeBytes:  10,
		CreatedAt:  time.Now(),
		SyncStatus: schema.StatusPending,
	}
	if err := st.CreateMediaAsset(ctx, a); err != nil {
		t.Fatalf("CreateMediaAsset() failed: %v", err)
	}

	client := remote.New("http://127.0.0.1:0")
	w := NewWorker(ob, NewMediaSubmitter(st, client), client, WorkerConfig{}, nil, discardLogger())

	stats, err := w.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() failed: %v", err)
	}
	if stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 failed", stats)
	}

	got, _ := st.GetMediaAsset(ctx, "media-1")
	if got.SyncStatus != schema.StatusFailed {
		t.Errorf("status = %q, want failed", got.SyncStatus)
	}
}

func TestTrigger_Coalesces(t *testing.T) {
	st := newTestStore(t)
	ob := newTestOutbox(st)

	client := remote.New("http://127.0.0.1:0")
	w := NewWorker(ob, NewProgressSubmitter(st, client), client, WorkerConfig{}, nil, discardLogger())

	// Many triggers while no pass is draining collapse to one pending
	// request; none of these block.
	for i := 0; i < 10; i++ {
		w.Trigger()
	}
	if len(w.trigger) != 1 {
		t.Errorf("trigger backlog = %d, want 1", len(w.trigger))
	}
}

func TestNewWorker_StaleAfterDefaultsToInterval(t *testing.T) {
	st := newTestStore(t)
	ob := newTestOutbox(st)
	client := remote.New("http://127.0.0.1:0")
	sub := NewProgressSubmitter(st, client)

	// Zero StaleAfter means one scheduling interval for this worker.
	w := NewWorker(ob, sub, client, WorkerConfig{Interval: 30 * time.Second}, nil, discardLogger())
	if w.cfg.StaleAfter != 30*time.Second {
		t.Errorf("StaleAfter = %v, want the 30s interval", w.cfg.StaleAfter)
	}

	// An explicit window is kept as configured.
	w = NewWorker(ob, sub, client, WorkerConfig{Interval: 30 * time.Second, StaleAfter: 2 * time.Minute}, nil, discardLogger())
	if w.cfg.StaleAfter != 2*time.Minute {
		t.Errorf("StaleAfter = %v, want configured 2m", w.cfg.StaleAfter)
	}
}
