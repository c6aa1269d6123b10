// Package syncer drains the outbox: workers claim queued entities,
// transmit them through a Submitter, and record the outcome. One worker
// runs per entity type so a backlog of large media uploads never delays
// progress entries.
package syncer

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/provtrack/fieldsync/internal/outbox"
	"github.com/provtrack/fieldsync/internal/remote"
	"github.com/provtrack/fieldsync/internal/schema"
)

// WorkerConfig tunes one sync worker.
type WorkerConfig struct {
	// Interval between periodic passes.
	Interval time.Duration

	// StaleAfter is the orphan-reclaim window: how long an entry may sit
	// in syncing before a pass treats it as orphaned by a crash and
	// reclaims it. Zero means one scheduling interval.
	StaleAfter time.Duration
}

// PassStats summarizes one sync pass.
type PassStats struct {
	Eligible int
	Synced   int
	Retried  int
	Failed   int
}

// Worker drains one entity type's outbox. It runs passes on a periodic
// ticker and on demand via Trigger.
type Worker struct {
	outbox *outbox.Manager
	sub    Submitter
	client *remote.Client
	cfg    WorkerConfig

	// trigger coalesces on-demand pass requests: many triggers during a
	// running pass collapse into one followup pass.
	trigger chan struct{}

	sink   EventSink
	logger *log.Logger
}

// NewWorker creates a sync worker for sub's entity type. client is used
// for token refresh after auth failures and may be nil in tests; sink
// and logger may be nil.
func NewWorker(ob *outbox.Manager, sub Submitter, client *remote.Client, cfg WorkerConfig, sink EventSink, logger *log.Logger) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = cfg.Interval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &Worker{
		outbox:  ob,
		sub:     sub,
		client:  client,
		cfg:     cfg,
		trigger: make(chan struct{}, 1),
		sink:    sink,
		logger:  logger,
	}
}

// Trigger requests an immediate pass. Non-blocking; a pending request
// absorbs further triggers.
func (w *Worker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run executes passes until ctx is cancelled: one on startup to drain
// work queued while the daemon was down, then on every tick or trigger.
func (w *Worker) Run(ctx context.Context) error {
	w.runPassLogged(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.runPassLogged(ctx)
		case <-w.trigger:
			w.runPassLogged(ctx)
		}
	}
}

func (w *Worker) runPassLogged(ctx context.Context) {
	stats, err := w.RunPass(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			w.logger.Printf("Sync pass for %s failed: %v", w.sub.EntityType(), err)
		}
		return
	}
	if stats.Eligible > 0 {
		w.logger.Printf("Sync pass for %s: %d eligible, %d synced, %d retried, %d failed",
			w.sub.EntityType(), stats.Eligible, stats.Synced, stats.Retried, stats.Failed)
	}
}

// RunPass executes one sync pass: reclaim orphans, snapshot the
// eligible pending entries in FIFO order, then claim and submit each.
// Entries that fail to claim were taken by a concurrent pass and are
// skipped without error.
func (w *Worker) RunPass(ctx context.Context) (PassStats, error) {
	var stats PassStats
	t := w.sub.EntityType()

	if _, err := w.outbox.ReclaimStale(ctx, t, w.cfg.StaleAfter); err != nil {
		return stats, err
	}

	entries, err := w.outbox.Eligible(ctx, t, time.Now())
	if err != nil {
		return stats, err
	}
	stats.Eligible = len(entries)

	for _, q := range entries {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		claimed, err := w.outbox.Claim(ctx, q)
		if err != nil {
			return stats, err
		}
		if !claimed {
			continue
		}

		serverID, err := w.sub.Submit(ctx, q.EntityLocalID)

		// A hash mismatch is not a failure: the server accepted the
		// entry. Surface the alert and record the sync as usual.
		var mismatch *HashMismatchError
		if errors.As(err, &mismatch) {
			w.logger.Printf("TAMPER ALERT: %v", mismatch)
			w.emit(Event{
				Kind:       EventTamperAlert,
				EntityType: t,
				LocalID:    q.EntityLocalID,
				ServerID:   mismatch.ServerID,
				Error:      mismatch.Error(),
				RetryCount: q.RetryCount,
				At:         time.Now(),
			})
			err = nil
		}

		if err != nil {
			retried, herr := w.handleFailure(ctx, q, err)
			if herr != nil {
				return stats, herr
			}
			if retried {
				stats.Retried++
			} else {
				stats.Failed++
			}
			continue
		}

		if err := w.outbox.MarkSuccess(ctx, q, serverID); err != nil {
			return stats, err
		}
		stats.Synced++
		w.emit(Event{
			Kind:       EventSynced,
			EntityType: t,
			LocalID:    q.EntityLocalID,
			ServerID:   serverID,
			RetryCount: q.RetryCount,
			At:         time.Now(),
		})
	}
	return stats, nil
}

// handleFailure resolves one submission error. Returns true when the
// entry was rescheduled for retry, false when it failed permanently.
func (w *Worker) handleFailure(ctx context.Context, q *schema.QueueEntry, submitErr error) (bool, error) {
	var perm *PermanentError
	if errors.As(submitErr, &perm) {
		return false, w.failPermanently(ctx, q, perm.Message, EventFailed)
	}

	switch remote.Classify(submitErr) {
	case remote.ClassPermanent:
		kind := EventFailed
		msg := submitErr.Error()
		if remote.IsConflict(submitErr) {
			kind = EventConflict
			msg = "chain conflict: " + msg
		}
		return false, w.failPermanently(ctx, q, msg, kind)

	case remote.ClassAuth:
		// Refresh the credentials before the entry becomes eligible
		// again; the retry itself still goes through the backoff gate
		// and counts against the budget.
		if w.client != nil {
			if rerr := w.client.Refresh(ctx); rerr != nil {
				w.logger.Printf("Token refresh failed: %v", rerr)
			}
		}
	}

	// Transient (and post-refresh auth) failures retry until the budget
	// runs out.
	if q.RetryCount >= outbox.MaxRetries-1 {
		msg := "retry budget exhausted: " + submitErr.Error()
		return false, w.failPermanently(ctx, q, msg, EventFailed)
	}

	if err := w.outbox.ResetForRetry(ctx, q); err != nil {
		return false, err
	}
	w.emit(Event{
		Kind:       EventRetryScheduled,
		EntityType: q.EntityType,
		LocalID:    q.EntityLocalID,
		Error:      submitErr.Error(),
		RetryCount: q.RetryCount + 1,
		At:         time.Now(),
	})
	return true, nil
}

func (w *Worker) failPermanently(ctx context.Context, q *schema.QueueEntry, msg string, kind EventKind) error {
	if err := w.outbox.MarkPermanentFailure(ctx, q, msg); err != nil {
		return err
	}
	w.emit(Event{
		Kind:       kind,
		EntityType: q.EntityType,
		LocalID:    q.EntityLocalID,
		Error:      msg,
		RetryCount: q.RetryCount,
		At:         time.Now(),
	})
	return nil
}

func (w *Worker) emit(e Event) {
	if w.sink != nil {
		w.sink.Publish(e)
	}
}
