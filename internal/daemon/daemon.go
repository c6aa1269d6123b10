// Package daemon runs the background half of fieldsync: connectivity
// monitoring, the per-type sync workers, the capture directory watcher,
// and the optional WebSocket dashboard.
//
// The daemon:
//  1. Probes backend connectivity and triggers sync on recovery
//  2. Drains the outbox with one worker per entity type
//  3. Watches capture directories and records settled files
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/provtrack/fieldsync/internal/config"
	"github.com/provtrack/fieldsync/internal/dashboard"
	"github.com/provtrack/fieldsync/internal/engine"
	"github.com/provtrack/fieldsync/internal/netmon"
	"github.com/provtrack/fieldsync/internal/outbox"
	"github.com/provtrack/fieldsync/internal/remote"
	"github.com/provtrack/fieldsync/internal/schema"
	"github.com/provtrack/fieldsync/internal/store"
	"github.com/provtrack/fieldsync/internal/syncer"
)

// pendingCapture is a watched file waiting out its debounce window.
type pendingCapture struct {
	kind CaptureKind
	at   time.Time
}

// Daemon wires the sync engine's background components together.
type Daemon struct {
	cfg    *config.Config
	store  *store.Store
	eng    *engine.Engine
	client *remote.Client

	workers map[schema.EntityType]*syncer.Worker

	changeQueue   map[string]pendingCapture
	changeQueueMu sync.Mutex

	logWriter io.Writer
	logger    *log.Logger
}

// New creates a Daemon over an already-open store. The caller keeps
// ownership of the store.
func New(cfg *config.Config, st *store.Store) *Daemon {
	logWriter := newLogWriter(cfg.Log)
	client := remote.NewWithToken(cfg.ServerURL, cfg.Auth.Token, cfg.Auth.RefreshToken)

	d := &Daemon{
		cfg:         cfg,
		store:       st,
		client:      client,
		changeQueue: make(map[string]pendingCapture),
		logWriter:   logWriter,
		logger:      log.New(logWriter, "[daemon] ", log.LstdFlags),
	}
	d.eng = engine.New(st, client, d.componentLogger("engine"))
	return d
}

// newLogWriter builds the daemon log destination: stderr, plus a
// rotated file when configured.
func newLogWriter(lc config.LogConfig) io.Writer {
	if lc.File == "" {
		return os.Stderr
	}
	return io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
	})
}

func (d *Daemon) componentLogger(name string) *log.Logger {
	return log.New(d.logWriter, "["+name+"] ", log.LstdFlags)
}

// Engine returns the daemon's engine, wired to trigger sync passes
// after durable writes once Run has started.
func (d *Daemon) Engine() *engine.Engine {
	return d.eng
}

// Run starts all background components and blocks until ctx is
// cancelled. A clean shutdown returns nil.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Printf("Starting daemon (server: %s)", d.cfg.ServerURL)

	caps := map[schema.EntityType]time.Duration{
		schema.EntityProgress: d.cfg.Sync.ProgressInterval,
		schema.EntityMedia:    d.cfg.Sync.MediaInterval,
		schema.EntityTrack:    d.cfg.Sync.TrackInterval,
	}
	ob := outbox.New(d.store, d.cfg.Sync.BackoffBase, caps, d.componentLogger("outbox"))

	monitor := netmon.New(d.client.Health, d.cfg.Sync.ProbeInterval, d.componentLogger("netmon"))

	// Optional dashboard.
	var handler *dashboard.Handler
	var sink syncer.EventSink
	var dash *dashboard.Server
	if d.cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(&dashboard.Config{
			Port:   d.cfg.Dashboard.Port,
			Logger: d.componentLogger("dashboard"),
		})
		if err := dash.Start(); err != nil {
			return fmt.Errorf("starting dashboard: %w", err)
		}
		defer func() { _ = dash.Stop() }()

		handler = dashboard.NewHandler(dash, d.eng, d.componentLogger("dashboard"))
		sink = handler
	}

	syncerLogger := d.componentLogger("syncer")
	d.workers = map[schema.EntityType]*syncer.Worker{
		schema.EntityProgress: syncer.NewWorker(ob, syncer.NewProgressSubmitter(d.store, d.client), d.client,
			syncer.WorkerConfig{Interval: d.cfg.Sync.ProgressInterval, StaleAfter: d.cfg.Sync.StaleAfter}, sink, syncerLogger),
		schema.EntityMedia: syncer.NewWorker(ob, syncer.NewMediaSubmitter(d.store, d.client), d.client,
			syncer.WorkerConfig{Interval: d.cfg.Sync.MediaInterval, StaleAfter: d.cfg.Sync.StaleAfter}, sink, syncerLogger),
		schema.EntityTrack: syncer.NewWorker(ob, syncer.NewTrackSubmitter(d.store, d.client), d.client,
			syncer.WorkerConfig{Interval: d.cfg.Sync.TrackInterval, StaleAfter: d.cfg.Sync.StaleAfter}, sink, syncerLogger),
	}

	// The post-write trigger is opportunistic: durability is already
	// satisfied, so while offline the entry just waits for the monitor's
	// restored-connectivity trigger or the periodic pass.
	d.eng.SetNotifier(func(t schema.EntityType) {
		if !monitor.Online() {
			return
		}
		if w := d.workers[t]; w != nil {
			w.Trigger()
		}
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ignoreCanceled(monitor.Run(ctx)) })
	for _, w := range d.workers {
		w := w
		g.Go(func() error { return ignoreCanceled(w.Run(ctx)) })
	}
	g.Go(func() error { return d.forwardConnectivity(ctx, monitor, handler) })

	if d.cfg.Watch.Enabled {
		if err := d.startWatcher(ctx, g); err != nil {
			d.logger.Printf("Capture watching disabled: %v", err)
		}
	}

	if handler != nil {
		handler.BroadcastStatus(ctx)
	}

	err := g.Wait()
	d.logger.Println("Daemon stopped")
	return err
}

// TriggerAll requests an immediate pass from every worker.
func (d *Daemon) TriggerAll() {
	for _, w := range d.workers {
		w.Trigger()
	}
}

// forwardConnectivity relays monitor transitions: sync passes fire the
// moment the device comes back online, and the dashboard learns of the
// change.
func (d *Daemon) forwardConnectivity(ctx context.Context, monitor *netmon.Monitor, handler *dashboard.Handler) error {
	ch := monitor.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case online := <-ch:
			if handler != nil {
				handler.OnConnectivityChange(online)
			}
			if online {
				d.logger.Println("Back online, triggering sync passes")
				d.TriggerAll()
			}
		}
	}
}

// startWatcher begins capture directory watching with debounced
// registration.
func (d *Daemon) startWatcher(ctx context.Context, g *errgroup.Group) error {
	if d.cfg.ProjectID == "" {
		return fmt.Errorf("watch requires a default project_id in config")
	}

	watcher, err := NewCaptureWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Start(d.cfg.Watch.MediaDir, d.cfg.Watch.TrackDir); err != nil {
		return err
	}
	d.logger.Printf("Watching captures: media=%s track=%s", d.cfg.Watch.MediaDir, d.cfg.Watch.TrackDir)

	g.Go(func() error {
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-watcher.Events():
				if !ok {
					return nil
				}
				d.changeQueueMu.Lock()
				d.changeQueue[ev.Path] = pendingCapture{kind: ev.Kind, at: time.Now()}
				d.changeQueueMu.Unlock()
			case err, ok := <-watcher.Errors():
				if !ok {
					return nil
				}
				d.logger.Printf("Watcher error: %v", err)
			}
		}
	})

	g.Go(func() error { return d.processChangeQueue(ctx) })
	return nil
}

// processChangeQueue registers watched files once they have been quiet
// for the debounce window. Cameras write captures in bursts; recording
// a half-written file would sync garbage.
func (d *Daemon) processChangeQueue(ctx context.Context) error {
	debounce := d.cfg.Watch.Debounce
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	tick := debounce / 4
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-debounce)

			d.changeQueueMu.Lock()
			var settled []string
			for path, pc := range d.changeQueue {
				if pc.at.Before(cutoff) {
					settled = append(settled, path)
				}
			}
			captures := make(map[string]pendingCapture, len(settled))
			for _, path := range settled {
				captures[path] = d.changeQueue[path]
				delete(d.changeQueue, path)
			}
			d.changeQueueMu.Unlock()

			for path, pc := range captures {
				if err := d.registerCapture(ctx, path, pc.kind); err != nil {
					d.logger.Printf("Failed to record capture %s: %v", path, err)
				}
			}
		}
	}
}

// registerCapture records one settled capture file, skipping files
// already known to the store so repeated write events stay idempotent.
func (d *Daemon) registerCapture(ctx context.Context, path string, kind CaptureKind) error {
	switch kind {
	case KindMedia:
		existing, err := d.store.MediaAssetByPath(ctx, path)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		_, err = d.eng.AddMediaAsset(ctx, d.cfg.ProjectID, "", path)
		return err

	case KindTrack:
		existing, err := d.store.GpsTrackByPath(ctx, path)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		_, err = d.eng.AddGpsTrack(ctx, d.cfg.ProjectID, "", path)
		return err

	default:
		return fmt.Errorf("unknown capture kind %v", kind)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
