package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// CaptureKind classifies a watched capture file.
type CaptureKind int

const (
	// KindMedia is a photo or video capture.
	KindMedia CaptureKind = iota
	// KindTrack is a GPS track file.
	KindTrack
)

// String returns a human-readable representation of the kind.
func (k CaptureKind) String() string {
	switch k {
	case KindMedia:
		return "media"
	case KindTrack:
		return "track"
	default:
		return "unknown"
	}
}

// mediaExtensions are the capture file types recorded from the media
// directory. Devices drop these in bursts as the camera app flushes.
var mediaExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".webp": true,
	".mp4":  true,
	".mov":  true,
}

// CaptureEvent is a file appearing or changing in a watched capture
// directory.
type CaptureEvent struct {
	// Path is the absolute path of the capture file.
	Path string
	// Kind indicates media or track.
	Kind CaptureKind
}

// CaptureWatcher watches capture directories for new files. It uses
// fsnotify for cross-platform file system event monitoring.
type CaptureWatcher struct {
	watcher *fsnotify.Watcher
	events  chan CaptureEvent
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup

	mu       sync.Mutex
	running  bool
	mediaDir string
	trackDir string
}

// NewCaptureWatcher creates a watcher. It must be started with Start()
// before it emits events.
func NewCaptureWatcher() (*CaptureWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &CaptureWatcher{
		watcher: watcher,
		events:  make(chan CaptureEvent, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the given directories. Either directory may be
// empty to skip that capture kind.
func (cw *CaptureWatcher) Start(mediaDir, trackDir string) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.running {
		return fmt.Errorf("watcher already running")
	}
	if mediaDir == "" && trackDir == "" {
		return fmt.Errorf("no capture directories configured")
	}

	cw.mediaDir = mediaDir
	cw.trackDir = trackDir

	if mediaDir != "" {
		if err := cw.watcher.Add(mediaDir); err != nil {
			return fmt.Errorf("failed to watch media directory %s: %w", mediaDir, err)
		}
	}
	if trackDir != "" {
		if err := cw.watcher.Add(trackDir); err != nil {
			if mediaDir != "" {
				_ = cw.watcher.Remove(mediaDir)
			}
			return fmt.Errorf("failed to watch track directory %s: %w", trackDir, err)
		}
	}

	cw.running = true
	cw.wg.Add(1)
	go cw.processEvents()

	return nil
}

// Stop stops watching and cleans up. Blocks until the event loop exits.
func (cw *CaptureWatcher) Stop() error {
	cw.mu.Lock()
	if !cw.running {
		cw.mu.Unlock()
		return nil
	}
	cw.running = false
	cw.mu.Unlock()

	close(cw.done)

	if err := cw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	cw.wg.Wait()

	close(cw.events)
	close(cw.errors)

	return nil
}

// Events returns the channel emitting capture notifications. Closed
// when the watcher stops.
func (cw *CaptureWatcher) Events() <-chan CaptureEvent {
	return cw.events
}

// Errors returns the channel emitting watcher errors. Closed when the
// watcher stops.
func (cw *CaptureWatcher) Errors() <-chan error {
	return cw.errors
}

// processEvents converts fsnotify events into capture notifications.
func (cw *CaptureWatcher) processEvents() {
	defer cw.wg.Done()

	for {
		select {
		case <-cw.done:
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}

			if captureEvent, ok := cw.convertEvent(event); ok {
				select {
				case cw.events <- captureEvent:
				case <-cw.done:
					return
				}
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case cw.errors <- err:
			case <-cw.done:
				return
			}
		}
	}
}

// convertEvent filters an fsnotify event down to a capture event.
// Only creates and writes matter; a capture is never deleted by the
// device, and removals have no sync meaning anyway.
func (cw *CaptureWatcher) convertEvent(event fsnotify.Event) (CaptureEvent, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return CaptureEvent{}, false
	}

	kind, ok := cw.classify(event.Name)
	if !ok {
		return CaptureEvent{}, false
	}

	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return CaptureEvent{}, false
	}

	return CaptureEvent{Path: abs, Kind: kind}, true
}

// classify maps a file to its capture kind by directory and extension.
func (cw *CaptureWatcher) classify(path string) (CaptureKind, bool) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return 0, false
	}
	dir := filepath.Dir(absPath)
	ext := strings.ToLower(filepath.Ext(absPath))

	if cw.mediaDir != "" {
		if absMedia, err := filepath.Abs(cw.mediaDir); err == nil && dir == absMedia {
			if mediaExtensions[ext] {
				return KindMedia, true
			}
			return 0, false
		}
	}
	if cw.trackDir != "" {
		if absTrack, err := filepath.Abs(cw.trackDir); err == nil && dir == absTrack {
			if ext == ".gpx" {
				return KindTrack, true
			}
			return 0, false
		}
	}
	return 0, false
}

// IsRunning returns true if the watcher is currently running.
func (cw *CaptureWatcher) IsRunning() bool {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.running
}
