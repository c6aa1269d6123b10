// Package netmon observes backend connectivity by polling a health
// probe, and notifies subscribers on transitions so the daemon can kick
// an immediate sync pass the moment the device comes back online.
package netmon

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// ProbeFunc checks connectivity. A nil return means online.
type ProbeFunc func(ctx context.Context) error

// DefaultProbeInterval is how often the monitor probes the backend.
const DefaultProbeInterval = 15 * time.Second

// probeTimeout bounds a single probe so a black-holed request cannot
// stall the monitor loop.
const probeTimeout = 5 * time.Second

// Monitor tracks whether the backend is reachable.
type Monitor struct {
	probe    ProbeFunc
	interval time.Duration
	logger   *log.Logger

	mu     sync.RWMutex
	online bool
	subs   []chan bool
}

// New creates a Monitor. If interval is zero, DefaultProbeInterval is
// used; if logger is nil, a default stderr logger is used.
//
// The monitor starts offline; the first successful probe flips it
// online and notifies subscribers.
func New(probe ProbeFunc, interval time.Duration, logger *log.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		logger:   logger,
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe returns a channel that receives the new state on every
// transition. The channel is buffered; a slow receiver misses
// intermediate flaps but always sees a recent state.
func (m *Monitor) Subscribe() <-chan bool {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}

// Run polls the probe until ctx is cancelled. One probe is issued
// immediately so startup does not wait a full interval to learn the
// state.
func (m *Monitor) Run(ctx context.Context) error {
	m.check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

// check runs one probe and publishes a transition if the state changed.
func (m *Monitor) check(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err := m.probe(probeCtx)
	cancel()

	online := err == nil

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if !changed {
		return
	}

	if online {
		m.logger.Printf("Connectivity restored")
	} else {
		m.logger.Printf("Connectivity lost: %v", err)
	}
	m.publish(online)
}

// publish fans the new state out to subscribers without blocking. A full
// channel is drained first so the latest state wins.
func (m *Monitor) publish(online bool) {
	m.mu.RLock()
	subs := m.subs
	m.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- online:
			default:
			}
		}
	}
}
