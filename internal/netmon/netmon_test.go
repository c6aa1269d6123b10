package netmon

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"
)

func TestMonitor_StartsOffline(t *testing.T) {
	m := New(func(ctx context.Context) error { return nil }, time.Hour, log.New(io.Discard, "", 0))
	if m.Online() {
		t.Error("Online() = true before the first probe")
	}
}

func TestMonitor_TransitionNotifiesSubscriber(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	probe := func(ctx context.Context) error {
		if failing.Load() {
			return errors.New("connection refused")
		}
		return nil
	}

	m := New(probe, 10*time.Millisecond, log.New(io.Discard, "", 0))
	ch := m.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	// First probe fails; the monitor stays offline and no transition fires.
	time.Sleep(30 * time.Millisecond)
	if m.Online() {
		t.Error("Online() = true while probe fails")
	}

	failing.Store(false)
	select {
	case online := <-ch:
		if !online {
			t.Error("transition = offline, want online")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transition notification after probe recovery")
	}
	if !m.Online() {
		t.Error("Online() = false after recovery")
	}

	failing.Store(true)
	select {
	case online := <-ch:
		if online {
			t.Error("transition = online, want offline")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transition notification after probe failure")
	}
}

func TestMonitor_SlowSubscriberSeesLatestState(t *testing.T) {
	m := New(func(ctx context.Context) error { return nil }, time.Hour, log.New(io.Discard, "", 0))
	ch := m.Subscribe()

	// Flap without draining: online, offline, online. The buffered
	// channel keeps only the newest value.
	m.online = false
	m.publish(true)
	m.publish(false)
	m.publish(true)

	select {
	case online := <-ch:
		if !online {
			t.Error("latest state = offline, want online")
		}
	default:
		t.Fatal("no buffered notification")
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	m := New(func(ctx context.Context) error { return nil }, 5*time.Millisecond, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop on cancel")
	}
}
