// Package scheduler runs the periodic reconciliation of the current account
// against the externally-owned auth.json.
//
// The scheduler is an explicitly owned, start/stop-able task rather than a
// fire-and-forget goroutine: toggling the background-refresh setting at
// runtime starts or stops it, and stopping cancels promptly even mid-sleep.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DisabledPoll is how often a running scheduler re-reads settings while
// background refresh is switched off, so re-enabling takes effect promptly.
const DisabledPoll = time.Minute

// SettingsFunc reports whether background refresh is enabled and at which
// interval. Read once per wake.
type SettingsFunc func() (enabled bool, interval time.Duration)

// SyncFunc performs one reconciliation pass for the current account and
// reports whether the stored record changed. It must handle and log its own
// failures; the scheduler never treats them as fatal.
type SyncFunc func(ctx context.Context) (changed bool)

// Scheduler owns the background reconciliation loop.
type Scheduler struct {
	settings SettingsFunc
	sync     SyncFunc
	notify   func()

	// disabledPoll is overridable in tests
	disabledPoll time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler. notify is invoked after every pass that
// changed the store; it may be nil.
func New(settings SettingsFunc, sync SyncFunc, notify func()) *Scheduler {
	return &Scheduler{
		settings:     settings,
		sync:         sync,
		notify:       notify,
		disabledPoll: DisabledPoll,
	}
}

// Start launches the loop. Starting an already-running scheduler is a no-op,
// so there is never more than one loop per Scheduler.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go s.run(ctx, done)
	slog.Info("background sync scheduler started")
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped
// scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("background sync scheduler stopped")
}

// Running reports whether the loop is currently active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		enabled, interval := s.settings()

		if !enabled {
			// Short poll so toggling the setting takes effect promptly
			if !sleep(ctx, s.disabledPoll) {
				return
			}
			continue
		}

		slog.Debug("background sync pass")
		if s.sync(ctx) {
			if s.notify != nil {
				s.notify()
			}
		}

		if !sleep(ctx, interval) {
			return
		}
	}
}

// sleep waits for d or until ctx is cancelled. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
