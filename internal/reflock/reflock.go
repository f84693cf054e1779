// Package reflock provides per-account advisory locks with bounded-wait
// acquisition. Any operation that refreshes or writes credentials for an
// account takes that account's lock first, so a manual switch and a
// concurrent background operation cannot interleave writes. Locks are
// per-id; operations on distinct accounts proceed in parallel.
package reflock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// DefaultTimeout bounds the wait for a contended lock.
const DefaultTimeout = 5 * time.Second

// ErrBusy is the user-facing outcome of a lock acquisition timeout: another
// operation is refreshing the same account's credentials.
var ErrBusy = errors.New("account is busy with another refresh, retry shortly")

// Manager is a registry of per-account locks, created lazily on first use.
// The zero value is not usable; construct with NewManager.
type Manager struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewManager creates an empty lock registry.
func NewManager() *Manager {
	return &Manager{
		locks: make(map[string]chan struct{}),
	}
}

// lockFor returns the lock channel for id, creating it if needed.
// A buffered channel of capacity 1 acts as a mutex whose release is safe
// to call without holding it.
func (m *Manager) lockFor(id string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[id] = ch
	}
	return ch
}

// Acquire attempts to take the lock for id, waiting up to timeout (or until
// ctx is done, whichever comes first). Returns false on timeout without side
// effects.
func (m *Manager) Acquire(ctx context.Context, id string, timeout time.Duration) bool {
	ch := m.lockFor(id)

	select {
	case ch <- struct{}{}:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Release releases the lock for id. Releasing an unheld lock is a no-op, so
// it is safe to defer unconditionally after a successful Acquire. The lock is
// not owner-tracked: only the goroutine whose Acquire returned true may call
// Release, otherwise it frees a lock someone else holds.
func (m *Manager) Release(id string) {
	m.mu.Lock()
	ch, ok := m.locks[id]
	m.mu.Unlock()
	if !ok {
		return
	}

	select {
	case <-ch:
	default:
	}
}
