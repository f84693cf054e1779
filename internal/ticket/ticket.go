// Package ticket implements the one-time confirmation token that gates the
// privileged quarantine-fix operation. A ticket is random, short-lived and
// single use: it must be presented unchanged within its lifetime, and
// consuming it (successfully or not) invalidates it.
package ticket

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TTL is how long an issued ticket stays valid.
const TTL = 2 * time.Minute

var (
	// ErrMissing is reported when no ticket has been issued.
	ErrMissing = errors.New("no pending confirmation, request a new ticket")

	// ErrExpired is reported when the ticket outlived its TTL.
	ErrExpired = errors.New("confirmation expired, request a new ticket")

	// ErrMismatch is reported when the presented value differs from the
	// issued one.
	ErrMismatch = errors.New("confirmation invalid, request a new ticket")
)

type issued struct {
	value     string
	expiresAt time.Time
}

// Box holds at most one pending ticket. Issuing replaces any previous one.
type Box struct {
	mu      sync.Mutex
	pending *issued

	now func() time.Time
}

// NewBox creates an empty Box.
func NewBox() *Box {
	return &Box{now: time.Now}
}

// Issue generates a fresh ticket, replacing any pending one, and returns its
// value for the caller to present back via Consume.
func (b *Box) Issue() string {
	value := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = &issued{
		value:     value,
		expiresAt: b.now().Add(TTL),
	}
	return value
}

// Consume validates the provided value against the pending ticket. The
// pending ticket is cleared regardless of outcome, so a value can be
// consumed at most once.
func (b *Box) Consume(value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	pending := b.pending
	b.pending = nil

	switch {
	case pending == nil:
		return ErrMissing
	case b.now().After(pending.expiresAt):
		return ErrExpired
	case pending.value != value:
		return ErrMismatch
	}
	return nil
}
