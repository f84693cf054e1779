// Package events provides the change notification fan-out between the core
// and its observers (the HTTP front end, primarily). Whenever the scheduler
// or a command mutates the current account's record, an event is published
// here.
package events

import "sync"

// AccountsUpdated signals that account records changed and observers should
// re-fetch.
const AccountsUpdated = "accounts-updated"

// subscriberBuffer bounds how many undelivered events a slow subscriber may
// accumulate before further events are dropped for it.
const subscriberBuffer = 8

// Hub is a simple publish/subscribe fan-out. The zero value is not usable;
// construct with NewHub.
type Hub struct {
	mu   sync.Mutex
	subs map[chan string]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs: make(map[chan string]struct{}),
	}
}

// Subscribe registers an observer. The returned cancel function must be
// called when the observer goes away; after cancel the channel is closed.
func (h *Hub) Subscribe() (<-chan string, func()) {
	ch := make(chan string, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking; events to
// subscribers with a full buffer are dropped.
func (h *Hub) Publish(event string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- event:
		default:
		}
	}
}
