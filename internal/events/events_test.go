package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()

	a, cancelA := h.Subscribe()
	defer cancelA()
	b, cancelB := h.Subscribe()
	defer cancelB()

	h.Publish(AccountsUpdated)

	assert.Equal(t, AccountsUpdated, <-a)
	assert.Equal(t, AccountsUpdated, <-b)
}

func TestCancelClosesChannel(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Cancelling twice is safe
	cancel()

	// Publishing after cancel does not panic
	h.Publish(AccountsUpdated)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	for range subscriberBuffer + 5 {
		h.Publish(AccountsUpdated)
	}

	require.Len(t, ch, subscriberBuffer)
}
