package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHubFanOut(t *testing.T) {
	h := NewEventHub()

	a := h.subscribe()
	b := h.subscribe()
	defer h.unsubscribe(a)
	defer h.unsubscribe(b)

	h.Publish(Event{Type: "served", Method: "GET", Host: "example.com", Path: "/", Status: 200})

	for name, ch := range map[string]chan Event{"a": a, "b": b} {
		select {
		case ev := <-ch:
			assert.Equal(t, "served", ev.Type, name)
			assert.NotZero(t, ev.Timestamp, name)
		default:
			t.Fatalf("subscriber %s received nothing", name)
		}
	}
}

func TestEventHubSlowSubscriberDropsEvents(t *testing.T) {
	h := NewEventHub()
	ch := h.subscribe()
	defer h.unsubscribe(ch)

	// Overfill the backlog; Publish must never block.
	for i := 0; i < cap(ch)+10; i++ {
		h.Publish(Event{Type: "served", Path: "/"})
	}
	assert.Len(t, ch, cap(ch))
}

func TestEventHubUnsubscribe(t *testing.T) {
	h := NewEventHub()
	ch := h.subscribe()
	h.unsubscribe(ch)

	h.Publish(Event{Type: "miss", Path: "/x"})
	require.Empty(t, ch)
}
