// Live event feed at /harbinger/events.
//
// DESIGN: A small fan-out hub: the serving path publishes without blocking
// (slow subscribers drop events rather than stalling replay), each websocket
// subscriber drains its own buffered channel. Debugging surface only; nothing
// in the replay path depends on it.
package replay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/harbinger-dev/harbinger/internal/config"
)

// Event is one replay decision, as seen on the event feed.
type Event struct {
	Type      string `json:"type"` // served, miss, proxied, blocked, control
	Method    string `json:"method"`
	Host      string `json:"host,omitempty"`
	Path      string `json:"path"`
	Status    int    `json:"status,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// EventHub fans replay events out to websocket subscribers.
type EventHub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewEventHub returns an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[chan Event]struct{})}
}

// Publish delivers ev to every subscriber without blocking.
func (h *EventHub) Publish(ev Event) {
	ev.Timestamp = time.Now().UnixMilli()
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *EventHub) subscribe() chan Event {
	ch := make(chan Event, config.MaxEventBacklog)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// handleEvents upgrades to a websocket and streams events until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("event feed upgrade failed")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	ch := s.events.subscribe()
	defer s.events.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
