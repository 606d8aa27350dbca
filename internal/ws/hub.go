// Package ws pushes live session events to connected clients.
package ws

import (
	"sync"

	"github.com/taleweaver/taleweaver/internal/engine"
)

// subscriberBuffer bounds each subscriber's event queue. A subscriber
// that cannot keep up drops events rather than blocking the engine.
const subscriberBuffer = 16

// Hub fans engine events out to per-session subscribers. It implements
// engine.Publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan engine.Event]struct{} // sessionID -> subscribers
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan engine.Event]struct{})}
}

// Publish delivers an event to every subscriber of its session. Never
// blocks: slow subscribers miss events.
func (h *Hub) Publish(ev engine.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber for a session and returns its
// event channel plus an unsubscribe function.
func (h *Hub) Subscribe(sessionID string) (<-chan engine.Event, func()) {
	ch := make(chan engine.Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[chan engine.Event]struct{})
	}
	h.subs[sessionID][ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
	}
	return ch, unsubscribe
}
