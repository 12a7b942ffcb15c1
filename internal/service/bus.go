package service

import (
	"sync"

	"github.com/joeblew999/plat-ows/internal/ows"
)

// Event types published on a session bus.
const (
	EventCapabilities = "capabilities"
	EventEnriched     = "enriched"
	EventField        = "field"
	EventSubmitted    = "submitted"
	EventAgent        = "agent"
)

// Event is a change to a session's form state.
type Event struct {
	Type    string            `json:"type"`
	Kind    ows.ServiceKind   `json:"kind,omitempty"`
	Field   string            `json:"field,omitempty"`
	Values  map[string]string `json:"values,omitempty"`
	Message string            `json:"message,omitempty"`
	Level   string            `json:"level,omitempty"`
}

// EventBus is a simple fan-out pub/sub for one session's events.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish sends an event to all subscribers (non-blocking).
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber too slow, skip
		}
	}
}

// Subscribe returns a buffered channel that receives events.
func (b *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown
// channels are ignored.
func (b *EventBus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

// Close unsubscribes everyone.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
