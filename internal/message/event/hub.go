// Package event fans message changes out to connected subscribers.
package event

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Type names a fan-out event.
type Type string

const (
	MessageIncoming     Type = "message_incoming"
	MessageStatus       Type = "message_status"
	MessageMediaUpdated Type = "message_media_updated"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Event is one frame sent to subscribers.
type Event struct {
	Event Type `json:"event"`
	Data  any  `json:"data"`
}

// Publisher broadcasts events.
type Publisher interface {
	Publish(ev Event)
}

// Hub is an in-process subscriber registry. Publishing never blocks: a
// subscriber whose queue is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs:   map[string]chan Event{},
		logger: log.With(slog.String("service", "event_hub")),
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (string, <-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	id := uuid.NewString()
	ch := make(chan Event, buffer)

	h.mu.Lock()
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return id, ch, func() {
		once.Do(func() { h.unsubscribe(id) })
	}
}

func (h *Hub) unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(ch)
	}
}

// Publish sends ev to every subscriber without waiting.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("subscriber queue full, dropping event",
				slog.String("subscriber_id", id),
				slog.String("event", string(ev.Event)),
			)
		}
	}
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

var _ Publisher = (*Hub)(nil)
