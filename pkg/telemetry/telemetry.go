package telemetry

import (
	"sync"
	"time"
)

// EventType identifies the kind of telemetry event.
type EventType string

const (
	EventSidebarMounted      EventType = "sidebar.mounted"
	EventSidebarUnmounted    EventType = "sidebar.unmounted"
	EventSidebarCacheCleared EventType = "sidebar.cache_cleared"
	EventItemFetching        EventType = "item.fetching"
	EventItemLoaded          EventType = "item.loaded"
	EventItemFailed          EventType = "item.failed"
	EventMetadataFetching    EventType = "metadata.fetching"
	EventMetadataLoaded      EventType = "metadata.loaded"
	EventMetadataFailed      EventType = "metadata.failed"
	EventMetadataSkipped     EventType = "metadata.skipped"
	EventResultDiscarded     EventType = "result.discarded"
	EventVersionChanged      EventType = "version.changed"
)

// DefaultSubscriberBuffer is the channel size handed to each subscriber.
const DefaultSubscriberBuffer = 64

// Event describes sidebar telemetry that UIs and relays can consume.
type Event struct {
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID string         `json:"instanceId,omitempty"`
	TargetID   string         `json:"targetId,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
}

// Hub fans events out to subscribers. Publishing never blocks: an event
// is dropped for any subscriber whose buffer is full. A nil *Hub accepts
// and drops everything.
type Hub struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

type subscriber struct {
	ch chan Event
	// types filters delivery; empty means every type.
	types map[EventType]struct{}
}

func (s *subscriber) wants(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// NewHub returns an open hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*subscriber]struct{})}
}

// Publish stamps the event if needed and delivers it.
func (h *Hub) Publish(event Event) {
	if h == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for sub := range h.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			RecordEventDropped()
		}
	}
}

// Subscribe returns a channel of future events, optionally limited to the
// given types, and a func that ends the subscription and closes the
// channel. On a nil or closed hub the channel is already closed.
func (h *Hub) Subscribe(types ...EventType) (<-chan Event, func()) {
	if h == nil {
		return closedEvents(), func() {}
	}

	sub := &subscriber{ch: make(chan Event, DefaultSubscriberBuffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return closedEvents(), func() {}
	}
	h.subs[sub] = struct{}{}

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { h.drop(sub) })
	}
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
}

// Close ends every subscription. Later publishes are dropped.
func (h *Hub) Close() {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
}

func closedEvents() <-chan Event {
	ch := make(chan Event)
	close(ch)
	return ch
}
