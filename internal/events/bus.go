// Package events is the in-process publish/subscribe bus that carries
// cross-cutting notifications between chat components.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names an event type.
type Kind string

const (
	// RestrictionInvalidated asks the restriction monitor to re-fetch.
	RestrictionInvalidated Kind = "restriction.invalidated"
	// ModerationNotice is a user-visible notice about a rejected message.
	ModerationNotice Kind = "moderation.notice"
	// MessageFailed marks a message that could not be delivered.
	MessageFailed Kind = "message.failed"
	// MessageResolved marks a queued message the server accepted.
	MessageResolved Kind = "message.resolved"
	// OpenConversation asks the UI to show a conversation.
	OpenConversation Kind = "conversation.open"
	// ConnectionState reports transport connectivity of a feed.
	ConnectionState Kind = "connection.state"
)

// Event is one notification.
type Event struct {
	Kind   Kind      `json:"kind"`
	ChatID string    `json:"chat_id,omitempty"`
	TS     string    `json:"ts,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Handler receives events. Handlers run on the publisher's goroutine and must
// not block.
type Handler func(Event)

// Bus dispatches events to subscribers.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[Kind]map[int]Handler
	all      map[int]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Kind]map[int]Handler),
		all:      make(map[int]Handler),
	}
}

// Subscribe registers h for kind and returns a function removing it.
func (b *Bus) Subscribe(kind Kind, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	if _, ok := b.handlers[kind]; !ok {
		b.handlers[kind] = make(map[int]Handler)
	}
	b.handlers[kind][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[kind], id)
	}
}

// SubscribeAll registers h for every kind.
func (b *Bus) SubscribeAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.all[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.all, id)
	}
}

// Publish delivers e to its subscribers. A nil bus drops the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]Handler, 0, len(b.handlers[e.Kind])+len(b.all))
	for _, h := range b.handlers[e.Kind] {
		targets = append(targets, h)
	}
	for _, h := range b.all {
		targets = append(targets, h)
	}
	b.mu.RUnlock()

	for _, h := range targets {
		dispatch(h, e)
	}
}

func dispatch(h Handler, e Event) {
	defer func() {
		if err := recover(); err != nil {
			zap.S().With("method", "dispatch").Errorw("event handler panic", "kind", e.Kind, "error", err)
		}
	}()
	h(e)
}
