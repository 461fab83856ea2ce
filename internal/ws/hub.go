package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"chat-sync/internal/chat"
	"chat-sync/internal/events"
)

const (
	kindUI     = "ui"
	routingKey = "ws_events.ui"
	sendBuffer = 64
)

// Event is one push to a UI client.
type Event struct {
	Type     string         `json:"type"`
	Binding  *chat.Binding  `json:"binding,omitempty"`
	Snapshot *chat.Snapshot `json:"snapshot,omitempty"`
	Notice   *events.Event  `json:"notice,omitempty"`
}

const (
	EventSnapshot = "snapshot"
	EventNotice   = "notice"
)

// noticeKinds are the bus events pushed to UI clients.
var noticeKinds = []events.Kind{
	events.ModerationNotice,
	events.MessageFailed,
	events.MessageResolved,
	events.ConnectionState,
	events.OpenConversation,
}

// Surface is the part of chat.Surface the hub observes.
type Surface interface {
	OnUpdate(l chat.SurfaceListener) func()
	Binding() (chat.Binding, bool)
	Snapshot() (chat.Snapshot, error)
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	info ConnInfo
}

// Hub fans surface snapshots and bus notices out to UI websocket clients.
type Hub struct {
	clients map[*client]bool
	mu      sync.RWMutex
	detach  []func()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]bool)}
}

// Attach starts forwarding updates of surface and notices from bus.
func (h *Hub) Attach(surface Surface, bus *events.Bus) {
	if surface != nil {
		h.detach = append(h.detach, surface.OnUpdate(func(b chat.Binding, snap chat.Snapshot) {
			h.Broadcast(Event{Type: EventSnapshot, Binding: &b, Snapshot: &snap})
		}))
	}
	if bus != nil {
		for _, kind := range noticeKinds {
			h.detach = append(h.detach, bus.Subscribe(kind, func(e events.Event) {
				h.Broadcast(Event{Type: EventNotice, Notice: &e})
			}))
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *Hub) unregister(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	delete(h.clients, c)
	close(c.send)
	return true
}

// Len reports the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues e for every client. A client whose buffer is full is
// disconnected.
func (h *Hub) Broadcast(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		zap.S().With("method", "Hub.Broadcast").Errorw("marshal ui event", "type", e.Type, "error", err)
		return
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		if h.unregister(c) {
			publishWSEvent(c.info, "ws_error", "send buffer full")
		}
	}
}

func (h *Hub) sendTo(c *client, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// Close stops forwarding and disconnects every client.
func (h *Hub) Close() {
	for _, d := range h.detach {
		d()
	}
	h.detach = nil

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
