package ws

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/chat"
	"chat-sync/internal/events"
	"chat-sync/internal/models"
)

type stubSurface struct {
	mu       sync.Mutex
	listener chat.SurfaceListener
	binding  chat.Binding
	bound    bool
	snap     chat.Snapshot
}

func (s *stubSurface) OnUpdate(l chat.SurfaceListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listener = nil
	}
}

func (s *stubSurface) Binding() (chat.Binding, bool) {
	return s.binding, s.bound
}

func (s *stubSurface) Snapshot() (chat.Snapshot, error) {
	return s.snap, nil
}

func (s *stubSurface) emit(b chat.Binding, snap chat.Snapshot) {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		l(b, snap)
	}
}

func startHub(t *testing.T, surface *stubSurface, bus *events.Bus) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	hub.Attach(surface, bus)
	r := gin.New()
	r.GET("/ws", NewUIHandler(hub, surface).Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	var e Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func TestHubPushesCurrentSnapshotOnConnect(t *testing.T) {
	surface := &stubSurface{
		binding: chat.Binding{Kind: chat.SurfaceClan, ChatID: "clan-7"},
		bound:   true,
		snap: chat.Snapshot{
			ChatIDs:  []string{"clan-7"},
			Messages: []models.Message{{ChatID: "clan-7", TS: "2024-03-01T10:00:00.000Z", SenderID: "a", Content: "hi"}},
			Version:  3,
		},
	}
	hub, url := startHub(t, surface, events.NewBus())

	conn := dial(t, url)
	e := readEvent(t, conn)
	assert.Equal(t, EventSnapshot, e.Type)
	require.NotNil(t, e.Snapshot)
	assert.Equal(t, uint64(3), e.Snapshot.Version)
	assert.Equal(t, "clan-7", e.Binding.ChatID)
	assert.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHubBroadcastsSnapshotsAndNotices(t *testing.T) {
	surface := &stubSurface{}
	bus := events.NewBus()
	hub, url := startHub(t, surface, bus)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	surface.emit(chat.Binding{Kind: chat.SurfaceGlobal}, chat.Snapshot{ChatIDs: []string{"global-2"}, Version: 9})
	e := readEvent(t, conn)
	assert.Equal(t, EventSnapshot, e.Type)
	assert.Equal(t, []string{"global-2"}, e.Snapshot.ChatIDs)

	bus.Publish(events.Event{Kind: events.ModerationNotice, ChatID: "global-2", Reason: "MUTED"})
	e = readEvent(t, conn)
	assert.Equal(t, EventNotice, e.Type)
	require.NotNil(t, e.Notice)
	assert.Equal(t, events.ModerationNotice, e.Notice.Kind)
	assert.Equal(t, "MUTED", e.Notice.Reason)

	bus.Publish(events.Event{Kind: events.RestrictionInvalidated})
	bus.Publish(events.Event{Kind: events.MessageFailed, ChatID: "global-2"})
	e = readEvent(t, conn)
	assert.Equal(t, events.MessageFailed, e.Notice.Kind)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	hub, url := startHub(t, &stubSurface{}, nil)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()

	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub()
	c := &client{send: make(chan []byte, 1), info: ConnInfo{ConnID: "slow", ConnectedAt: time.Now()}}
	hub.register(c)

	hub.Broadcast(Event{Type: EventNotice})
	assert.Equal(t, 1, hub.Len())
	hub.Broadcast(Event{Type: EventNotice})
	assert.Equal(t, 0, hub.Len())

	_, open := <-c.send
	assert.True(t, open)
	_, open = <-c.send
	assert.False(t, open)
}

func TestHubCloseDetaches(t *testing.T) {
	surface := &stubSurface{}
	bus := events.NewBus()
	hub := NewHub()
	hub.Attach(surface, bus)
	c := &client{send: make(chan []byte, 4)}
	hub.register(c)

	hub.Close()
	assert.Equal(t, 0, hub.Len())
	surface.emit(chat.Binding{}, chat.Snapshot{})
	bus.Publish(events.Event{Kind: events.ModerationNotice})
	_, open := <-c.send
	assert.False(t, open)
}
