package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"chat-sync/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// UIHandler upgrades local UI connections and registers them with the hub.
type UIHandler struct {
	hub     *Hub
	surface Surface
}

func NewUIHandler(hub *Hub, surface Surface) *UIHandler {
	return &UIHandler{hub: hub, surface: surface}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, pushes the current snapshot and keeps the
// client registered until it disconnects.
func (h *UIHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		ClientID:    observability.ClientIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	cl := &client{conn: conn, send: make(chan []byte, sendBuffer), info: info}
	h.hub.register(cl)

	observability.IncWSActive(kindUI)
	publishWSEvent(info, "ws_connect", "")

	if h.surface != nil {
		if b, ok := h.surface.Binding(); ok {
			if snap, err := h.surface.Snapshot(); err == nil {
				h.hub.sendTo(cl, Event{Type: EventSnapshot, Binding: &b, Snapshot: &snap})
			}
		}
	}

	go writePump(cl)
	go h.readPump(cl)
}

func (h *UIHandler) readPump(cl *client) {
	log := zap.S().With("method", "UIHandler.readPump", "conn_id", cl.info.ConnID)
	var closeReason string
	defer func() {
		h.hub.unregister(cl)
		observability.DecWSActive(kindUI)
		publishWSEvent(cl.info, "ws_disconnect", closeReason)
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error { cl.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnw("ui websocket closed", "error", err)
				publishWSEvent(cl.info, "ws_error", closeReason)
			}
			return
		}
	}
}

func writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()
	for {
		select {
		case message, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
