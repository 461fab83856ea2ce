// Package transport keeps a websocket subscription to chat topics alive.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next frame or pong from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 64 * 1024
	sendBuffer   = 32
)

// Options configures Open.
type Options struct {
	URL     string
	Token   string
	ChatIDs []string
	// Kind labels metrics and telemetry, e.g. "channel" or "aggregate".
	Kind string

	// OnConnect runs after every successful dial and before the topics are
	// subscribed. Its context ends with the session.
	OnConnect func(ctx context.Context)
	OnMessage func(models.Message)
	OnState   func(connected bool)

	Dialer     *websocket.Dialer
	NewBackOff func() backoff.BackOff
}

// Conn is one websocket connection subscribed to a fixed set of chats. It
// redials with exponential backoff until closed.
type Conn struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	send      chan []byte
	connected bool
	closeOnce sync.Once
}

// Open starts connecting in the background and returns immediately.
func Open(opts Options) *Conn {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.NewBackOff == nil {
		opts.NewBackOff = defaultBackOff
	}
	if opts.Kind == "" {
		opts.Kind = "channel"
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run()
	return c
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Connected reports whether the socket is currently up.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close unsubscribes every topic, sends a close frame and waits for the
// connection loop to exit.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		for _, id := range c.opts.ChatIDs {
			c.enqueue(Frame{Type: FrameUnsubscribe, Destination: Topic(id)})
		}
		c.cancel()
	})
	<-c.done
	return nil
}

func (c *Conn) run() {
	defer close(c.done)
	log := zap.S().With("method", "transport.run", "kind", c.opts.Kind)

	b := backoff.WithContext(c.opts.NewBackOff(), c.ctx)
	for {
		established, err := c.session()
		if c.ctx.Err() != nil {
			return
		}
		if established {
			b.Reset()
		}
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			log.Warnw("giving up reconnecting", "error", err)
			return
		}
		log.Infow("transport down, reconnecting", "in", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session dials once and serves the connection until it drops. It reports
// whether the dial succeeded.
func (c *Conn) session() (bool, error) {
	ctx, span := otel.Tracer("chat-sync/transport").Start(c.ctx, "transport.dial")
	span.SetAttributes(attribute.String("ws.kind", c.opts.Kind), attribute.Int("ws.topics", len(c.opts.ChatIDs)))

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	ws, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		observability.IncWSEvent(c.opts.Kind, "ws_error")
		return false, err
	}
	traceID := span.SpanContext().TraceID().String()
	span.End()

	connID := uuid.NewString()
	connectedAt := time.Now()
	send := make(chan []byte, sendBuffer)
	stop := make(chan struct{})

	c.mu.Lock()
	c.send = send
	c.connected = true
	c.mu.Unlock()

	observability.IncWSActive(c.opts.Kind)
	c.publish("ws_connect", connID, connectedAt, traceID, "")
	c.setState(true)

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.writePump(ws, send, stop)
	}()
	sessionCtx, endSession := context.WithCancel(c.ctx)
	go c.subscribe(sessionCtx, send, stop)

	err = c.readPump(ws)
	endSession()

	c.mu.Lock()
	c.send = nil
	c.connected = false
	c.mu.Unlock()
	close(stop)
	<-pumpDone

	reason := ""
	if err != nil && c.ctx.Err() == nil {
		reason = err.Error()
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			observability.IncWSEvent(c.opts.Kind, "ws_error")
		}
	}
	observability.DecWSActive(c.opts.Kind)
	c.publish("ws_disconnect", connID, connectedAt, traceID, reason)
	c.setState(false)
	return true, err
}

// subscribe runs OnConnect and then subscribes every topic on the session
// owning send. Nothing is queued once that session has ended.
func (c *Conn) subscribe(ctx context.Context, send chan<- []byte, stop <-chan struct{}) {
	if c.opts.OnConnect != nil {
		c.opts.OnConnect(ctx)
	}
	for _, id := range c.opts.ChatIDs {
		data, err := json.Marshal(Frame{Type: FrameSubscribe, Destination: Topic(id)})
		if err != nil {
			continue
		}
		select {
		case <-stop:
			return
		default:
		}
		select {
		case send <- data:
		case <-stop:
			return
		}
	}
}

func (c *Conn) enqueue(f Frame) bool {
	data, err := json.Marshal(f)
	if err != nil {
		return false
	}
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return false
	}
	select {
	case send <- data:
		return true
	default:
		zap.S().With("method", "transport.enqueue").Warnw("send buffer full, dropping frame", "type", f.Type, "destination", f.Destination)
		return false
	}
}

// readPump pumps frames from the websocket connection to OnMessage. It is the
// only reader of ws.
func (c *Conn) readPump(ws *websocket.Conn) error {
	ws.SetReadLimit(maxFrameSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		c.handle(data)
	}
}

// writePump is the only writer of ws. On shutdown it flushes queued frames
// and says goodbye with a close frame.
func (c *Conn) writePump(ws *websocket.Conn, send <-chan []byte, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	write := func(data []byte) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case data := <-send:
			if !write(data) {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-stop:
			return
		case <-c.ctx.Done():
		drain:
			for {
				select {
				case data := <-send:
					if !write(data) {
						return
					}
				default:
					break drain
				}
			}
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Conn) handle(data []byte) {
	log := zap.S().With("method", "transport.handle", "kind", c.opts.Kind)

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		observability.IncWSEvent(c.opts.Kind, "frame_dropped")
		log.Warnw("dropping malformed frame", "error", err)
		return
	}
	if f.Type != FrameMessage {
		log.Debugw("ignoring frame", "type", f.Type)
		return
	}
	chatID, ok := ChatIDFromTopic(f.Destination)
	if !ok {
		observability.IncWSEvent(c.opts.Kind, "frame_dropped")
		log.Warnw("dropping frame with unknown destination", "destination", f.Destination)
		return
	}

	var msg models.Message
	if err := json.Unmarshal(f.Data, &msg); err != nil || msg.TS == "" {
		observability.IncWSEvent(c.opts.Kind, "frame_dropped")
		log.Warnw("dropping malformed message", "destination", f.Destination, "error", err)
		return
	}
	msg.TS = models.NormalizeTS(msg.TS)
	if msg.ChatID == "" {
		msg.ChatID = chatID
	}
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
}

func (c *Conn) setState(connected bool) {
	if c.opts.OnState != nil {
		c.opts.OnState(connected)
	}
}

func (c *Conn) publish(event, connID string, connectedAt time.Time, traceID, reason string) {
	observability.IncWSEvent(c.opts.Kind, event)
	_ = observability.PublishEvent(context.Background(), "ws_events.transport", observability.NewWSEnvelope(observability.WSEvent{
		Kind:       c.opts.Kind,
		Event:      event,
		ConnID:     connID,
		Topics:     c.opts.ChatIDs,
		DurationMS: time.Since(connectedAt).Milliseconds(),
		Reason:     reason,
	}), observability.BuildHeaders("", traceID))
}
