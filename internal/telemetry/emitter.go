package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-sync/internal/events"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Emitter forwards bus events to the telemetry exchange. Publishing happens
// on a worker goroutine; events arriving while the buffer is full are dropped.
type Emitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	userID      string

	queue  chan events.Event
	unsub  func()
	wg     sync.WaitGroup
	once   sync.Once
	mu     sync.Mutex
	closed bool
}

type Envelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       events.Event `json:"payload"`
}

const bufferSize = 256

func NewEmitter(publisher Publisher, routingKey, service, environment, userID string) *Emitter {
	return &Emitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		userID:      userID,
		queue:       make(chan events.Event, bufferSize),
	}
}

// Attach subscribes the emitter to every kind on bus and starts the worker.
func (e *Emitter) Attach(bus *events.Bus) {
	if e == nil || e.publisher == nil || bus == nil {
		return
	}
	e.wg.Add(1)
	go e.run()
	e.unsub = bus.SubscribeAll(e.enqueue)
}

func (e *Emitter) enqueue(ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- ev:
	default:
		zap.S().With("method", "Emitter.enqueue").Warnw("telemetry buffer full, dropping event", "kind", ev.Kind)
	}
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for ev := range e.queue {
		e.emit(ev)
	}
}

func (e *Emitter) emit(ev events.Event) {
	log := zap.S().With("method", "Emitter.emit")
	var userID *string
	if e.userID != "" {
		id := e.userID
		userID = &id
	}
	envelope := Envelope{
		SchemaVersion: 1,
		EventType:     string(ev.Kind),
		OccurredAt:    ev.At.UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		UserID:        userID,
		Payload:       ev,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, nil); err != nil {
		log.Warnw("telemetry publish failed", "kind", ev.Kind, "error", err)
	}
}

// Close unsubscribes from the bus and waits for queued events to be published.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.once.Do(func() {
		if e.unsub != nil {
			e.unsub()
		}
		e.mu.Lock()
		e.closed = true
		close(e.queue)
		e.mu.Unlock()
		e.wg.Wait()
	})
}
