// Package outbox keeps messages the server has not confirmed yet and replays
// them when the transport comes back.
package outbox

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chat-sync/internal/events"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
)

// Sender delivers one message to the backend.
type Sender interface {
	SendMessage(ctx context.Context, chatID, content, ts string) (string, error)
}

// FlushResult reports what a flush did. Timestamps identify timeline entries.
type FlushResult struct {
	Resolved []string
	Dropped  []string
	// Remaining counts entries still queued after the flush stopped.
	Remaining int
}

// Queue is the durable FIFO of unsent messages.
type Queue struct {
	repo repositories.OutboxRepository
	bus  *events.Bus

	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewQueue(repo repositories.OutboxRepository, bus *events.Bus) *Queue {
	return &Queue{
		repo:  repo,
		bus:   bus,
		locks: make(map[string]chan struct{}),
	}
}

// Pending lists queued entries of chatID in insertion order.
func (q *Queue) Pending(ctx context.Context, chatID string) ([]models.OutboxEntry, error) {
	return q.repo.ListForChat(ctx, chatID)
}

// Fail handles a failed send attempt of msg. Transient failures are persisted
// for the next flush; terminal ones are only reported.
func (q *Queue) Fail(ctx context.Context, msg models.Message, sendErr error) (Classification, error) {
	log := zap.S().With("method", "outbox.Fail")
	c := Classify(sendErr)
	if c.Terminal() {
		observability.IncOutbox("dropped")
		q.reject(msg, c)
		return c, nil
	}

	if _, err := q.repo.Add(ctx, msg); err != nil {
		log.Errorw("persist outbox entry", "chat_id", msg.ChatID, "ts", msg.TS, "error", err)
		return c, fmt.Errorf("persist outbox entry: %w", err)
	}
	observability.IncOutbox("enqueued")
	log.Infow("queued message for retry", "chat_id", msg.ChatID, "ts", msg.TS, "cause", sendErr)
	q.bus.Publish(events.Event{Kind: events.MessageFailed, ChatID: msg.ChatID, TS: msg.TS, Reason: c.Class.String()})
	return c, nil
}

// Flush resends queued entries of chatID in insertion order. It stops at the
// first transient failure and leaves that entry and everything after it queued.
// Flushes of one chat run one at a time; a later call waits for the running
// one and then makes its own pass.
func (q *Queue) Flush(ctx context.Context, chatID string, sender Sender) (FlushResult, error) {
	if err := q.acquire(ctx, chatID); err != nil {
		return FlushResult{}, err
	}
	defer q.release(chatID)

	log := zap.S().With("method", "outbox.Flush", "chat_id", chatID)
	entries, err := q.repo.ListForChat(ctx, chatID)
	if err != nil {
		return FlushResult{}, fmt.Errorf("list outbox: %w", err)
	}

	var res FlushResult
	for i, entry := range entries {
		_, sendErr := sender.SendMessage(ctx, entry.ChatID, entry.Content, entry.TS)
		if sendErr == nil {
			if err := q.repo.Delete(ctx, entry.ID); err != nil {
				log.Warnw("delete resolved entry", "id", entry.ID, "error", err)
			}
			observability.IncOutbox("resolved")
			res.Resolved = append(res.Resolved, entry.TS)
			q.bus.Publish(events.Event{Kind: events.MessageResolved, ChatID: chatID, TS: entry.TS})
			continue
		}

		c := Classify(sendErr)
		if c.Terminal() {
			if err := q.repo.Delete(ctx, entry.ID); err != nil {
				log.Warnw("delete rejected entry", "id", entry.ID, "error", err)
			}
			observability.IncOutbox("dropped")
			res.Dropped = append(res.Dropped, entry.TS)
			q.reject(entry.Message, c)
			continue
		}

		observability.IncOutbox("deferred")
		res.Remaining = len(entries) - i
		log.Infow("flush stopped on transient failure", "ts", entry.TS, "remaining", res.Remaining, "cause", sendErr)
		break
	}
	return res, nil
}

func (q *Queue) reject(msg models.Message, c Classification) {
	zap.S().With("method", "outbox.reject").Infow("message rejected by moderation", "chat_id", msg.ChatID, "ts", msg.TS, "reason", c.Reason)
	q.bus.Publish(events.Event{Kind: events.MessageFailed, ChatID: msg.ChatID, TS: msg.TS, Reason: c.Reason})
	q.bus.Publish(events.Event{Kind: events.ModerationNotice, ChatID: msg.ChatID, TS: msg.TS, Reason: c.Reason})
	if c.InvalidatesRestriction {
		q.bus.Publish(events.Event{Kind: events.RestrictionInvalidated, Reason: c.Reason})
	}
}

func (q *Queue) lock(chatID string) chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	l, ok := q.locks[chatID]
	if !ok {
		l = make(chan struct{}, 1)
		q.locks[chatID] = l
	}
	return l
}

func (q *Queue) acquire(ctx context.Context, chatID string) error {
	select {
	case q.lock(chatID) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) release(chatID string) {
	<-q.lock(chatID)
}
