package repositories

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/store"
)

// OutboxRepository persists messages that still need to reach the server.
type OutboxRepository interface {
	Add(ctx context.Context, msg models.Message) (models.OutboxEntry, error)
	ListForChat(ctx context.Context, chatID string) ([]models.OutboxEntry, error)
	Delete(ctx context.Context, id int64) error
}

// OutboxRepo stores entries in the store's outbox.
type OutboxRepo struct {
	store store.Store
}

// NewOutboxRepo constructs OutboxRepo.
func NewOutboxRepo(s store.Store) *OutboxRepo {
	return &OutboxRepo{store: s}
}

// Add persists msg and returns the entry with its assigned id.
func (r *OutboxRepo) Add(ctx context.Context, msg models.Message) (models.OutboxEntry, error) {
	msg.Status = models.StatusFailed
	payload, err := json.Marshal(msg)
	if err != nil {
		return models.OutboxEntry{}, err
	}
	id, err := r.store.AppendOutbox(ctx, msg.ChatID, payload)
	if err != nil {
		return models.OutboxEntry{}, err
	}
	return models.OutboxEntry{ID: id, Message: msg}, nil
}

// ListForChat returns pending entries of chatID in insertion order. Rows that
// fail to decode are logged and skipped.
func (r *OutboxRepo) ListForChat(ctx context.Context, chatID string) ([]models.OutboxEntry, error) {
	rows, err := r.store.ListOutbox(ctx, chatID)
	if err != nil {
		return nil, err
	}
	entries := make([]models.OutboxEntry, 0, len(rows))
	for _, row := range rows {
		var msg models.Message
		if err := json.Unmarshal(row.Payload, &msg); err != nil {
			zap.S().With("method", "ListForChat").Warnw("skipping malformed outbox row", "id", row.ID, "chat_id", chatID, "error", err)
			continue
		}
		entries = append(entries, models.OutboxEntry{ID: row.ID, Message: msg})
	}
	return entries, nil
}

// Delete removes a resolved entry.
func (r *OutboxRepo) Delete(ctx context.Context, id int64) error {
	return r.store.DeleteOutbox(ctx, id)
}
