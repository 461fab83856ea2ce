package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chat-sync/internal/models"
	"chat-sync/internal/store"
)

// CacheLimit is the number of most recent messages kept per channel.
const CacheLimit = 50

var (
	ErrCacheMiss     = errors.New("cache miss")
	ErrCorruptRecord = errors.New("corrupt cached record")
)

// MessageCacheRepository persists channel snapshots for instant cold start.
type MessageCacheRepository interface {
	Load(ctx context.Context, chatID string) ([]models.Message, error)
	Save(ctx context.Context, chatID string, msgs []models.Message) error
}

// MessageCacheRepo stores ChannelCacheRecords in the message collection.
type MessageCacheRepo struct {
	store store.Store
}

// NewMessageCacheRepo constructs MessageCacheRepo.
func NewMessageCacheRepo(s store.Store) *MessageCacheRepo {
	return &MessageCacheRepo{store: s}
}

// Load returns the cached snapshot of chatID, oldest first.
func (r *MessageCacheRepo) Load(ctx context.Context, chatID string) ([]models.Message, error) {
	raw, err := r.store.Get(ctx, store.MessageCache, chatID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var rec models.ChannelCacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, chatID, err)
	}
	return rec.Messages, nil
}

// Save stores the newest CacheLimit messages of msgs.
func (r *MessageCacheRepo) Save(ctx context.Context, chatID string, msgs []models.Message) error {
	if len(msgs) > CacheLimit {
		msgs = msgs[len(msgs)-CacheLimit:]
	}
	raw, err := json.Marshal(models.ChannelCacheRecord{ChatID: chatID, Messages: msgs})
	if err != nil {
		return err
	}
	return r.store.Put(ctx, store.MessageCache, chatID, raw)
}
