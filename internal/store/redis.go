package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps collections as plain keys and the outbox as one hash of
// entries plus a sorted set per chat scored by id.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

type redisOutboxEntry struct {
	ChatID  string `json:"chat_id"`
	Payload []byte `json:"payload"`
}

// ConnectRedis dials addr and verifies the connection.
func ConnectRedis(ctx context.Context, addr, prefix string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		PoolTimeout:  30 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	zap.S().With("method", "ConnectRedis").Infow("redis store connected", "addr", addr)
	return NewRedisStore(rdb, prefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "chatsync"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(c Collection, key string) string {
	return s.prefix + ":" + string(c) + ":" + key
}

func (s *RedisStore) outboxSeqKey() string     { return s.prefix + ":outbox:seq" }
func (s *RedisStore) outboxEntriesKey() string { return s.prefix + ":outbox:entries" }
func (s *RedisStore) outboxChatKey(chatID string) string {
	return s.prefix + ":outbox:chat:" + chatID
}

func (s *RedisStore) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	v, err := s.rdb.Get(ctx, s.key(c, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (s *RedisStore) Put(ctx context.Context, c Collection, key string, value []byte) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(c, key), value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, c Collection, key string) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	return s.rdb.Del(ctx, s.key(c, key)).Err()
}

func (s *RedisStore) AppendOutbox(ctx context.Context, chatID string, payload []byte) (int64, error) {
	id, err := s.rdb.Incr(ctx, s.outboxSeqKey()).Result()
	if err != nil {
		return 0, err
	}
	entry, err := json.Marshal(redisOutboxEntry{ChatID: chatID, Payload: payload})
	if err != nil {
		return 0, err
	}
	field := strconv.FormatInt(id, 10)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.outboxEntriesKey(), field, entry)
		pipe.ZAdd(ctx, s.outboxChatKey(chatID), redis.Z{Score: float64(id), Member: field})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *RedisStore) ListOutbox(ctx context.Context, chatID string) ([]OutboxRow, error) {
	fields, err := s.rdb.ZRange(ctx, s.outboxChatKey(chatID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	values, err := s.rdb.HMGet(ctx, s.outboxEntriesKey(), fields...).Result()
	if err != nil {
		return nil, err
	}

	rows := make([]OutboxRow, 0, len(fields))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var entry redisOutboxEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			zap.S().With("method", "ListOutbox").Warnw("skipping malformed outbox entry", "id", fields[i], "error", err)
			continue
		}
		id, _ := strconv.ParseInt(fields[i], 10, 64)
		rows = append(rows, OutboxRow{ID: id, ChatID: entry.ChatID, Payload: entry.Payload})
	}
	return rows, nil
}

func (s *RedisStore) DeleteOutbox(ctx context.Context, id int64) error {
	field := strconv.FormatInt(id, 10)
	raw, err := s.rdb.HGet(ctx, s.outboxEntriesKey(), field).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	var entry redisOutboxEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return s.rdb.HDel(ctx, s.outboxEntriesKey(), field).Err()
	}
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.outboxEntriesKey(), field)
		pipe.ZRem(ctx, s.outboxChatKey(entry.ChatID), field)
		return nil
	})
	return err
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
