// Package store is the durable local key-value store that lets the chat engine
// survive restarts: message snapshots, the outbox, the HTTP cache and the icon
// cache all live here.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a key is absent from a collection.
var ErrNotFound = errors.New("record not found")

// Collection names one keyed collection of the store.
type Collection string

const (
	HTTPCache    Collection = "http_cache"
	MetaCache    Collection = "meta_cache"
	IconCache    Collection = "icon_cache"
	MessageCache Collection = "message_cache"
)

// Collections lists every keyed collection. The outbox is kept apart because it
// is keyed by an auto-assigned id.
var Collections = []Collection{HTTPCache, MetaCache, IconCache, MessageCache}

func (c Collection) valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

func checkCollection(c Collection) error {
	if !c.valid() {
		return fmt.Errorf("unknown collection %q", string(c))
	}
	return nil
}

// OutboxRow is one persisted outbox payload.
type OutboxRow struct {
	ID      int64  `db:"id"`
	ChatID  string `db:"chat_id"`
	Payload []byte `db:"payload"`
}

// Store abstracts the durable engine.
type Store interface {
	Get(ctx context.Context, c Collection, key string) ([]byte, error)
	Put(ctx context.Context, c Collection, key string, value []byte) error
	Delete(ctx context.Context, c Collection, key string) error

	// AppendOutbox persists payload and returns its auto-assigned id. Ids grow
	// with insertion order.
	AppendOutbox(ctx context.Context, chatID string, payload []byte) (int64, error)
	// ListOutbox returns the rows of one chat in insertion order.
	ListOutbox(ctx context.Context, chatID string) ([]OutboxRow, error)
	DeleteOutbox(ctx context.Context, id int64) error

	Close() error
}

// Options selects and configures a store engine.
type Options struct {
	Driver      string // sqlite3, postgres, redis or memory
	DSN         string
	RedisAddr   string
	RedisPrefix string
}

// Open builds the store described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite3", "postgres":
		return ConnectSQL(ctx, opts.Driver, opts.DSN)
	case "redis":
		return ConnectRedis(ctx, opts.RedisAddr, opts.RedisPrefix)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
