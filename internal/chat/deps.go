package chat

import (
	"context"

	"chat-sync/internal/events"
	"chat-sync/internal/models"
	"chat-sync/internal/outbox"
	"chat-sync/internal/repositories"
	"chat-sync/internal/timeline"
	"chat-sync/internal/transport"
)

// PageSize is the number of messages requested per history page.
const PageSize = 20

// Backend is the part of the RPC client a feed needs.
type Backend interface {
	outbox.Sender
	GetMessages(ctx context.Context, chatID string, limit int, after string) ([]models.Message, error)
}

// Transport is a live subscription owned by a feed.
type Transport interface {
	Connected() bool
	Close() error
}

// Dialer opens a transport. transport.Open satisfies it through DialWebsocket.
type Dialer func(opts transport.Options) Transport

func DialWebsocket(opts transport.Options) Transport {
	return transport.Open(opts)
}

// Deps are the collaborators shared by every feed.
type Deps struct {
	Backend Backend
	Cache   repositories.MessageCacheRepository
	Outbox  *outbox.Queue
	Bus     *events.Bus
	Clock   *timeline.Clock

	Dial         Dialer
	WebsocketURL string
	Token        string
}

func (d Deps) withDefaults() Deps {
	if d.Dial == nil {
		d.Dial = DialWebsocket
	}
	if d.Clock == nil {
		d.Clock = timeline.NewClock()
	}
	return d
}
