package chat

import (
	"context"

	"chat-sync/internal/models"
)

// Connection follows a single chat.
type Connection struct {
	*Feed
}

func NewConnection(deps Deps, chatID string) *Connection {
	return &Connection{Feed: newFeed(deps, "channel", []string{chatID})}
}

func (c *Connection) ChatID() string {
	if len(c.ids) == 0 {
		return ""
	}
	return c.ids[0]
}

// Send posts content to the chat.
func (c *Connection) Send(ctx context.Context, content, senderID string) (models.Message, error) {
	return c.SendTo(ctx, c.ChatID(), content, senderID)
}

// Aggregator merges several chats into one timeline: the global shards, or
// every direct conversation of the user.
type Aggregator struct {
	*Feed
}

func NewAggregator(deps Deps, chatIDs []string) *Aggregator {
	return &Aggregator{Feed: newFeed(deps, "aggregate", chatIDs)}
}

// Send posts content to chatID, which must be one of the merged chats.
func (a *Aggregator) Send(ctx context.Context, chatID, content, senderID string) (models.Message, error) {
	return a.SendTo(ctx, chatID, content, senderID)
}
