package models

import "time"

// MessageStatus is the local delivery state of a message.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// TSLayout formats message timestamps. Lexical order equals chronological order.
const TSLayout = "2006-01-02T15:04:05.000Z"

// Message represents a chat message. TS is generated by the sending client and
// doubles as the dedup key, the sort key and the pagination cursor.
type Message struct {
	ChatID   string        `db:"chat_id" json:"chatId"`
	TS       string        `db:"ts" json:"ts"`
	SenderID string        `db:"sender_id" json:"senderId"`
	Content  string        `db:"content" json:"content"`
	Status   MessageStatus `db:"status" json:"status,omitempty"`
}

// Delivered reports whether the server has confirmed the message. Server echoes
// carry no status.
func (m Message) Delivered() bool {
	return m.Status == "" || m.Status == StatusSent
}

// NormalizeTS rewrites an RFC 3339 timestamp into TSLayout in UTC so that
// lexical order matches time order. Unparseable values are returned as they
// are.
func NormalizeTS(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.UTC().Format(TSLayout)
}

// OutboxEntry is a message waiting for server confirmation. ID is assigned by
// the durable store and only used to delete the entry once resolved.
type OutboxEntry struct {
	ID int64 `db:"id" json:"id"`
	Message
}

// ChannelCacheRecord is the most recent snapshot of one channel's timeline.
type ChannelCacheRecord struct {
	ChatID   string    `json:"chatId"`
	Messages []Message `json:"messages"`
}
