package transport

import (
	"encoding/json"
	"strings"
)

const topicPrefix = "/topic/chat/"

const (
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
	FrameMessage     = "message"
)

// Frame is the JSON envelope exchanged over the socket.
type Frame struct {
	Type        string          `json:"type"`
	Destination string          `json:"destination"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Topic is the destination carrying chatID's messages.
func Topic(chatID string) string {
	return topicPrefix + chatID
}

// ChatIDFromTopic extracts the chat id from a destination.
func ChatIDFromTopic(destination string) (string, bool) {
	id, ok := strings.CutPrefix(destination, topicPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}
