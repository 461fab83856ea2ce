package chat

import "errors"

var (
	ErrUnknownChannel = errors.New("chat: channel is not part of this feed")
	ErrClosed         = errors.New("chat: feed is closed")
	ErrNotBound       = errors.New("chat: surface is not bound")
)
