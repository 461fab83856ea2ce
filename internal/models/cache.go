package models

import "time"

// HTTPCacheRecord is a cached read-mostly resource keyed by request path.
type HTTPCacheRecord struct {
	Path string    `json:"path"`
	TS   time.Time `json:"ts"`
	Data []byte    `json:"data"`
	ETag string    `json:"etag,omitempty"`
}
