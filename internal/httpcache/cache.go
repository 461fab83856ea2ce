// Package httpcache serves read-mostly backend resources stale-while-revalidate.
package httpcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/observability"
	"chat-sync/internal/repositories"
	"chat-sync/internal/rpc"
)

const (
	DefaultTTL = 60 * time.Second

	revalidateTimeout = 15 * time.Second
)

// Fetcher performs conditional GETs.
type Fetcher interface {
	Fetch(ctx context.Context, path, etag string) (rpc.Resource, error)
}

// Cache is one storage tier of revalidating records.
type Cache struct {
	repo    repositories.HTTPCacheRepository
	fetcher Fetcher
	tier    string
	ttl     time.Duration
	now     func() time.Time

	mu       sync.Mutex
	inflight map[string]bool
	wg       sync.WaitGroup
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTier names the tier in logs and metrics.
func WithTier(tier string) Option {
	return func(c *Cache) { c.tier = tier }
}

func New(repo repositories.HTTPCacheRepository, fetcher Fetcher, opts ...Option) *Cache {
	c := &Cache{
		repo:     repo,
		fetcher:  fetcher,
		tier:     "http",
		ttl:      DefaultTTL,
		now:      time.Now,
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the data for path. A record younger than the TTL is returned
// at once and refreshed in the background. Otherwise the request is made
// synchronously.
func (c *Cache) Get(ctx context.Context, path string) ([]byte, error) {
	log := zap.S().With("method", "httpcache.Get", "tier", c.tier, "path", path)

	rec, err := c.repo.Get(ctx, path)
	hit := err == nil
	if err != nil && !errors.Is(err, repositories.ErrCacheMiss) {
		log.Warnw("unreadable cache record", "error", err)
	}

	if hit && c.now().Sub(rec.TS) < c.ttl {
		observability.IncCacheLookup(c.tier, "fresh")
		c.revalidate(ctx, rec)
		return rec.Data, nil
	}

	etag := ""
	if hit {
		etag = rec.ETag
		observability.IncCacheLookup(c.tier, "stale")
	} else {
		observability.IncCacheLookup(c.tier, "miss")
	}

	updated, err := c.refresh(ctx, path, etag, rec)
	if err != nil {
		if hit {
			log.Warnw("revalidation failed, serving stale data", "error", err)
			return rec.Data, nil
		}
		return nil, err
	}
	return updated.Data, nil
}

// GetJSON decodes the data for path into out.
func (c *Cache) GetJSON(ctx context.Context, path string, out any) error {
	data, err := c.Get(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// Wait blocks until background revalidations finish.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func (c *Cache) revalidate(ctx context.Context, rec models.HTTPCacheRecord) {
	c.mu.Lock()
	if c.inflight[rec.Path] {
		c.mu.Unlock()
		return
	}
	c.inflight[rec.Path] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, rec.Path)
			c.mu.Unlock()
		}()

		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), revalidateTimeout)
		defer cancel()
		if _, err := c.refresh(bg, rec.Path, rec.ETag, rec); err != nil {
			zap.S().With("method", "httpcache.revalidate", "tier", c.tier).Debugw("background revalidation failed", "path", rec.Path, "error", err)
		}
	}()
}

// refresh performs the conditional request and persists its outcome. Write
// failures are logged and never returned.
func (c *Cache) refresh(ctx context.Context, path, etag string, prev models.HTTPCacheRecord) (models.HTTPCacheRecord, error) {
	res, err := c.fetcher.Fetch(ctx, path, etag)
	if err != nil {
		return models.HTTPCacheRecord{}, err
	}

	var next models.HTTPCacheRecord
	if res.NotModified {
		observability.IncCacheLookup(c.tier, "not_modified")
		next = prev
		next.Path = path
		next.TS = c.now()
	} else {
		observability.IncCacheLookup(c.tier, "updated")
		next = models.HTTPCacheRecord{Path: path, TS: c.now(), Data: res.Data, ETag: res.ETag}
	}

	if err := c.repo.Put(ctx, next); err != nil {
		zap.S().With("method", "httpcache.refresh", "tier", c.tier).Warnw("cache write failed", "path", path, "error", err)
	}
	return next, nil
}
