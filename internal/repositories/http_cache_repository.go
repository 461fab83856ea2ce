package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chat-sync/internal/models"
	"chat-sync/internal/store"
)

// HTTPCacheRepository persists revalidating cache records in one store tier.
type HTTPCacheRepository interface {
	Get(ctx context.Context, path string) (models.HTTPCacheRecord, error)
	Put(ctx context.Context, rec models.HTTPCacheRecord) error
}

// HTTPCacheRepo stores records in a single collection, so the resource cache and
// the icon cache share the implementation with separate tiers.
type HTTPCacheRepo struct {
	store      store.Store
	collection store.Collection
}

// NewHTTPCacheRepo constructs HTTPCacheRepo over collection.
func NewHTTPCacheRepo(s store.Store, collection store.Collection) *HTTPCacheRepo {
	return &HTTPCacheRepo{store: s, collection: collection}
}

// Get returns the record cached for path.
func (r *HTTPCacheRepo) Get(ctx context.Context, path string) (models.HTTPCacheRecord, error) {
	raw, err := r.store.Get(ctx, r.collection, path)
	if errors.Is(err, store.ErrNotFound) {
		return models.HTTPCacheRecord{}, ErrCacheMiss
	}
	if err != nil {
		return models.HTTPCacheRecord{}, err
	}
	var rec models.HTTPCacheRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.HTTPCacheRecord{}, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, path, err)
	}
	return rec, nil
}

// Put stores rec under its path.
func (r *HTTPCacheRepo) Put(ctx context.Context, rec models.HTTPCacheRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, r.collection, rec.Path, raw)
}
