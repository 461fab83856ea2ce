package store

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store. Nothing survives a restart; it backs tests
// and the in-memory cache tier.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[Collection]map[string][]byte
	outbox []OutboxRow
	seq    int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[Collection]map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, c Collection, key string) ([]byte, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[c][key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (s *MemoryStore) Put(_ context.Context, c Collection, key string, value []byte) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[c]; !ok {
		s.data[c] = make(map[string][]byte)
	}
	s.data[c][key] = slices.Clone(value)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, c Collection, key string) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[c], key)
	return nil
}

func (s *MemoryStore) AppendOutbox(_ context.Context, chatID string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.outbox = append(s.outbox, OutboxRow{ID: s.seq, ChatID: chatID, Payload: slices.Clone(payload)})
	return s.seq, nil
}

func (s *MemoryStore) ListOutbox(_ context.Context, chatID string) ([]OutboxRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []OutboxRow
	for _, r := range s.outbox {
		if r.ChatID == chatID {
			rows = append(rows, OutboxRow{ID: r.ID, ChatID: r.ChatID, Payload: slices.Clone(r.Payload)})
		}
	}
	return rows, nil
}

func (s *MemoryStore) DeleteOutbox(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = slices.DeleteFunc(s.outbox, func(r OutboxRow) bool { return r.ID == id })
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
