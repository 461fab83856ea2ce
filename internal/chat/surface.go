package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chat-sync/internal/models"
	"chat-sync/internal/shard"
)

// Kind selects what a Surface shows.
type Kind string

const (
	SurfaceDirect Kind = "direct"
	SurfaceClan   Kind = "clan"
	SurfaceGlobal Kind = "global"
)

// Binding is what a Surface is bound to. A direct binding without a chat id
// merges every direct conversation.
type Binding struct {
	Kind   Kind   `json:"kind"`
	ChatID string `json:"chat_id,omitempty"`
}

// Source is the feed behind a Surface.
type Source interface {
	Connect(ctx context.Context) error
	LoadMore(ctx context.Context) error
	SendTo(ctx context.Context, chatID, content, senderID string) (models.Message, error)
	Snapshot() Snapshot
	OnUpdate(l Listener) func()
	ChatIDs() []string
	Close() error
}

type SurfaceConfig struct {
	UserID    string
	Shards    int
	AllShards bool
}

// SurfaceListener receives the snapshots of whatever feed is bound.
type SurfaceListener func(Binding, Snapshot)

// Surface owns at most one feed. Binding a new target tears the previous feed
// down before the next one connects.
type Surface struct {
	deps Deps
	dir  *Directory
	cfg  SurfaceConfig

	mu      sync.Mutex
	binding Binding
	feed    Source
	unsub   func()

	lmu       sync.Mutex
	listeners map[int]SurfaceListener
	nextID    int
}

func NewSurface(deps Deps, dir *Directory, cfg SurfaceConfig) *Surface {
	if cfg.Shards <= 0 {
		cfg.Shards = shard.DefaultCount
	}
	return &Surface{
		deps:      deps,
		dir:       dir,
		cfg:       cfg,
		listeners: make(map[int]SurfaceListener),
	}
}

// OwnShard is the global shard of the bound user.
func (s *Surface) OwnShard() string {
	return shard.ForN(s.cfg.UserID, s.cfg.Shards)
}

// Bind switches the surface to b and connects the new feed.
func (s *Surface) Bind(ctx context.Context, b Binding) (Snapshot, error) {
	ids, err := s.resolve(ctx, b)
	if err != nil {
		return Snapshot{}, err
	}

	var feed Source
	if len(ids) == 1 && b.Kind != SurfaceGlobal && b.ChatID != "" {
		feed = NewConnection(s.deps, ids[0])
	} else {
		feed = NewAggregator(s.deps, ids)
	}

	s.mu.Lock()
	prev, prevUnsub := s.feed, s.unsub
	s.feed = feed
	s.binding = b
	s.unsub = feed.OnUpdate(func(snap Snapshot) { s.emit(b, snap) })
	s.mu.Unlock()

	if prevUnsub != nil {
		prevUnsub()
	}
	if prev != nil {
		if err := prev.Close(); err != nil {
			zap.S().With("method", "chat.Bind").Warnw("closing previous feed", "error", err)
		}
	}

	if err := feed.Connect(ctx); err != nil {
		return feed.Snapshot(), err
	}
	return feed.Snapshot(), nil
}

func (s *Surface) resolve(ctx context.Context, b Binding) ([]string, error) {
	switch b.Kind {
	case SurfaceGlobal:
		if s.cfg.AllShards {
			return shard.All(s.cfg.Shards), nil
		}
		return []string{s.OwnShard()}, nil
	case SurfaceClan:
		if b.ChatID == "" {
			return nil, errors.New("chat: clan binding needs a chat id")
		}
		return []string{b.ChatID}, nil
	case SurfaceDirect:
		if b.ChatID != "" {
			return []string{b.ChatID}, nil
		}
		if s.dir == nil {
			return nil, errors.New("chat: no directory for direct chats")
		}
		ids, err := s.dir.DirectChatIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list direct chats: %w", err)
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("chat: unknown surface kind %q", b.Kind)
	}
}

func (s *Surface) current() (Source, Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.feed == nil {
		return nil, Binding{}, ErrNotBound
	}
	return s.feed, s.binding, nil
}

// Binding returns the current target.
func (s *Surface) Binding() (Binding, bool) {
	_, b, err := s.current()
	return b, err == nil
}

func (s *Surface) Snapshot() (Snapshot, error) {
	feed, _, err := s.current()
	if err != nil {
		return Snapshot{}, err
	}
	return feed.Snapshot(), nil
}

func (s *Surface) LoadMore(ctx context.Context) (Snapshot, error) {
	feed, _, err := s.current()
	if err != nil {
		return Snapshot{}, err
	}
	err = feed.LoadMore(ctx)
	return feed.Snapshot(), err
}

// Send posts content as the bound user. An empty chatID means the bound chat,
// or the user's own shard on the global surface.
func (s *Surface) Send(ctx context.Context, chatID, content string) (models.Message, error) {
	feed, b, err := s.current()
	if err != nil {
		return models.Message{}, err
	}
	if chatID == "" {
		switch {
		case b.Kind == SurfaceGlobal:
			chatID = s.OwnShard()
		case b.ChatID != "":
			chatID = b.ChatID
		default:
			return models.Message{}, ErrUnknownChannel
		}
	}
	return feed.SendTo(ctx, chatID, content, s.cfg.UserID)
}

// OnUpdate registers l and returns a function removing it.
func (s *Surface) OnUpdate(l SurfaceListener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = l
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Surface) emit(b Binding, snap Snapshot) {
	s.lmu.Lock()
	listeners := make([]SurfaceListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.lmu.Unlock()
	for _, l := range listeners {
		l(b, snap)
	}
}

// Close tears down the bound feed.
func (s *Surface) Close() error {
	s.mu.Lock()
	feed, unsub := s.feed, s.unsub
	s.feed, s.unsub = nil, nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if feed == nil {
		return nil
	}
	return feed.Close()
}
