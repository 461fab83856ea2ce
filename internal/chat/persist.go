package chat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"chat-sync/internal/repositories"
)

const persistTimeout = 5 * time.Second

// persister rewrites the cache records of chats marked dirty. One goroutine
// does all writes so a newer snapshot is never overwritten by an older one.
type persister struct {
	feed *Feed
	repo repositories.MessageCacheRepository

	mu    sync.Mutex
	dirty map[string]bool
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
}

func newPersister(f *Feed, repo repositories.MessageCacheRepository) *persister {
	p := &persister{
		feed:  f,
		repo:  repo,
		dirty: make(map[string]bool),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persister) mark(ids ...string) {
	p.mu.Lock()
	for _, id := range ids {
		p.dirty[id] = true
	}
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// close writes whatever is still dirty and stops the goroutine.
func (p *persister) close() {
	close(p.stop)
	<-p.done
}

func (p *persister) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *persister) flush() {
	p.mu.Lock()
	dirty := p.dirty
	p.dirty = make(map[string]bool)
	p.mu.Unlock()

	for id := range dirty {
		p.feed.mu.Lock()
		msgs := p.feed.tl.Recent(id, repositories.CacheLimit)
		p.feed.mu.Unlock()
		if len(msgs) == 0 {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		err := p.repo.Save(ctx, id, msgs)
		cancel()
		if err != nil {
			zap.S().With("method", "chat.persist").Warnw("message cache write failed", "chat_id", id, "error", err)
		}
	}
}
