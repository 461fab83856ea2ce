// Package chat binds channels to live timelines: a Connection follows one
// chat, an Aggregator merges several, and a Surface owns whichever one the UI
// is looking at.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"chat-sync/internal/events"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/timeline"
	"chat-sync/internal/transport"
)

// Snapshot is an immutable view of a feed. Version grows with every change.
type Snapshot struct {
	ChatIDs   []string         `json:"chat_ids"`
	Messages  []models.Message `json:"messages"`
	HasMore   bool             `json:"has_more"`
	State     State            `json:"state"`
	Connected bool             `json:"connected"`
	Version   uint64           `json:"version"`
}

// Listener receives snapshots in version order. It must not call back into
// the feed's Connect, Close, Send or LoadMore.
type Listener func(Snapshot)

// Feed owns the timeline and the transport of a fixed set of chats. All
// timeline mutation happens under mu; listeners run outside of it.
type Feed struct {
	deps   Deps
	kind   string
	ids    []string
	member map[string]bool

	mu        sync.Mutex
	state     State
	gen       uint64
	version   uint64
	tl        *timeline.Timeline
	hasMore   map[string]bool
	conn      Transport
	connected bool
	persist   *persister
	listeners map[int]Listener
	nextID    int

	notifyMu sync.Mutex
}

func newFeed(deps Deps, kind string, ids []string) *Feed {
	f := &Feed{
		deps:      deps.withDefaults(),
		kind:      kind,
		member:    make(map[string]bool, len(ids)),
		tl:        timeline.New(),
		hasMore:   make(map[string]bool, len(ids)),
		listeners: make(map[int]Listener),
	}
	for _, id := range ids {
		if id == "" || f.member[id] {
			continue
		}
		f.member[id] = true
		f.ids = append(f.ids, id)
		f.hasMore[id] = true
	}
	return f
}

// ChatIDs lists the chats the feed follows.
func (f *Feed) ChatIDs() []string {
	return append([]string(nil), f.ids...)
}

// State returns the lifecycle state.
func (f *Feed) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Snapshot returns the current view.
func (f *Feed) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() Snapshot {
	more := false
	for _, id := range f.ids {
		if _, ok := f.tl.OldestFor(id); ok && f.hasMore[id] {
			more = true
			break
		}
	}
	return Snapshot{
		ChatIDs:   f.ChatIDs(),
		Messages:  f.tl.Messages(),
		HasMore:   more,
		State:     f.state,
		Connected: f.connected,
		Version:   f.version,
	}
}

// OnUpdate registers l and returns a function removing it.
func (f *Feed) OnUpdate(l Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

// Connect paints cached state, reconciles it with server history and opens
// the live subscription.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.state != Idle {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("chat: connect while %s", state)
	}
	f.state = Connecting
	gen := f.gen
	if f.deps.Cache != nil {
		f.persist = newPersister(f, f.deps.Cache)
	}
	f.version++
	f.mu.Unlock()
	f.notify()

	log := zap.S().With("method", "chat.Connect", "kind", f.kind, "chats", strings.Join(f.ids, ","))

	local := f.loadLocal(ctx)
	if !f.update(gen, func() []string {
		f.tl.Merge(local)
		return nil
	}) {
		return ErrClosed
	}

	pages := f.fetch(ctx, f.ids, nil)
	if !f.update(gen, func() []string {
		var touched []string
		for _, p := range pages {
			if p.err != nil {
				continue
			}
			f.tl.ReplaceChat(p.chatID, p.msgs)
			f.hasMore[p.chatID] = len(p.msgs) == PageSize
			touched = append(touched, p.chatID)
		}
		return touched
	}) {
		return ErrClosed
	}
	for _, p := range pages {
		if p.err != nil {
			log.Warnw("history fetch failed, keeping cached messages", "chat_id", p.chatID, "error", p.err)
		}
	}

	var conn Transport
	if len(f.ids) > 0 {
		conn = f.deps.Dial(transport.Options{
			URL:       f.deps.WebsocketURL,
			Token:     f.deps.Token,
			ChatIDs:   f.ids,
			Kind:      f.kind,
			OnConnect: func(ctx context.Context) { f.flushOutbox(ctx, gen) },
			OnMessage: func(m models.Message) { f.receive(gen, m) },
			OnState:   func(up bool) { f.setConnected(gen, up) },
		})
	}

	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrClosed
	}
	f.conn = conn
	f.state = Live
	f.version++
	f.mu.Unlock()
	f.notify()
	return nil
}

// LoadMore fetches one page older than the oldest confirmed message of every
// chat that may have more history.
func (f *Feed) LoadMore(ctx context.Context) error {
	f.mu.Lock()
	if f.state != Live && f.state != Connecting {
		f.mu.Unlock()
		return ErrClosed
	}
	gen := f.gen
	cursors := make(map[string]string)
	var ids []string
	for _, id := range f.ids {
		if !f.hasMore[id] {
			continue
		}
		oldest, ok := f.tl.OldestFor(id)
		if !ok {
			continue
		}
		cursors[id] = oldest
		ids = append(ids, id)
	}
	f.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	pages := f.fetch(ctx, ids, cursors)
	var errs []error
	if !f.update(gen, func() []string {
		var touched []string
		for _, p := range pages {
			if p.err != nil {
				errs = append(errs, fmt.Errorf("load older %s: %w", p.chatID, p.err))
				continue
			}
			f.tl.Merge(p.msgs)
			f.hasMore[p.chatID] = len(p.msgs) == PageSize
			touched = append(touched, p.chatID)
		}
		return touched
	}) {
		return ErrClosed
	}
	return errors.Join(errs...)
}

// SendTo posts content to chatID. The message appears at once with status
// sending and ends up sent or failed. Transient failures are queued in the
// outbox; the returned error is the backend's.
func (f *Feed) SendTo(ctx context.Context, chatID, content, senderID string) (models.Message, error) {
	if !f.member[chatID] {
		return models.Message{}, ErrUnknownChannel
	}

	f.mu.Lock()
	if f.state != Live && f.state != Connecting {
		f.mu.Unlock()
		return models.Message{}, ErrClosed
	}
	gen := f.gen
	msg := models.Message{ChatID: chatID, SenderID: senderID, Content: content, Status: models.StatusSending}
	for {
		msg.TS = f.deps.Clock.Next()
		if f.tl.Insert(msg) {
			break
		}
	}
	f.version++
	f.mu.Unlock()
	f.notify()

	_, err := f.deps.Backend.SendMessage(ctx, chatID, content, msg.TS)
	if err == nil {
		msg.Status = models.StatusSent
		f.update(gen, func() []string {
			f.tl.SetStatus(msg.TS, models.StatusSent)
			return []string{chatID}
		})
		return msg, nil
	}

	msg.Status = models.StatusFailed
	if f.deps.Outbox != nil {
		if _, qerr := f.deps.Outbox.Fail(context.WithoutCancel(ctx), msg, err); qerr != nil {
			zap.S().With("method", "chat.SendTo").Errorw("outbox unavailable, message will not be retried", "chat_id", chatID, "ts", msg.TS, "error", qerr)
		}
	}
	f.update(gen, func() []string {
		f.tl.SetStatus(msg.TS, models.StatusFailed)
		return []string{chatID}
	})
	return msg, err
}

// Close tears down the subscription and flushes the message cache. The feed
// can be connected again afterwards.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.state == Idle || f.state == Closing {
		f.mu.Unlock()
		return nil
	}
	f.state = Closing
	f.gen++
	conn := f.conn
	f.conn = nil
	p := f.persist
	f.persist = nil
	f.version++
	f.mu.Unlock()
	f.notify()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	if p != nil {
		p.close()
	}

	f.mu.Lock()
	f.state = Idle
	f.connected = false
	f.version++
	f.mu.Unlock()
	f.notify()
	return err
}

// update runs fn under the lock if gen is still current, then publishes a
// snapshot. fn returns the chats whose cache record needs rewriting.
func (f *Feed) update(gen uint64, fn func() []string) bool {
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return false
	}
	touched := fn()
	f.version++
	p := f.persist
	f.mu.Unlock()

	if p != nil && len(touched) > 0 {
		p.mark(touched...)
	}
	f.notify()
	return true
}

func (f *Feed) notify() {
	f.notifyMu.Lock()
	defer f.notifyMu.Unlock()

	f.mu.Lock()
	snap := f.snapshotLocked()
	listeners := make([]Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		listeners = append(listeners, l)
	}
	f.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// loadLocal reads cached snapshots and queued outbox entries.
func (f *Feed) loadLocal(ctx context.Context) []models.Message {
	log := zap.S().With("method", "chat.loadLocal", "kind", f.kind)
	var out []models.Message
	for _, id := range f.ids {
		if f.deps.Cache != nil {
			cached, err := f.deps.Cache.Load(ctx, id)
			switch {
			case err == nil:
				for _, m := range cached {
					if m.TS == "" {
						continue
					}
					m.ChatID = id
					out = append(out, m)
				}
			case errors.Is(err, repositories.ErrCacheMiss):
			default:
				log.Warnw("skipping cached snapshot", "chat_id", id, "error", err)
			}
		}

		if f.deps.Outbox == nil {
			continue
		}
		pending, err := f.deps.Outbox.Pending(ctx, id)
		if err != nil {
			log.Warnw("reading outbox failed", "chat_id", id, "error", err)
			continue
		}
		for _, e := range pending {
			m := e.Message
			m.Status = models.StatusFailed
			out = append(out, m)
		}
	}
	return out
}

type page struct {
	chatID string
	msgs   []models.Message
	err    error
}

// fetch requests one history page per chat in parallel.
func (f *Feed) fetch(ctx context.Context, ids []string, cursors map[string]string) []page {
	pages := make([]page, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			msgs, err := f.deps.Backend.GetMessages(ctx, id, PageSize, cursors[id])
			for j := range msgs {
				msgs[j].ChatID = id
			}
			pages[i] = page{chatID: id, msgs: msgs, err: err}
		}(i, id)
	}
	wg.Wait()
	return pages
}

func (f *Feed) flushOutbox(ctx context.Context, gen uint64) {
	if f.deps.Outbox == nil {
		return
	}
	log := zap.S().With("method", "chat.flushOutbox", "kind", f.kind)
	for _, id := range f.ids {
		res, err := f.deps.Outbox.Flush(ctx, id, f.deps.Backend)
		if err != nil {
			log.Warnw("outbox flush failed", "chat_id", id, "error", err)
			continue
		}
		if len(res.Resolved) == 0 && len(res.Dropped) == 0 {
			continue
		}
		f.update(gen, func() []string {
			for _, ts := range res.Resolved {
				f.tl.SetStatus(ts, models.StatusSent)
			}
			for _, ts := range res.Dropped {
				f.tl.SetStatus(ts, models.StatusFailed)
			}
			return []string{id}
		})
	}
}

func (f *Feed) receive(gen uint64, m models.Message) {
	if !f.member[m.ChatID] {
		return
	}
	f.mu.Lock()
	if gen != f.gen {
		f.mu.Unlock()
		return
	}
	_, exists := f.tl.Get(m.TS)
	f.mu.Unlock()
	if exists {
		return
	}
	f.update(gen, func() []string {
		if !f.tl.Insert(m) {
			return nil
		}
		return []string{m.ChatID}
	})
}

func (f *Feed) setConnected(gen uint64, up bool) {
	if !f.update(gen, func() []string {
		f.connected = up
		return nil
	}) {
		return
	}
	reason := "disconnected"
	if up {
		reason = "connected"
	}
	f.deps.Bus.Publish(events.Event{Kind: events.ConnectionState, ChatID: strings.Join(f.ids, ","), Reason: reason})
}
