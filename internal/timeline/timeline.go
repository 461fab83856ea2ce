// Package timeline keeps chat messages ordered and de-duplicated by timestamp.
package timeline

import (
	"slices"
	"sort"

	"chat-sync/internal/models"
)

// Timeline is an ordered list of messages in which no two entries share a TS.
// It is not safe for concurrent use.
type Timeline struct {
	msgs []models.Message
}

// New builds a timeline from msgs, dropping duplicate timestamps.
func New(msgs ...models.Message) *Timeline {
	t := &Timeline{}
	t.Merge(msgs)
	return t
}

func (t *Timeline) search(ts string) (int, bool) {
	i := sort.Search(len(t.msgs), func(i int) bool { return t.msgs[i].TS >= ts })
	return i, i < len(t.msgs) && t.msgs[i].TS == ts
}

// Insert adds msg unless an entry with the same TS exists. It reports whether
// the message was added.
func (t *Timeline) Insert(msg models.Message) bool {
	i, found := t.search(msg.TS)
	if found {
		return false
	}
	t.msgs = slices.Insert(t.msgs, i, msg)
	return true
}

// Merge inserts every message and returns how many were new.
func (t *Timeline) Merge(msgs []models.Message) int {
	added := 0
	for _, m := range msgs {
		if t.Insert(m) {
			added++
		}
	}
	return added
}

// Get returns the entry with the given TS.
func (t *Timeline) Get(ts string) (models.Message, bool) {
	i, found := t.search(ts)
	if !found {
		return models.Message{}, false
	}
	return t.msgs[i], true
}

// SetStatus updates the status of the entry with the given TS.
func (t *Timeline) SetStatus(ts string, status models.MessageStatus) bool {
	i, found := t.search(ts)
	if !found {
		return false
	}
	t.msgs[i].Status = status
	return true
}

// Remove deletes the entry with the given TS.
func (t *Timeline) Remove(ts string) bool {
	i, found := t.search(ts)
	if !found {
		return false
	}
	t.msgs = slices.Delete(t.msgs, i, i+1)
	return true
}

// Reset replaces the content of the timeline.
func (t *Timeline) Reset(msgs []models.Message) {
	t.msgs = nil
	t.Merge(msgs)
}

// ReplaceChat swaps the confirmed entries of chatID for msgs. Unconfirmed
// entries and other chats are kept; on a TS clash msgs win.
func (t *Timeline) ReplaceChat(chatID string, msgs []models.Message) {
	kept := t.msgs[:0:0]
	for _, m := range t.msgs {
		if m.ChatID == chatID && m.Delivered() {
			continue
		}
		kept = append(kept, m)
	}
	t.Reset(msgs)
	t.Merge(kept)
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	return len(t.msgs)
}

// Oldest returns the smallest TS, if any.
func (t *Timeline) Oldest() (string, bool) {
	if len(t.msgs) == 0 {
		return "", false
	}
	return t.msgs[0].TS, true
}

// OldestFor returns the smallest TS among confirmed entries of one chat. It is
// the cursor for fetching older history, so local entries do not count.
func (t *Timeline) OldestFor(chatID string) (string, bool) {
	for _, m := range t.msgs {
		if m.ChatID == chatID && m.Delivered() {
			return m.TS, true
		}
	}
	return "", false
}

// Messages returns a copy of the entries in order.
func (t *Timeline) Messages() []models.Message {
	return slices.Clone(t.msgs)
}

// Pending returns the entries that are not yet confirmed by the server.
func (t *Timeline) Pending() []models.Message {
	var out []models.Message
	for _, m := range t.msgs {
		if !m.Delivered() {
			out = append(out, m)
		}
	}
	return out
}

// Recent returns up to k of the newest entries of one chat, oldest first.
// Entries still in flight are skipped.
func (t *Timeline) Recent(chatID string, k int) []models.Message {
	var out []models.Message
	for i := len(t.msgs) - 1; i >= 0 && len(out) < k; i-- {
		m := t.msgs[i]
		if m.ChatID != chatID || m.Status == models.StatusSending {
			continue
		}
		out = append(out, m)
	}
	slices.Reverse(out)
	return out
}
