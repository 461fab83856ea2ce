package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/models"
)

func msg(chatID, ts, content string) models.Message {
	return models.Message{ChatID: chatID, TS: ts, SenderID: "u1", Content: content}
}

func timestamps(msgs []models.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.TS)
	}
	return out
}

func TestInsertIsIdempotentByTS(t *testing.T) {
	tl := New()
	m := msg("c1", "2024-05-01T10:00:00.000Z", "gg")

	require.True(t, tl.Insert(m))
	require.False(t, tl.Insert(m))

	dup := m
	dup.Content = "different body, same ts"
	require.False(t, tl.Insert(dup))

	assert.Equal(t, 1, tl.Len())
	got, ok := tl.Get(m.TS)
	require.True(t, ok)
	assert.Equal(t, "gg", got.Content)
}

func TestInsertKeepsTimestampOrder(t *testing.T) {
	orders := [][]string{
		{"2024-05-01T10:00:03.000Z", "2024-05-01T10:00:01.000Z", "2024-05-01T10:00:02.000Z"},
		{"2024-05-01T10:00:01.000Z", "2024-05-01T10:00:02.000Z", "2024-05-01T10:00:03.000Z"},
		{"2024-05-01T10:00:02.000Z", "2024-05-01T10:00:03.000Z", "2024-05-01T10:00:01.000Z"},
	}
	for _, order := range orders {
		tl := New()
		for _, ts := range order {
			tl.Insert(msg("c1", ts, ts))
		}
		assert.Equal(t, []string{
			"2024-05-01T10:00:01.000Z",
			"2024-05-01T10:00:02.000Z",
			"2024-05-01T10:00:03.000Z",
		}, timestamps(tl.Messages()))
	}
}

func TestMergeCountsNewEntries(t *testing.T) {
	tl := New(msg("c1", "2024-05-01T10:00:01.000Z", "a"))
	added := tl.Merge([]models.Message{
		msg("c1", "2024-05-01T10:00:01.000Z", "a"),
		msg("c2", "2024-05-01T10:00:00.000Z", "b"),
	})
	assert.Equal(t, 1, added)
	assert.Equal(t, 2, tl.Len())

	oldest, ok := tl.Oldest()
	require.True(t, ok)
	assert.Equal(t, "2024-05-01T10:00:00.000Z", oldest)

	oldestC1, ok := tl.OldestFor("c1")
	require.True(t, ok)
	assert.Equal(t, "2024-05-01T10:00:01.000Z", oldestC1)

	_, ok = tl.OldestFor("c3")
	assert.False(t, ok)

	local := msg("c1", "2024-05-01T09:00:00.000Z", "queued")
	local.Status = models.StatusFailed
	tl.Insert(local)
	oldestC1, _ = tl.OldestFor("c1")
	assert.Equal(t, "2024-05-01T10:00:01.000Z", oldestC1)
}

func TestReplaceChatKeepsLocalEntriesAndOtherChats(t *testing.T) {
	failed := msg("c1", "2024-05-01T10:00:05.000Z", "queued")
	failed.Status = models.StatusFailed
	echoed := msg("c1", "2024-05-01T10:00:06.000Z", "sent already")
	echoed.Status = models.StatusFailed
	tl := New(
		msg("c1", "2024-05-01T10:00:01.000Z", "stale"),
		msg("c2", "2024-05-01T10:00:02.000Z", "other"),
		failed,
		echoed,
	)

	tl.ReplaceChat("c1", []models.Message{
		msg("c1", "2024-05-01T10:00:03.000Z", "fresh"),
		msg("c1", "2024-05-01T10:00:06.000Z", "sent already"),
	})

	assert.Equal(t, []string{
		"2024-05-01T10:00:02.000Z",
		"2024-05-01T10:00:03.000Z",
		"2024-05-01T10:00:05.000Z",
		"2024-05-01T10:00:06.000Z",
	}, timestamps(tl.Messages()))
	got, _ := tl.Get("2024-05-01T10:00:06.000Z")
	assert.True(t, got.Delivered())
	assert.Len(t, tl.Pending(), 1)
}

func TestSetStatusAndRemove(t *testing.T) {
	tl := New(msg("c1", "2024-05-01T10:00:01.000Z", "a"))

	require.True(t, tl.SetStatus("2024-05-01T10:00:01.000Z", models.StatusFailed))
	assert.Len(t, tl.Pending(), 1)
	assert.False(t, tl.SetStatus("missing", models.StatusSent))

	require.True(t, tl.Remove("2024-05-01T10:00:01.000Z"))
	assert.False(t, tl.Remove("2024-05-01T10:00:01.000Z"))
	assert.Equal(t, 0, tl.Len())
}

func TestRecentSkipsInFlightAndOtherChats(t *testing.T) {
	tl := New()
	for i, ts := range []string{
		"2024-05-01T10:00:01.000Z",
		"2024-05-01T10:00:02.000Z",
		"2024-05-01T10:00:03.000Z",
		"2024-05-01T10:00:04.000Z",
	} {
		m := msg("c1", ts, "x")
		if i == 3 {
			m.Status = models.StatusSending
		}
		tl.Insert(m)
	}
	tl.Insert(msg("c2", "2024-05-01T10:00:05.000Z", "y"))

	recent := tl.Recent("c1", 2)
	assert.Equal(t, []string{"2024-05-01T10:00:02.000Z", "2024-05-01T10:00:03.000Z"}, timestamps(recent))
}

func TestMessagesReturnsCopy(t *testing.T) {
	tl := New(msg("c1", "2024-05-01T10:00:01.000Z", "a"))
	out := tl.Messages()
	out[0].Content = "mutated"

	got, _ := tl.Get("2024-05-01T10:00:01.000Z")
	assert.Equal(t, "a", got.Content)
}
