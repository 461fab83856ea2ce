package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-sync/internal/events"
	"chat-sync/internal/mocks"
	"chat-sync/internal/models"
	"chat-sync/internal/repositories"
	"chat-sync/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func newQueue(t *testing.T) (*Queue, *repositories.OutboxRepo, *recorder) {
	t.Helper()
	repo := repositories.NewOutboxRepo(store.NewMemoryStore())
	bus := events.NewBus()
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)
	return NewQueue(repo, bus), repo, rec
}

func message(ts, content string) models.Message {
	return models.Message{ChatID: "chat-1", TS: ts, SenderID: "alice", Content: content, Status: models.StatusSending}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		terminal   bool
		reason     string
		invalidate bool
	}{
		{errors.New("connection refused"), false, "", false},
		{errors.New("Uncaught Error: TOXICITY_WARNING"), true, "TOXICITY_WARNING", false},
		{errors.New("user is MUTED for 30s"), true, "MUTED", true},
		{errors.New("BANNED"), true, "BANNED", true},
		{errors.New("chat is READONLY"), true, "READONLY", true},
		{nil, false, "", false},
	}
	for _, tt := range tests {
		c := Classify(tt.err)
		assert.Equal(t, tt.terminal, c.Terminal(), "%v", tt.err)
		assert.Equal(t, tt.reason, c.Reason)
		assert.Equal(t, tt.invalidate, c.InvalidatesRestriction)
	}
}

func TestFailTransientPersistsEntry(t *testing.T) {
	ctx := context.Background()
	q, repo, rec := newQueue(t)

	c, err := q.Fail(ctx, message("2024-01-01T00:00:00.000Z", "gg"), errors.New("dial tcp: connection refused"))
	require.NoError(t, err)
	assert.False(t, c.Terminal())

	entries, err := repo.ListForChat(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "gg", entries[0].Content)
	assert.Equal(t, models.StatusFailed, entries[0].Status)
	assert.Equal(t, []events.Kind{events.MessageFailed}, rec.kinds())
}

func TestFailMutedIsTerminalAndInvalidatesRestriction(t *testing.T) {
	ctx := context.Background()
	q, repo, rec := newQueue(t)

	c, err := q.Fail(ctx, message("2024-01-01T00:00:00.000Z", "hi"), errors.New("[Request ID: 1] Server Error Uncaught Error: MUTED"))
	require.NoError(t, err)
	assert.True(t, c.Terminal())

	entries, err := repo.ListForChat(ctx, "chat-1")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Contains(t, rec.kinds(), events.RestrictionInvalidated)
	assert.Contains(t, rec.kinds(), events.ModerationNotice)
}

func TestFailToxicityDoesNotInvalidateRestriction(t *testing.T) {
	q, _, rec := newQueue(t)

	_, err := q.Fail(context.Background(), message("2024-01-01T00:00:00.000Z", "x"), errors.New("TOXICITY_WARNING"))
	require.NoError(t, err)
	assert.NotContains(t, rec.kinds(), events.RestrictionInvalidated)
}

func TestFlushStopsAtFirstTransientFailure(t *testing.T) {
	ctx := context.Background()
	q, repo, _ := newQueue(t)
	for _, m := range []models.Message{
		message("2024-01-01T00:00:01.000Z", "one"),
		message("2024-01-01T00:00:02.000Z", "two"),
		message("2024-01-01T00:00:03.000Z", "three"),
	} {
		_, err := repo.Add(ctx, m)
		require.NoError(t, err)
	}

	sender := new(mocks.SenderMock)
	sender.On("SendMessage", mock.Anything, "chat-1", "one", "2024-01-01T00:00:01.000Z").Return("id-1", nil).Once()
	sender.On("SendMessage", mock.Anything, "chat-1", "two", "2024-01-01T00:00:02.000Z").Return("", errors.New("503 service unavailable")).Once()

	res, err := q.Flush(ctx, "chat-1", sender)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01T00:00:01.000Z"}, res.Resolved)
	assert.Equal(t, 2, res.Remaining)

	sender.AssertExpectations(t)
	sender.AssertNotCalled(t, "SendMessage", mock.Anything, "chat-1", "three", mock.Anything)

	left, err := repo.ListForChat(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "two", left[0].Content)
	assert.Equal(t, "three", left[1].Content)
}

func TestFlushDropsTerminalAndContinues(t *testing.T) {
	ctx := context.Background()
	q, repo, rec := newQueue(t)
	_, err := repo.Add(ctx, message("2024-01-01T00:00:01.000Z", "bad"))
	require.NoError(t, err)
	_, err = repo.Add(ctx, message("2024-01-01T00:00:02.000Z", "good"))
	require.NoError(t, err)

	sender := new(mocks.SenderMock)
	sender.On("SendMessage", mock.Anything, "chat-1", "bad", mock.Anything).Return("", errors.New("BANNED")).Once()
	sender.On("SendMessage", mock.Anything, "chat-1", "good", mock.Anything).Return("id-2", nil).Once()

	res, err := q.Flush(ctx, "chat-1", sender)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01T00:00:01.000Z"}, res.Dropped)
	assert.Equal(t, []string{"2024-01-01T00:00:02.000Z"}, res.Resolved)
	assert.Zero(t, res.Remaining)
	assert.Contains(t, rec.kinds(), events.RestrictionInvalidated)

	left, err := repo.ListForChat(ctx, "chat-1")
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestFlushOnlyTouchesItsChat(t *testing.T) {
	ctx := context.Background()
	q, repo, _ := newQueue(t)
	other := message("2024-01-01T00:00:01.000Z", "elsewhere")
	other.ChatID = "chat-2"
	_, err := repo.Add(ctx, other)
	require.NoError(t, err)

	sender := new(mocks.SenderMock)
	res, err := q.Flush(ctx, "chat-1", sender)
	require.NoError(t, err)
	assert.Empty(t, res.Resolved)
	sender.AssertNotCalled(t, "SendMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFlushDuringRunningFlushStillDeliversAfterTransientFailure(t *testing.T) {
	ctx := context.Background()
	q, repo, _ := newQueue(t)
	_, err := repo.Add(ctx, message("2024-01-01T00:00:01.000Z", "one"))
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	dropped := new(mocks.SenderMock)
	dropped.On("SendMessage", mock.Anything, "chat-1", "one", mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return("", errors.New("connection reset")).Once()

	healthy := new(mocks.SenderMock)
	healthy.On("SendMessage", mock.Anything, "chat-1", "one", mock.Anything).Return("id-1", nil).Once()

	first := make(chan FlushResult)
	go func() {
		res, _ := q.Flush(ctx, "chat-1", dropped)
		first <- res
	}()
	<-started

	second := make(chan FlushResult)
	go func() {
		res, _ := q.Flush(ctx, "chat-1", healthy)
		second <- res
	}()

	close(release)
	assert.Equal(t, 1, (<-first).Remaining)
	res := <-second
	assert.Equal(t, []string{"2024-01-01T00:00:01.000Z"}, res.Resolved)

	pending, err := q.Pending(ctx, "chat-1")
	require.NoError(t, err)
	assert.Empty(t, pending)
	dropped.AssertExpectations(t)
	healthy.AssertExpectations(t)
}

func TestFlushesOfSameChatDoNotOverlap(t *testing.T) {
	ctx := context.Background()
	q, repo, _ := newQueue(t)
	_, err := repo.Add(ctx, message("2024-01-01T00:00:01.000Z", "one"))
	require.NoError(t, err)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	sender := new(mocks.SenderMock)
	sender.On("SendMessage", mock.Anything, "chat-1", "one", mock.Anything).
		Run(func(mock.Arguments) {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			inFlight--
			mu.Unlock()
		}).
		Return("", errors.New("timeout"))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Flush(ctx, "chat-1", sender)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInFlight)
	sender.AssertNumberOfCalls(t, "SendMessage", 4)
}

func TestFlushWaitingForLockHonoursContext(t *testing.T) {
	q, repo, _ := newQueue(t)
	_, err := repo.Add(context.Background(), message("2024-01-01T00:00:01.000Z", "one"))
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	sender := new(mocks.SenderMock)
	sender.On("SendMessage", mock.Anything, "chat-1", "one", mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return("id-1", nil).Once()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.Flush(context.Background(), "chat-1", sender)
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = q.Flush(ctx, "chat-1", sender)
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	<-done
	sender.AssertExpectations(t)
}
