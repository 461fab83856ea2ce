package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishReachesKindAndWildcardSubscribers(t *testing.T) {
	bus := NewBus()
	var kinds, all []Kind

	bus.Subscribe(RestrictionInvalidated, func(e Event) { kinds = append(kinds, e.Kind) })
	bus.SubscribeAll(func(e Event) { all = append(all, e.Kind) })

	bus.Publish(Event{Kind: RestrictionInvalidated})
	bus.Publish(Event{Kind: MessageFailed})

	assert.Equal(t, []Kind{RestrictionInvalidated}, kinds)
	assert.Equal(t, []Kind{RestrictionInvalidated, MessageFailed}, all)
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe(ModerationNotice, func(Event) { calls++ })

	bus.Publish(Event{Kind: ModerationNotice})
	unsubscribe()
	bus.Publish(Event{Kind: ModerationNotice})

	assert.Equal(t, 1, calls)
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	bus := NewBus()
	delivered := false
	bus.Subscribe(MessageFailed, func(Event) { panic("boom") })
	bus.SubscribeAll(func(Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Publish(Event{Kind: MessageFailed}) })
	assert.True(t, delivered)
}

func TestPublishStampsTime(t *testing.T) {
	bus := NewBus()
	var got Event
	bus.SubscribeAll(func(e Event) { got = e })
	bus.Publish(Event{Kind: OpenConversation, ChatID: "dm-1"})

	assert.False(t, got.At.IsZero())
	assert.Equal(t, "dm-1", got.ChatID)

	var nilBus *Bus
	assert.NotPanics(t, func() { nilBus.Publish(Event{Kind: MessageFailed}) })
}
