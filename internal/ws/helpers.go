package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chat-sync/internal/observability"
)

func newConnID() string {
	return uuid.NewString()
}

func publishWSEvent(info ConnInfo, event, reason string) {
	observability.IncWSEvent(kindUI, event)
	_ = observability.PublishEvent(context.Background(), routingKey, observability.NewWSEnvelope(observability.WSEvent{
		Kind:       kindUI,
		Event:      event,
		ConnID:     info.ConnID,
		DurationMS: time.Since(info.ConnectedAt).Milliseconds(),
		Reason:     reason,
		ClientID:   info.ClientID,
		IP:         info.IP,
	}), observability.BuildHeaders(info.RequestID, info.TraceID))
}
