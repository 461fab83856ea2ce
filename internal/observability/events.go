package observability

import "time"

// EventEnvelope is the body of every event published to the telemetry exchange.
type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// WSEvent describes one websocket lifecycle event, for the UI hub and the
// backend transport alike.
type WSEvent struct {
	Kind       string   `json:"kind"`
	Event      string   `json:"event"`
	ConnID     string   `json:"conn_id"`
	Topics     []string `json:"topics,omitempty"`
	DurationMS int64    `json:"duration_ms"`
	Reason     string   `json:"reason"`
	ClientID   string   `json:"client_id,omitempty"`
	IP         string   `json:"ip,omitempty"`
}

func NewWSEnvelope(ev WSEvent) EventEnvelope {
	return EventEnvelope{
		EventType:  "ws_events",
		EventName:  ev.Event,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:    map[string]interface{}{"ws": ev},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
