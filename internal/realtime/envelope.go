package realtime

import (
	"encoding/json"
	"fmt"
)

// Event is the uniform envelope dispatched to subscribers
type Event struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Seq       int64           `json:"seq"`
	Timestamp int64           `json:"timestamp"`
}

// EventNeedsRefresh is synthesized when the server reports that a resume
// request could not be satisfied. Subscribers must fall back to a full
// fetch instead of trusting incremental state.
const EventNeedsRefresh = "needs_refresh"

// eventResumeStale is the inbound signal that triggers EventNeedsRefresh
const eventResumeStale = "resume:stale"

// rawEnvelope covers both wire shapes: the current {event, data, seq,
// timestamp} envelope and the legacy {type, ...} shape.
type rawEnvelope struct {
	Event     string          `json:"event"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Seq       int64           `json:"seq"`
	Timestamp int64           `json:"timestamp"`
}

// normalizeEnvelope decodes one inbound frame. This is the single place
// legacy-shape messages are accepted: a message without an event field has
// its type promoted to the event name and the whole message becomes data.
func normalizeEnvelope(raw []byte) (Event, error) {
	var parsed rawEnvelope
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Event{}, fmt.Errorf("malformed frame: %w", err)
	}

	if parsed.Event != "" {
		return Event{
			Event:     parsed.Event,
			Data:      parsed.Data,
			Seq:       parsed.Seq,
			Timestamp: parsed.Timestamp,
		}, nil
	}

	event := parsed.Type
	if event == "" {
		event = "unknown"
	}

	return Event{
		Event:     event,
		Data:      json.RawMessage(raw),
		Seq:       parsed.Seq,
		Timestamp: parsed.Timestamp,
	}, nil
}

// resumeMessage is the outbound control frame sent after reconnecting
type resumeMessage struct {
	Type    string `json:"type"`
	LastSeq int64  `json:"lastSeq"`
}
