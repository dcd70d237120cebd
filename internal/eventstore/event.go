package eventstore

import (
	"encoding/json"
	"time"
)

// Event is one appended row of a build's event stream.
type Event struct {
	ID        int64             `json:"id"`
	BuildID   string            `json:"buildId"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return ErrUnmarshalPayloadFailed.WithContext("event_id", e.ID).WithContext("cause", err.Error())
	}
	return nil
}
