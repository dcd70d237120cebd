package eventstore

import (
	"context"
	"encoding/json"
)

// Recorder appends JSON-encoded events to a Store.
type Recorder struct {
	store Store
}

// NewRecorder wraps store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record marshals payload and appends it under buildID.
func (r *Recorder) Record(ctx context.Context, buildID, eventType string, payload any, metadata map[string]string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return wrap(ErrMarshalPayloadFailed, err)
	}
	_, err = r.store.Append(ctx, buildID, eventType, data, metadata)
	return err
}
