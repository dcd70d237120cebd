// Package eventstore keeps an append-only log of build lifecycle events.
package eventstore

import (
	"context"
	"time"
)

// Store persists and retrieves events.
type Store interface {
	// Append adds an event and returns its sequence id.
	Append(ctx context.Context, buildID, eventType string, payload []byte, metadata map[string]string) (int64, error)

	// GetByBuildID returns the events of one build in append order.
	GetByBuildID(ctx context.Context, buildID string) ([]Event, error)

	// GetSince returns the events of one build with a sequence id above afterID.
	GetSince(ctx context.Context, buildID string, afterID int64) ([]Event, error)

	// Prune deletes events older than before and reports how many were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
