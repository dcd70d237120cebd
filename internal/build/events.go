package build

import (
	"context"
	"errors"
	"time"

	"git.home.luguber.info/inful/protohost/internal/eventstore"
	"git.home.luguber.info/inful/protohost/internal/prototype"
)

// EventType names a build lifecycle event.
type EventType string

const (
	EventStarted   EventType = "build.started"
	EventCloned    EventType = "build.cloned"
	EventDetected  EventType = "build.detected"
	EventStep      EventType = "build.step"
	EventPublished EventType = "build.published"
	EventSucceeded EventType = "build.succeeded"
	EventFailed    EventType = "build.failed"
)

// Event describes one step of a build for the event log and subscribers.
type Event struct {
	Type        EventType         `json:"type"`
	BuildID     string            `json:"buildId"`
	PrototypeID string            `json:"prototypeId"`
	Trigger     prototype.Trigger `json:"trigger,omitempty"`
	Stage       string            `json:"stage,omitempty"`
	Time        time.Time         `json:"time"`
	Duration    time.Duration     `json:"durationNs,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// EventSink receives build events. Emit errors are logged and never fail a build.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

func (f EventSinkFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Sinks fans an event out to several sinks.
type Sinks []EventSink

func (s Sinks) Emit(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventLog writes events into the append-only event store, keyed by build record id.
type EventLog struct {
	rec *eventstore.Recorder
}

// NewEventLog wraps an event store recorder.
func NewEventLog(rec *eventstore.Recorder) *EventLog {
	return &EventLog{rec: rec}
}

func (l *EventLog) Emit(ctx context.Context, ev Event) error {
	meta := map[string]string{"prototype_id": ev.PrototypeID}
	if ev.Trigger != "" {
		meta["trigger"] = string(ev.Trigger)
	}
	return l.rec.Record(ctx, ev.BuildID, string(ev.Type), ev, meta)
}
