package eventstore

import (
	"bytes"
	"testing"
	"time"
)

const testBuildID = "rec-1"

func newMemStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEventStoreAppendAndRetrieve(t *testing.T) {
	store := newMemStore(t)
	ctx := t.Context()
	payload := []byte(`{"stage":"clone"}`)

	id, err := store.Append(ctx, testBuildID, "StageCompleted", payload, map[string]string{"prototype_id": "p1"})
	if err != nil {
		t.Fatalf("failed to append event: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}

	events, err := store.GetByBuildID(ctx, testBuildID)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	e := events[0]
	if e.Type != "StageCompleted" {
		t.Errorf("expected type StageCompleted, got %s", e.Type)
	}
	if !bytes.Equal(e.Payload, payload) {
		t.Errorf("expected payload %s, got %s", payload, e.Payload)
	}
	if e.Metadata["prototype_id"] != "p1" {
		t.Errorf("expected metadata prototype_id=p1, got %v", e.Metadata)
	}

	var decoded struct {
		Stage string `json:"stage"`
	}
	if err := e.Decode(&decoded); err != nil || decoded.Stage != "clone" {
		t.Errorf("decode: stage=%q err=%v", decoded.Stage, err)
	}
}

func TestEventStoreOrderingAndIsolation(t *testing.T) {
	store := newMemStore(t)
	ctx := t.Context()

	for _, typ := range []string{"BuildStarted", "RepositoryCloned", "BuildCompleted"} {
		if _, err := store.Append(ctx, testBuildID, typ, nil, nil); err != nil {
			t.Fatalf("append %s: %v", typ, err)
		}
	}
	if _, err := store.Append(ctx, "other", "BuildStarted", nil, nil); err != nil {
		t.Fatalf("append other: %v", err)
	}

	events, err := store.GetByBuildID(ctx, testBuildID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != "BuildStarted" || events[2].Type != "BuildCompleted" {
		t.Errorf("unexpected order: %s ... %s", events[0].Type, events[2].Type)
	}
	if string(events[1].Payload) != "{}" {
		t.Errorf("nil payload should be stored as {}, got %s", events[1].Payload)
	}
}

func TestEventStoreSinceAndPrune(t *testing.T) {
	store := newMemStore(t)
	ctx := t.Context()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := range 3 {
		ts := base.Add(time.Duration(i) * time.Hour)
		store.now = func() time.Time { return ts }
		if _, err := store.Append(ctx, testBuildID, "Tick", nil, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	all, err := store.GetByBuildID(ctx, testBuildID)
	if err != nil || len(all) != 3 {
		t.Fatalf("expected 3 events, got %d (err=%v)", len(all), err)
	}
	events, err := store.GetSince(ctx, testBuildID, all[0].ID)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(events) != 2 || events[0].ID != all[1].ID {
		t.Fatalf("expected the last 2 events, got %d", len(events))
	}

	n, err := store.Prune(ctx, base.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}
}

func TestRecorderMarshalsPayload(t *testing.T) {
	store := newMemStore(t)
	rec := NewRecorder(store)

	if err := rec.Record(t.Context(), testBuildID, "ProjectDetected", map[string]string{"type": "react"}, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	events, err := store.GetByBuildID(t.Context(), testBuildID)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected 1 event, got %d (err=%v)", len(events), err)
	}
	if string(events[0].Payload) != `{"type":"react"}` {
		t.Errorf("unexpected payload %s", events[0].Payload)
	}

	if err := rec.Record(t.Context(), testBuildID, "Bad", make(chan int), nil); err == nil {
		t.Error("expected marshal error")
	}
}
