package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens the event database.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, wrap(ErrInitializeSchemaFailed, err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		build_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		payload BLOB NOT NULL,
		metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_build_id ON events(build_id);
	CREATE INDEX IF NOT EXISTS idx_timestamp ON events(timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds a new event to the store.
func (s *SQLiteStore) Append(ctx context.Context, buildID, eventType string, payload []byte, metadata map[string]string) (int64, error) {
	var metadataJSON []byte
	if len(metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(metadata)
		if err != nil {
			return 0, wrap(ErrMarshalPayloadFailed, err)
		}
	}
	if payload == nil {
		payload = []byte("{}")
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO events (build_id, event_type, timestamp, payload, metadata) VALUES (?, ?, ?, ?, ?)",
		buildID, eventType, s.now().UnixMilli(), payload, metadataJSON,
	)
	if err != nil {
		return 0, wrap(ErrEventAppendFailed, err)
	}
	return res.LastInsertId()
}

// GetByBuildID retrieves all events for a specific build.
func (s *SQLiteStore) GetByBuildID(ctx context.Context, buildID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, event_type, timestamp, payload, metadata FROM events WHERE build_id = ? ORDER BY id",
		buildID,
	)
	if err != nil {
		return nil, wrap(ErrEventQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// GetSince retrieves the events of a build appended after afterID.
func (s *SQLiteStore) GetSince(ctx context.Context, buildID string, afterID int64) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, build_id, event_type, timestamp, payload, metadata FROM events WHERE build_id = ? AND id > ? ORDER BY id",
		buildID, afterID,
	)
	if err != nil {
		return nil, wrap(ErrEventQueryFailed, err)
	}
	defer func() { _ = rows.Close() }()

	return scanEvents(rows)
}

// Prune deletes events older than before.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM events WHERE timestamp < ?", before.UnixMilli())
	if err != nil {
		return 0, wrap(ErrEventQueryFailed, err)
	}
	return res.RowsAffected()
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		var payload, metadataJSON []byte

		if err := rows.Scan(&e.ID, &e.BuildID, &e.Type, &ts, &payload, &metadataJSON); err != nil {
			return nil, wrap(ErrEventQueryFailed, err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.Payload = json.RawMessage(payload)

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, wrap(ErrUnmarshalPayloadFailed, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(ErrEventQueryFailed, err)
	}
	return events, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
