// Package store persists prototypes and build records in SQLite and enforces
// the prototype status state machine on every write.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrRecordCompleted is returned when completing a build record twice.
var ErrRecordCompleted = errors.New("build record already completed")

const schema = `
CREATE TABLE IF NOT EXISTS prototypes (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	slug TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	repo_url TEXT NOT NULL,
	owner TEXT NOT NULL DEFAULT '',
	repo_name TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	last_deployed_at INTEGER,
	active INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'pending',
	error_message TEXT NOT NULL DEFAULT '',
	webhook_id INTEGER NOT NULL DEFAULT 0,
	readme_html TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_prototypes_repo ON prototypes(owner, repo_name, active);
CREATE INDEX IF NOT EXISTS idx_prototypes_updated ON prototypes(updated_at);

CREATE TABLE IF NOT EXISTS build_records (
	id TEXT PRIMARY KEY,
	prototype_id TEXT NOT NULL REFERENCES prototypes(id),
	commit_sha TEXT NOT NULL DEFAULT '',
	commit_message TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	duration_ms INTEGER,
	logs TEXT,
	error_message TEXT,
	error_kind TEXT NOT NULL DEFAULT '',
	build_trigger TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_build_records_prototype ON build_records(prototype_id, started_at);
CREATE INDEX IF NOT EXISTS idx_build_records_status ON build_records(status);
`

// SQLiteStore implements prototype.Repository and the build orchestrator's store.
type SQLiteStore struct {
	db    *sql.DB
	now   func() time.Time
	newID func() string
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) Option { return func(s *SQLiteStore) { s.now = now } }

// WithIDGenerator overrides build record id generation.
func WithIDGenerator(gen func() string) Option { return func(s *SQLiteStore) { s.newID = gen } }

// Open opens (or creates) the database at dbPath. Use ":memory:" for tests.
func Open(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection: SQLite has a single writer and :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, now: time.Now, newID: newRecordID}
	for _, o := range opts {
		o(s)
	}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if _, err := s.db.Exec("PRAGMA foreign_keys = ON; PRAGMA busy_timeout = 5000;"); err != nil {
		return err
	}
	_, err := s.db.Exec(schema)
	return err
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
