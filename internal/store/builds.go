package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/protohost/internal/prototype"
)

const interruptedMessage = "Build interrupted before completion"

const recordColumns = `id, prototype_id, commit_sha, commit_message, status, started_at, completed_at,
	duration_ms, logs, error_message, error_kind, build_trigger`

func newRecordID() string { return uuid.NewString() }

func scanRecord(row rowScanner) (*prototype.BuildRecord, error) {
	var (
		r                  prototype.BuildRecord
		status, kind, trig string
		startedAt          int64
		completedAt, dur   sql.NullInt64
		logs, errMsg       sql.NullString
	)
	err := row.Scan(&r.ID, &r.PrototypeID, &r.CommitSHA, &r.CommitMessage, &status, &startedAt, &completedAt,
		&dur, &logs, &errMsg, &kind, &trig)
	if err != nil {
		return nil, err
	}
	r.Status = prototype.BuildStatus(status)
	r.StartedAt = fromMillis(startedAt)
	r.CompletedAt = nullTime(completedAt)
	if dur.Valid {
		d := dur.Int64
		r.DurationMs = &d
	}
	r.Logs = logs.String
	r.Error = errMsg.String
	r.ErrorKind = prototype.ErrorKind(kind)
	r.Trigger = prototype.Trigger(trig)
	return &r, nil
}

// CreateBuildRecord inserts a record in the started state and returns its id.
func (s *SQLiteStore) CreateBuildRecord(ctx context.Context, prototypeID string, trigger prototype.Trigger) (string, error) {
	id := s.newID()
	_, err := s.db.ExecContext(ctx, `INSERT INTO build_records (id, prototype_id, status, started_at, build_trigger)
		VALUES (?, ?, ?, ?, ?)`, id, prototypeID, string(prototype.BuildStarted), millis(s.now()), string(trigger))
	if err != nil {
		return "", fmt.Errorf("insert build record: %w", err)
	}
	return id, nil
}

// CompleteBuildRecord finishes a started record exactly once.
func (s *SQLiteStore) CompleteBuildRecord(ctx context.Context, recordID string, c prototype.Completion) error {
	status := prototype.BuildFailed
	if c.Success {
		status = prototype.BuildSuccess
	}
	end := s.now()

	var logs, errMsg any
	if c.Logs != "" {
		logs = c.Logs
	}
	if c.Error != "" {
		errMsg = c.Error
	}

	res, err := s.db.ExecContext(ctx, `UPDATE build_records SET
			status = ?, completed_at = ?, duration_ms = max(0, ? - started_at), logs = ?, error_message = ?,
			error_kind = ?, commit_sha = ?, commit_message = ?
		WHERE id = ? AND status = ?`,
		string(status), millis(end), millis(end), logs, errMsg, string(c.ErrorKind), c.CommitSHA, c.CommitMessage,
		recordID, string(prototype.BuildStarted))
	if err != nil {
		return fmt.Errorf("complete build record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.GetBuildRecord(ctx, recordID); err != nil {
		return err
	}
	return ErrRecordCompleted
}

// GetBuildRecord returns one record.
func (s *SQLiteStore) GetBuildRecord(ctx context.Context, id string) (*prototype.BuildRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM build_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, prototype.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query build record: %w", err)
	}
	return r, nil
}

// ListBuildRecords returns up to limit records for a prototype, newest first.
func (s *SQLiteStore) ListBuildRecords(ctx context.Context, prototypeID string, limit int) ([]*prototype.BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM build_records
		WHERE prototype_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`, prototypeID, limit)
	if err != nil {
		return nil, fmt.Errorf("query build records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*prototype.BuildRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build record: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// RecoverInterrupted fails records left started before cutoff whose
// prototype is not reported active, and moves their prototypes from building
// to failed. It returns the number of records recovered.
func (s *SQLiteStore) RecoverInterrupted(ctx context.Context, cutoff time.Time, active func(prototypeID string) bool) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, prototype_id FROM build_records WHERE status = ? AND started_at <= ?`,
		string(prototype.BuildStarted), millis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("query started records: %w", err)
	}
	type pending struct{ id, prototypeID string }
	var stuck []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.prototypeID); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan started record: %w", err)
		}
		if active != nil && active(p.prototypeID) {
			continue
		}
		stuck = append(stuck, p)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate rows: %w", err)
	}

	recovered := 0
	for _, p := range stuck {
		err := s.CompleteBuildRecord(ctx, p.id, prototype.Completion{
			Error:     interruptedMessage,
			ErrorKind: prototype.KindInterrupted,
		})
		if errors.Is(err, ErrRecordCompleted) {
			continue
		}
		if err != nil {
			return recovered, err
		}
		recovered++

		err = s.SetPrototypeStatus(ctx, p.prototypeID, prototype.StatusFailed, interruptedMessage)
		var te *prototype.TransitionError
		if err != nil && !errors.As(err, &te) && !errors.Is(err, prototype.ErrNotFound) {
			return recovered, err
		}
	}
	return recovered, nil
}
