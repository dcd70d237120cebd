package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"git.home.luguber.info/inful/protohost/internal/prototype"
)

const prototypeColumns = `id, name, slug, description, repo_url, owner, repo_name, created_by,
	created_at, updated_at, last_deployed_at, active, status, error_message, webhook_id, readme_html`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrototype(row rowScanner) (*prototype.Prototype, error) {
	var (
		p                    prototype.Prototype
		createdAt, updatedAt int64
		deployedAt           sql.NullInt64
		active               int
		status               string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &p.RepoURL, &p.Owner, &p.RepoName, &p.CreatedBy,
		&createdAt, &updatedAt, &deployedAt, &active, &status, &p.ErrorMessage, &p.WebhookID, &p.ReadmeHTML)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(createdAt)
	p.UpdatedAt = fromMillis(updatedAt)
	p.LastDeployedAt = nullTime(deployedAt)
	p.Active = active != 0
	p.Status = prototype.Status(status)
	return &p, nil
}

// CreatePrototype inserts p. Status defaults to pending.
func (s *SQLiteStore) CreatePrototype(ctx context.Context, p *prototype.Prototype) error {
	if p.Status == "" {
		p.Status = prototype.StatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO prototypes (`+prototypeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Slug, p.Description, p.RepoURL, p.Owner, p.RepoName, p.CreatedBy,
		millis(p.CreatedAt), millis(p.UpdatedAt), boolInt(p.Active), string(p.Status), p.ErrorMessage, p.WebhookID, p.ReadmeHTML)
	if err != nil {
		return fmt.Errorf("insert prototype: %w", err)
	}
	return nil
}

// GetPrototype returns the prototype regardless of its active flag.
func (s *SQLiteStore) GetPrototype(ctx context.Context, id string) (*prototype.Prototype, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+prototypeColumns+` FROM prototypes WHERE id = ?`, id)
	p, err := scanPrototype(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, prototype.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query prototype: %w", err)
	}
	return p, nil
}

// ListPrototypes returns active prototypes, most recently updated first.
func (s *SQLiteStore) ListPrototypes(ctx context.Context, createdBy string) ([]*prototype.Prototype, error) {
	query := `SELECT ` + prototypeColumns + ` FROM prototypes WHERE active = 1`
	var args []any
	if createdBy != "" {
		query += ` AND created_by = ?`
		args = append(args, createdBy)
	}
	query += ` ORDER BY updated_at DESC, id`
	return s.queryPrototypes(ctx, query, args...)
}

// FindActiveByRepo returns active prototypes tracking owner/repo (case-insensitive).
func (s *SQLiteStore) FindActiveByRepo(ctx context.Context, owner, repo string) ([]*prototype.Prototype, error) {
	return s.queryPrototypes(ctx, `SELECT `+prototypeColumns+` FROM prototypes
		WHERE active = 1 AND lower(owner) = lower(?) AND lower(repo_name) = lower(?) ORDER BY created_at`, owner, repo)
}

func (s *SQLiteStore) queryPrototypes(ctx context.Context, query string, args ...any) ([]*prototype.Prototype, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prototypes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*prototype.Prototype
	for rows.Next() {
		p, err := scanPrototype(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prototype: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// UpdatePrototype writes descriptive fields. Status is only changed through SetPrototypeStatus.
func (s *SQLiteStore) UpdatePrototype(ctx context.Context, p *prototype.Prototype) error {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = s.now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `UPDATE prototypes SET name = ?, slug = ?, description = ?, repo_url = ?,
		owner = ?, repo_name = ?, webhook_id = ?, updated_at = ? WHERE id = ?`,
		p.Name, p.Slug, p.Description, p.RepoURL, p.Owner, p.RepoName, p.WebhookID, millis(updated), p.ID)
	if err != nil {
		return fmt.Errorf("update prototype: %w", err)
	}
	return expectOne(res)
}

// DeactivatePrototype soft-deletes a prototype.
func (s *SQLiteStore) DeactivatePrototype(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE prototypes SET active = 0, updated_at = ? WHERE id = ?`, millis(s.now()), id)
	if err != nil {
		return fmt.Errorf("deactivate prototype: %w", err)
	}
	return expectOne(res)
}

// SetReadme stores rendered README HTML.
func (s *SQLiteStore) SetReadme(ctx context.Context, id, html string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE prototypes SET readme_html = ? WHERE id = ?`, html, id)
	if err != nil {
		return fmt.Errorf("update readme: %w", err)
	}
	return expectOne(res)
}

// SetPrototypeStatus moves a prototype to status, rejecting illegal
// transitions with *prototype.TransitionError. Success stamps last_deployed_at.
func (s *SQLiteStore) SetPrototypeStatus(ctx context.Context, id string, status prototype.Status, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM prototypes WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return prototype.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query status: %w", err)
	}
	if err := prototype.CheckTransition(id, prototype.Status(current), status); err != nil {
		return err
	}

	now := millis(s.now())
	if status == prototype.StatusSuccess {
		_, err = tx.ExecContext(ctx, `UPDATE prototypes SET status = ?, error_message = ?, last_deployed_at = ?, updated_at = ? WHERE id = ?`,
			string(status), message, now, now, id)
	} else {
		_, err = tx.ExecContext(ctx, `UPDATE prototypes SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
			string(status), message, now, id)
	}
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return tx.Commit()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return prototype.ErrNotFound
	}
	return nil
}
