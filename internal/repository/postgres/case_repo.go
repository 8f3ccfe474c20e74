package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/casetrail/casealert/internal/domain/casefile"
)

var _ casefile.Repo = (*CaseRepo)(nil)

// CaseRepo reads the externally owned case tables. No write path on purpose.
type CaseRepo struct {
	db *DB
}

func NewCaseRepo(db *DB) *CaseRepo { return &CaseRepo{db: db} }

const (
	qCaseByID = `
SELECT id, case_number, title, status, under_7_years, stage, is_deleted, created_at, updated_at
FROM cases
WHERE id = $1;
`

	qCasesActive = `
SELECT id, case_number, title, status, under_7_years, stage, is_deleted, created_at, updated_at
FROM cases
WHERE status = ANY($1) AND is_deleted = FALSE
ORDER BY id;
`

	qAssignedUsers = `
SELECT user_id
FROM case_users
WHERE case_id = $1
ORDER BY user_id;
`
)

func scanCase(row pgx.Row, c *casefile.Case) error {
	if err := row.Scan(
		&c.ID,
		&c.Number,
		&c.Title,
		&c.Status,
		&c.Under7,
		&c.Stage,
		&c.Deleted,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("scan case: %w", err)
	}
	return nil
}

func (r *CaseRepo) GetByID(ctx context.Context, id int64) (*casefile.Case, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	var c casefile.Case
	if err := scanCase(r.db.Pool.QueryRow(ctx, qCaseByID, id), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CaseRepo) ListActive(ctx context.Context) ([]*casefile.Case, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	statuses := make([]string, 0, len(casefile.OpenStatuses))
	for _, s := range casefile.OpenStatuses {
		statuses = append(statuses, string(s))
	}

	rows, err := r.db.Pool.Query(ctx, qCasesActive, statuses)
	if err != nil {
		return nil, fmt.Errorf("query active cases: %w", err)
	}
	defer rows.Close()

	var out []*casefile.Case
	for rows.Next() {
		var c casefile.Case
		if err := scanCase(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (r *CaseRepo) AssignedUserIDs(ctx context.Context, caseID int64) ([]int64, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qAssignedUsers, caseID)
	if err != nil {
		return nil, fmt.Errorf("query case users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan case user: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return ids, nil
}
