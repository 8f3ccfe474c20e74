package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/casetrail/casealert/internal/domain/pending"
)

var _ pending.Repo = (*PendingRepo)(nil)

type PendingRepo struct {
	db *DB
}

func NewPendingRepo(db *DB) *PendingRepo { return &PendingRepo{db: db} }

const (
	qPendingInsert = `
INSERT INTO pending_notifications (user_id, title, body, data)
VALUES ($1, $2, $3, $4)
RETURNING id, created_at;
`

	qPendingByUser = `
SELECT id, user_id, title, body, data, created_at
FROM pending_notifications
WHERE user_id = $1
ORDER BY id;
`

	qPendingDeleteByUser = `DELETE FROM pending_notifications WHERE user_id = $1;`

	qPendingPrune = `DELETE FROM pending_notifications WHERE user_id = $1 AND created_at < $2;`
)

func (r *PendingRepo) Enqueue(ctx context.Context, n *pending.Notification) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal pending data: %w", err)
	}
	if err := r.db.Pool.QueryRow(ctx, qPendingInsert, n.UserID, n.Title, n.Body, data).
		Scan(&n.ID, &n.CreatedAt); err != nil {
		return fmt.Errorf("enqueue pending notification: %w", err)
	}
	return nil
}

func (r *PendingRepo) ListByUser(ctx context.Context, userID int64) ([]*pending.Notification, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qPendingByUser, userID)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}
	defer rows.Close()

	var out []*pending.Notification
	for rows.Next() {
		var (
			n    pending.Notification
			data []byte
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Body, &data, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending notification: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("unmarshal pending data: %w", err)
			}
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

func (r *PendingRepo) DeleteByUser(ctx context.Context, userID int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qPendingDeleteByUser, userID); err != nil {
		return fmt.Errorf("clear pending notifications: %w", err)
	}
	return nil
}

func (r *PendingRepo) PruneBefore(ctx context.Context, userID int64, cutoff time.Time) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qPendingPrune, userID, cutoff); err != nil {
		return fmt.Errorf("prune pending notifications: %w", err)
	}
	return nil
}
