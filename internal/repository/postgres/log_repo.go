package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/casetrail/casealert/internal/domain/notifylog"
)

var _ notifylog.Repo = (*LogRepo)(nil)

// LogRepo treats notification_log as a work queue. The claim statement is the
// conditional PENDING -> PROCESSING transition that closes the race between
// the three trigger paths; retiring deletes the row.
type LogRepo struct {
	db *DB
}

func NewLogRepo(db *DB) *LogRepo { return &LogRepo{db: db} }

const (
	qLogInsert = `
INSERT INTO notification_log (case_id, notification_day, payload, status)
VALUES ($1, $2, $3, 'PENDING')
ON CONFLICT (case_id, notification_day) DO NOTHING
RETURNING id, created_at, updated_at;
`

	qLogClaim = `
UPDATE notification_log
SET status = 'PROCESSING', updated_at = NOW()
WHERE id = $1
  AND (status = 'PENDING'
       OR (status = 'PROCESSING' AND updated_at < NOW() - $2::interval));
`

	qLogPick = `
WITH cand AS (
   SELECT id
   FROM notification_log
   WHERE status = 'PENDING'
      OR (status = 'PROCESSING' AND updated_at < NOW() - $2::interval)
   ORDER BY created_at
   LIMIT $1
   FOR UPDATE SKIP LOCKED
), upd AS (
   UPDATE notification_log l
   SET status = 'PROCESSING', updated_at = NOW()
   FROM cand
   WHERE l.id = cand.id
   RETURNING l.id, l.case_id, l.notification_day, l.payload, l.status, l.created_at, l.updated_at
)
SELECT id, case_id, notification_day, payload, status, created_at, updated_at
FROM upd
ORDER BY id;
`

	qLogRetire = `DELETE FROM notification_log WHERE id = $1;`
)

func (r *LogRepo) InsertBatch(ctx context.Context, entries []*notifylog.Entry) (int, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	eq := r.db.execQueryer(ctx)
	inserted := 0
	for _, e := range entries {
		payload, err := marshalPayload(e.Payload)
		if err != nil {
			return inserted, err
		}
		err = eq.QueryRow(ctx, qLogInsert, e.CaseID, e.Day, payload).
			Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// Live row for this (case, day) already exists; coalesce.
			continue
		}
		if err != nil {
			return inserted, fmt.Errorf("insert log entry: %w", err)
		}
		e.Status = notifylog.StatusPending
		inserted++
	}
	return inserted, nil
}

func (r *LogRepo) Claim(ctx context.Context, id int64, staleAfter time.Duration) (bool, error) {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	cmd, err := r.db.Pool.Exec(ctx, qLogClaim, id, intervalArg(staleAfter))
	if err != nil {
		return false, fmt.Errorf("claim log entry: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *LogRepo) PickBatch(ctx context.Context, limit int, staleAfter time.Duration) ([]*notifylog.Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.Pool.Query(ctx, qLogPick, limit, intervalArg(staleAfter))
	if err != nil {
		return nil, fmt.Errorf("pick log batch: %w", err)
	}
	defer rows.Close()

	var out []*notifylog.Entry
	for rows.Next() {
		var (
			e       notifylog.Entry
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Day, &payload, &e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan log entry: %w", err)
		}
		if e.Payload, err = unmarshalPayload(payload); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *LogRepo) Retire(ctx context.Context, id int64) error {
	ctx, cancel := r.db.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.Pool.Exec(ctx, qLogRetire, id); err != nil {
		return fmt.Errorf("retire log entry: %w", err)
	}
	return nil
}

func marshalPayload(p *notifylog.Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

func unmarshalPayload(b []byte) (*notifylog.Payload, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var p notifylog.Payload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	return &p, nil
}

func intervalArg(d time.Duration) string {
	return fmt.Sprintf("%f seconds", d.Seconds())
}
