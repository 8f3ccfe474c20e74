package notifylog

import (
	"context"
	"time"
)

type Repo interface {
	// InsertBatch inserts entries, skipping any whose (case_id, day) key
	// already has a live row. Inserted entries get their ID and timestamps
	// set; skipped ones keep ID zero. Returns the number inserted.
	InsertBatch(ctx context.Context, entries []*Entry) (int, error)

	// Claim flips a single PENDING row to PROCESSING. Rows stuck in
	// PROCESSING longer than staleAfter may be reclaimed. Returns false
	// when another consumer holds or already retired the row.
	Claim(ctx context.Context, id int64, staleAfter time.Duration) (bool, error)

	// PickBatch claims up to limit rows in one shot, for the polling path.
	PickBatch(ctx context.Context, limit int, staleAfter time.Duration) ([]*Entry, error)

	// Retire deletes a handled row. Deleting an absent row is not an error.
	Retire(ctx context.Context, id int64) error
}

// Events publishes freshly inserted log entries so the realtime consumer path
// fires without waiting for a poll.
type Events interface {
	PublishCreated(ctx context.Context, e *Entry) error
}
