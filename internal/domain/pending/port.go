package pending

import (
	"context"
	"time"
)

type Repo interface {
	Enqueue(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID int64) ([]*Notification, error)
	DeleteByUser(ctx context.Context, userID int64) error
	// PruneBefore drops a user's rows older than cutoff. Retention policy
	// lives with the caller.
	PruneBefore(ctx context.Context, userID int64, cutoff time.Time) error
}
