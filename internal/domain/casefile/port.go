package casefile

import "context"

type Repo interface {
	GetByID(ctx context.Context, id int64) (*Case, error)
	// ListActive returns non-deleted cases whose status is in OpenStatuses.
	ListActive(ctx context.Context) ([]*Case, error)
	// AssignedUserIDs returns the fan-out set for a case, ascending.
	AssignedUserIDs(ctx context.Context, caseID int64) ([]int64, error)
}
