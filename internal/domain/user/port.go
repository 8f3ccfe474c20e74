package user

import "context"

type Repo interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	// ListByIDs returns every known user among ids, tokenless ones included.
	ListByIDs(ctx context.Context, ids []int64) ([]*User, error)
	SetPushToken(ctx context.Context, id int64, token string) error
}
