package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casetrail/casealert/internal/domain/casefile"
	"github.com/casetrail/casealert/internal/domain/notifylog"
	"github.com/casetrail/casealert/internal/domain/pending"
	"github.com/casetrail/casealert/internal/domain/user"
)

type fakeCaseRepo struct {
	byID      map[int64]*casefile.Case
	assignees map[int64][]int64
	listErr   error
}

func (f *fakeCaseRepo) GetByID(_ context.Context, id int64) (*casefile.Case, error) {
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, errors.New("no such case")
}

func (f *fakeCaseRepo) ListActive(_ context.Context) ([]*casefile.Case, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*casefile.Case
	for _, c := range f.byID {
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeCaseRepo) AssignedUserIDs(_ context.Context, caseID int64) ([]int64, error) {
	return f.assignees[caseID], nil
}

type fakeUserRepo struct {
	users map[int64]*user.User
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*user.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("no such user")
}

func (f *fakeUserRepo) ListByIDs(_ context.Context, ids []int64) ([]*user.User, error) {
	var out []*user.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeUserRepo) SetPushToken(_ context.Context, id int64, token string) error {
	u, ok := f.users[id]
	if !ok {
		return errors.New("no such user")
	}
	u.PushToken = &token
	return nil
}

type fakePendingRepo struct {
	rows      []*pending.Notification
	pruned    []time.Time
	deleteErr error
}

func (f *fakePendingRepo) Enqueue(_ context.Context, n *pending.Notification) error {
	n.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, n)
	return nil
}

func (f *fakePendingRepo) ListByUser(_ context.Context, userID int64) ([]*pending.Notification, error) {
	var out []*pending.Notification
	for _, n := range f.rows {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakePendingRepo) DeleteByUser(_ context.Context, userID int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	kept := f.rows[:0]
	for _, n := range f.rows {
		if n.UserID != userID {
			kept = append(kept, n)
		}
	}
	f.rows = kept
	return nil
}

func (f *fakePendingRepo) PruneBefore(_ context.Context, _ int64, cutoff time.Time) error {
	f.pruned = append(f.pruned, cutoff)
	return nil
}

type sentPush struct {
	token string
	data  map[string]string
}

type fakeSender struct {
	sent    []sentPush
	failFor map[string]error
}

func (f *fakeSender) Send(_ context.Context, token string, data map[string]string) error {
	if err, ok := f.failFor[token]; ok {
		return err
	}
	f.sent = append(f.sent, sentPush{token: token, data: data})
	return nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func strPtr(s string) *string { return &s }

func newTestFanout(cases *fakeCaseRepo, users *fakeUserRepo, pq *fakePendingRepo, s *fakeSender, retention time.Duration) *Fanout {
	return NewFanout(zap.NewNop(), cases, users, pq, s, fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}, retention)
}

func TestBuildDataStringifiesAndDefaults(t *testing.T) {
	data := BuildData(42, 9, notifylog.Payload{Title: "T", Body: "B"})

	require.Equal(t, "42", data["case_id"])
	require.Equal(t, "9", data["notification_day"])
	require.Equal(t, "#2196F3", data["stage_color"])
	require.Equal(t, "default", data["sound"])
	require.Equal(t, "CASE_UPDATE", data["type"])
	require.Equal(t, "FLUTTER_NOTIFICATION_CLICK", data["click_action"])
}

func TestDeliverNoAssigneesIsSuccess(t *testing.T) {
	c := &casefile.Case{ID: 1, Number: "CR-1"}
	cases := &fakeCaseRepo{byID: map[int64]*casefile.Case{1: c}}
	sender := &fakeSender{}
	fan := newTestFanout(cases, &fakeUserRepo{}, &fakePendingRepo{}, sender, 0)

	rep, err := fan.Deliver(context.Background(), c, 9, notifylog.Payload{Title: "T"})
	require.NoError(t, err)
	require.Zero(t, rep.Attempted())
	require.Empty(t, sender.sent)
}

func TestDeliverParksTokenlessUsers(t *testing.T) {
	c := &casefile.Case{ID: 1, Number: "CR-1"}
	cases := &fakeCaseRepo{
		byID:      map[int64]*casefile.Case{1: c},
		assignees: map[int64][]int64{1: {10, 11}},
	}
	users := &fakeUserRepo{users: map[int64]*user.User{
		10: {ID: 10, PushToken: strPtr("tok-10")},
		11: {ID: 11},
	}}
	pq := &fakePendingRepo{}
	sender := &fakeSender{}
	fan := newTestFanout(cases, users, pq, sender, 0)

	rep, err := fan.Deliver(context.Background(), c, 9, notifylog.Payload{Title: "T", Body: "B"})
	require.NoError(t, err)
	require.Equal(t, Report{Sent: 1, Queued: 1}, rep)

	require.Len(t, sender.sent, 1)
	require.Equal(t, "tok-10", sender.sent[0].token)

	require.Len(t, pq.rows, 1)
	require.Equal(t, int64(11), pq.rows[0].UserID)
	require.Equal(t, "T", pq.rows[0].Title)
	require.Equal(t, "1", pq.rows[0].Data["case_id"])
}

func TestDeliverIsolatesPerRecipientFailures(t *testing.T) {
	c := &casefile.Case{ID: 1, Number: "CR-1"}
	cases := &fakeCaseRepo{
		byID:      map[int64]*casefile.Case{1: c},
		assignees: map[int64][]int64{1: {10, 11, 12}},
	}
	users := &fakeUserRepo{users: map[int64]*user.User{
		10: {ID: 10, PushToken: strPtr("bad")},
		11: {ID: 11, PushToken: strPtr("good-11")},
		12: {ID: 12, PushToken: strPtr("good-12")},
	}}
	sender := &fakeSender{failFor: map[string]error{"bad": errors.New("unregistered")}}
	fan := newTestFanout(cases, users, &fakePendingRepo{}, sender, 0)

	rep, err := fan.Deliver(context.Background(), c, 9, notifylog.Payload{Title: "T"})
	require.NoError(t, err)
	require.Equal(t, Report{Sent: 2, Failed: 1}, rep)
}

func TestDeliverPrunesBeforeParking(t *testing.T) {
	c := &casefile.Case{ID: 1, Number: "CR-1"}
	cases := &fakeCaseRepo{
		byID:      map[int64]*casefile.Case{1: c},
		assignees: map[int64][]int64{1: {11}},
	}
	users := &fakeUserRepo{users: map[int64]*user.User{11: {ID: 11}}}
	pq := &fakePendingRepo{}
	fan := newTestFanout(cases, users, pq, &fakeSender{}, 30*24*time.Hour)

	_, err := fan.Deliver(context.Background(), c, 9, notifylog.Payload{Title: "T"})
	require.NoError(t, err)

	require.Len(t, pq.pruned, 1)
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(-30 * 24 * time.Hour)
	require.Equal(t, want, pq.pruned[0])
	require.Len(t, pq.rows, 1)
}
