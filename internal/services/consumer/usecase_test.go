package consumer

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
	"github.com/casetrail/casealert/internal/repository/postgres"
	"github.com/casetrail/casealert/internal/rules"
	"github.com/casetrail/casealert/internal/services/delivery"
)

type fakeLogRepo struct {
	claimed   map[int64]bool
	retired   []int64
	claimErr  error
	retireErr error
	picked    []*notifylog.Entry
}

func (f *fakeLogRepo) InsertBatch(_ context.Context, _ []*notifylog.Entry) (int, error) {
	return 0, nil
}

func (f *fakeLogRepo) Claim(_ context.Context, id int64, _ time.Duration) (bool, error) {
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.claimed == nil {
		f.claimed = make(map[int64]bool)
	}
	if f.claimed[id] {
		return false, nil
	}
	f.claimed[id] = true
	return true, nil
}

func (f *fakeLogRepo) PickBatch(_ context.Context, _ int, _ time.Duration) ([]*notifylog.Entry, error) {
	return f.picked, nil
}

func (f *fakeLogRepo) Retire(_ context.Context, id int64) error {
	if f.retireErr != nil {
		return f.retireErr
	}
	f.retired = append(f.retired, id)
	return nil
}

type fakeCaseRepo struct {
	byID      map[int64]*casefile.Case
	assignees map[int64][]int64
	getErr    error
}

func (f *fakeCaseRepo) GetByID(_ context.Context, id int64) (*casefile.Case, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if c, ok := f.byID[id]; ok {
		return c, nil
	}
	return nil, postgres.ErrNotFound
}

func (f *fakeCaseRepo) ListActive(_ context.Context) ([]*casefile.Case, error) { return nil, nil }

func (f *fakeCaseRepo) AssignedUserIDs(_ context.Context, caseID int64) ([]int64, error) {
	return f.assignees[caseID], nil
}

type fakeUserRepo struct {
	users map[int64]*user.User
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*user.User, error) {
	return f.users[id], nil
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

func (f *fakeUserRepo) SetPushToken(_ context.Context, _ int64, _ string) error { return nil }

type fakePendingRepo struct {
	rows []*pending.Notification
}

func (f *fakePendingRepo) Enqueue(_ context.Context, n *pending.Notification) error {
	f.rows = append(f.rows, n)
	return nil
}

func (f *fakePendingRepo) ListByUser(_ context.Context, _ int64) ([]*pending.Notification, error) {
	return nil, nil
}

func (f *fakePendingRepo) DeleteByUser(_ context.Context, _ int64) error { return nil }

func (f *fakePendingRepo) PruneBefore(_ context.Context, _ int64, _ time.Time) error { return nil }

type sentPush struct {
	token string
	data  map[string]string
}

type fakeSender struct {
	sent []sentPush
}

func (f *fakeSender) Send(_ context.Context, token string, data map[string]string) error {
	f.sent = append(f.sent, sentPush{token: token, data: data})
	return nil
}

func strPtr(s string) *string { return &s }

func testRules(t *testing.T) *rules.Table {
	t.Helper()
	tbl, err := rules.New(map[rules.Track][]rules.Entry{
		rules.TrackOver7: {
			{Stage: 3, Name: "PI Supervision", Color: "#2196F3", Template: "Major Case {case}: review due.", Days: []int{33, 34, 35}},
		},
	})
	require.NoError(t, err)
	return tbl
}

type fixture struct {
	uc     *Usecase
	logs   *fakeLogRepo
	sender *fakeSender
}

func newFixture(t *testing.T, cases *fakeCaseRepo, users *fakeUserRepo) *fixture {
	t.Helper()
	logs := &fakeLogRepo{}
	sender := &fakeSender{}
	fan := delivery.NewFanout(zap.NewNop(), cases, users, &fakePendingRepo{}, sender, notifylog.SystemClock{}, 0)
	uc := NewUC(zap.NewNop(), logs, cases, testRules(t), fan, 5*time.Minute)
	return &fixture{uc: uc, logs: logs, sender: sender}
}

func TestProcessDeliversAndRetires(t *testing.T) {
	c := &casefile.Case{ID: 1, Number: "CR-1", Stage: 3}
	fx := newFixture(t,
		&fakeCaseRepo{byID: map[int64]*casefile.Case{1: c}, assignees: map[int64][]int64{1: {10}}},
		&fakeUserRepo{users: map[int64]*user.User{10: {ID: 10, PushToken: strPtr("tok")}}},
	)

	res, err := fx.uc.Process(context.Background(), &notifylog.Entry{ID: 7, CaseID: 1, Day: 34})
	require.NoError(t, err)
	require.Equal(t, OutcomeDelivered, res.Outcome)
	require.Equal(t, 1, res.Report.Sent)
	require.Equal(t, []int64{7}, fx.logs.retired)

	require.Len(t, fx.sender.sent, 1)
	require.Equal(t, "Stage 3: PI Supervision (Day 34)", fx.sender.sent[0].data["title"])
}

func TestProcessSecondClaimIsSkipped(t *testing.T) {
	c := &casefile.Case{ID: 1, Number: "CR-1", Stage: 3}
	fx := newFixture(t,
		&fakeCaseRepo{byID: map[int64]*casefile.Case{1: c}, assignees: map[int64][]int64{1: {10}}},
		&fakeUserRepo{users: map[int64]*user.User{10: {ID: 10, PushToken: strPtr("tok")}}},
	)
	e := &notifylog.Entry{ID: 7, CaseID: 1, Day: 34}

	res, err := fx.uc.Process(context.Background(), e)
	require.NoError(t, err)
	require.Equal(t, OutcomeDelivered, res.Outcome)

	// A concurrent trigger path loses the claim race and does nothing.
	res, err = fx.uc.Process(context.Background(), e)
	require.NoError(t, err)
	require.Equal(t, OutcomeSkipped, res.Outcome)
	require.Len(t, fx.sender.sent, 1)
	require.Equal(t, []int64{7}, fx.logs.retired)
}

func TestProcessMissingCaseIsDropped(t *testing.T) {
	fx := newFixture(t, &fakeCaseRepo{}, &fakeUserRepo{})

	res, err := fx.uc.Process(context.Background(), &notifylog.Entry{ID: 7, CaseID: 99, Day: 34})
	require.NoError(t, err)
	require.Equal(t, OutcomeDropped, res.Outcome)
	require.Equal(t, []int64{7}, fx.logs.retired)
	require.Empty(t, fx.sender.sent)
}

func TestProcessTransientErrorKeepsClaim(t *testing.T) {
	fx := newFixture(t, &fakeCaseRepo{getErr: errors.New("db down")}, &fakeUserRepo{})

	_, err := fx.uc.Process(context.Background(), &notifylog.Entry{ID: 7, CaseID: 1, Day: 34})
	require.Error(t, err)
	require.Empty(t, fx.logs.retired)
}

func TestProcessUsesEmbeddedPayload(t *testing.T) {
	c := &casefile.Case{ID: 1, Number: "CR-1", Stage: 3}
	fx := newFixture(t,
		&fakeCaseRepo{byID: map[int64]*casefile.Case{1: c}, assignees: map[int64][]int64{1: {10}}},
		&fakeUserRepo{users: map[int64]*user.User{10: {ID: 10, PushToken: strPtr("tok")}}},
	)

	res, err := fx.uc.Process(context.Background(), &notifylog.Entry{
		ID: 7, CaseID: 1, Day: 34,
		Payload: &notifylog.Payload{Title: "Embedded", Body: "from insert time"},
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeDelivered, res.Outcome)
	require.Equal(t, "Embedded", fx.sender.sent[0].data["title"])
}

func TestProcessFallsBackToGenericPayload(t *testing.T) {
	// Stage 9 matches no rule; delivery proceeds with the generic message.
	c := &casefile.Case{ID: 1, Number: "CR-1", Stage: 9}
	fx := newFixture(t,
		&fakeCaseRepo{byID: map[int64]*casefile.Case{1: c}, assignees: map[int64][]int64{1: {10}}},
		&fakeUserRepo{users: map[int64]*user.User{10: {ID: 10, PushToken: strPtr("tok")}}},
	)

	res, err := fx.uc.Process(context.Background(), &notifylog.Entry{ID: 7, CaseID: 1, Day: 99})
	require.NoError(t, err)
	require.Equal(t, OutcomeDelivered, res.Outcome)
	require.Equal(t, "Case Update: CR-1", fx.sender.sent[0].data["title"])
	require.Equal(t, "CASE_UPDATE", fx.sender.sent[0].data["type"])
}

func TestProcessNobodyAssignedIsEmpty(t *testing.T) {
	c := &casefile.Case{ID: 1, Number: "CR-1", Stage: 3}
	fx := newFixture(t,
		&fakeCaseRepo{byID: map[int64]*casefile.Case{1: c}},
		&fakeUserRepo{},
	)

	res, err := fx.uc.Process(context.Background(), &notifylog.Entry{ID: 7, CaseID: 1, Day: 34})
	require.NoError(t, err)
	require.Equal(t, OutcomeEmpty, res.Outcome)
	require.Equal(t, []int64{7}, fx.logs.retired)
}
