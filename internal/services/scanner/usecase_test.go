package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casetrail/casealert/internal/domain/casefile"
	"github.com/casetrail/casealert/internal/domain/notifylog"
	"github.com/casetrail/casealert/internal/rules"
)

type fakeCaseRepo struct {
	active  []*casefile.Case
	listErr error
}

func (f *fakeCaseRepo) GetByID(_ context.Context, id int64) (*casefile.Case, error) {
	for _, c := range f.active {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, errors.New("no such case")
}

func (f *fakeCaseRepo) ListActive(_ context.Context) ([]*casefile.Case, error) {
	return f.active, f.listErr
}

func (f *fakeCaseRepo) AssignedUserIDs(_ context.Context, _ int64) ([]int64, error) {
	return nil, nil
}

type logKey struct {
	caseID int64
	day    int
}

type fakeLogRepo struct {
	existing  map[logKey]struct{}
	inserted  []*notifylog.Entry
	insertErr error
	nextID    int64
}

func (f *fakeLogRepo) InsertBatch(_ context.Context, entries []*notifylog.Entry) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	if f.existing == nil {
		f.existing = make(map[logKey]struct{})
	}
	n := 0
	for _, e := range entries {
		key := logKey{caseID: e.CaseID, day: e.Day}
		if _, dup := f.existing[key]; dup {
			continue
		}
		f.existing[key] = struct{}{}
		f.nextID++
		e.ID = f.nextID
		f.inserted = append(f.inserted, e)
		n++
	}
	return n, nil
}

func (f *fakeLogRepo) Claim(_ context.Context, _ int64, _ time.Duration) (bool, error) {
	return false, nil
}

func (f *fakeLogRepo) PickBatch(_ context.Context, _ int, _ time.Duration) ([]*notifylog.Entry, error) {
	return nil, nil
}

func (f *fakeLogRepo) Retire(_ context.Context, _ int64) error { return nil }

type fakeEvents struct {
	published []int64
	err       error
}

func (f *fakeEvents) PublishCreated(_ context.Context, e *notifylog.Entry) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, e.ID)
	return nil
}

type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func testRules(t *testing.T) *rules.Table {
	t.Helper()
	tbl, err := rules.New(map[rules.Track][]rules.Entry{
		rules.TrackUnder7: {
			{Stage: 1, Name: "Investigation", Color: "#4CAF50", Template: "Case {case}: inquiry.", Days: []int{8, 9, 10}},
			{Stage: 7, Name: "Submission to Court", Color: "#795548", Template: "Case {case}: submit.", Days: []int{30}},
		},
		rules.TrackOver7: {
			{Stage: 1, Name: "Investigation", Color: "#4CAF50", Template: "Major Case {case}: inquiry.", Days: []int{18, 19, 20}},
		},
	})
	require.NoError(t, err)
	return tbl
}

func caseAgedDays(id int64, number string, under7 bool, days int, now time.Time) *casefile.Case {
	return &casefile.Case{
		ID:        id,
		Number:    number,
		Status:    casefile.StatusOngoing,
		Under7:    under7,
		CreatedAt: now.Add(-time.Duration(days) * 24 * time.Hour),
	}
}

func TestScanGeneratesEntriesForMatchingDays(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cases := &fakeCaseRepo{active: []*casefile.Case{
		caseAgedDays(1, "CR-1", false, 18, now), // over7 day 18, stage 1
		caseAgedDays(2, "CR-2", true, 9, now),   // under7 day 9, stage 1
		caseAgedDays(3, "CR-3", true, 5, now),   // no window
	}}
	logs := &fakeLogRepo{}
	events := &fakeEvents{}
	uc := NewUC(zap.NewNop(), cases, logs, events, testRules(t), fixedClock{t: now}, passTx{})

	rep, err := uc.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Examined: 3, Generated: 2}, rep)

	require.Len(t, logs.inserted, 2)
	first := logs.inserted[0]
	require.Equal(t, int64(1), first.CaseID)
	require.Equal(t, 18, first.Day)
	require.NotNil(t, first.Payload)
	require.Equal(t, "Stage 1: Investigation (Day 18)", first.Payload.Title)
	require.Equal(t, "Major Case CR-1: inquiry.", first.Payload.Body)

	// Only rows that actually landed get announced.
	require.Equal(t, []int64{1, 2}, events.published)
}

func TestScanSecondRunInsertsNothingNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cases := &fakeCaseRepo{active: []*casefile.Case{
		caseAgedDays(1, "CR-1", false, 18, now),
	}}
	logs := &fakeLogRepo{}
	events := &fakeEvents{}
	uc := NewUC(zap.NewNop(), cases, logs, events, testRules(t), fixedClock{t: now}, passTx{})

	rep, err := uc.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Generated)

	rep, err = uc.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, Report{Examined: 1, Generated: 0}, rep)
	require.Len(t, events.published, 1)
}

func TestScanListErrorAborts(t *testing.T) {
	cases := &fakeCaseRepo{listErr: errors.New("db down")}
	logs := &fakeLogRepo{}
	uc := NewUC(zap.NewNop(), cases, logs, &fakeEvents{}, testRules(t), fixedClock{t: time.Now()}, passTx{})

	_, err := uc.Scan(context.Background())
	require.ErrorContains(t, err, "list active cases")
	require.Empty(t, logs.inserted)
}

func TestScanInsertErrorDiscardsCandidates(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cases := &fakeCaseRepo{active: []*casefile.Case{
		caseAgedDays(1, "CR-1", false, 18, now),
	}}
	logs := &fakeLogRepo{insertErr: errors.New("db down")}
	events := &fakeEvents{}
	uc := NewUC(zap.NewNop(), cases, logs, events, testRules(t), fixedClock{t: now}, passTx{})

	rep, err := uc.Scan(context.Background())
	require.Error(t, err)
	require.Equal(t, Report{Examined: 1, Generated: 0}, rep)
	require.Empty(t, events.published)
}

func TestScanPublishFailureIsNotFatal(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cases := &fakeCaseRepo{active: []*casefile.Case{
		caseAgedDays(1, "CR-1", false, 18, now),
	}}
	logs := &fakeLogRepo{}
	events := &fakeEvents{err: context.Canceled}
	uc := NewUC(zap.NewNop(), cases, logs, events, testRules(t), fixedClock{t: now}, passTx{})

	rep, err := uc.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Generated)
}

func TestElapsedDays(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	require.Equal(t, 1, elapsedDays(now, now.Add(-time.Hour)))
	require.Equal(t, 9, elapsedDays(now, now.Add(-9*24*time.Hour)))
	require.Equal(t, 10, elapsedDays(now, now.Add(-9*24*time.Hour-time.Minute)))
	// Clock skew puts created_at in the future; the absolute value is used.
	require.Equal(t, 1, elapsedDays(now, now.Add(time.Hour)))
}
