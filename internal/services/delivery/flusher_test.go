package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/casetrail/casealert/internal/domain/pending"
)

func TestFlushEmptyQueueIsNoop(t *testing.T) {
	pq := &fakePendingRepo{}
	sender := &fakeSender{}
	fl := NewFlusher(zap.NewNop(), pq, sender)

	rep, err := fl.Flush(context.Background(), 11, "tok")
	require.NoError(t, err)
	require.Zero(t, rep.Attempted)
	require.Empty(t, sender.sent)
}

func TestFlushSendsAndClearsQueue(t *testing.T) {
	pq := &fakePendingRepo{rows: []*pending.Notification{
		{ID: 1, UserID: 11, Title: "T1", Body: "B1", Data: map[string]string{"case_id": "1"}},
		{ID: 2, UserID: 11, Title: "T2", Body: "B2", Data: map[string]string{"case_id": "2"}},
		{ID: 3, UserID: 99, Title: "other user"},
	}}
	sender := &fakeSender{}
	fl := NewFlusher(zap.NewNop(), pq, sender)

	rep, err := fl.Flush(context.Background(), 11, "tok-11")
	require.NoError(t, err)
	require.Equal(t, FlushReport{Attempted: 2, Sent: 2}, rep)

	require.Len(t, sender.sent, 2)
	require.Equal(t, "tok-11", sender.sent[0].token)
	require.Equal(t, "T1", sender.sent[0].data["title"])
	require.Equal(t, "1", sender.sent[0].data["case_id"])

	// User 11's rows are gone, other users' rows survive.
	require.Len(t, pq.rows, 1)
	require.Equal(t, int64(99), pq.rows[0].UserID)
}

func TestFlushClearsQueueEvenWhenSendsFail(t *testing.T) {
	pq := &fakePendingRepo{rows: []*pending.Notification{
		{ID: 1, UserID: 11, Title: "T1"},
		{ID: 2, UserID: 11, Title: "T2"},
	}}
	sender := &fakeSender{failFor: map[string]error{"tok-11": errors.New("stale token")}}
	fl := NewFlusher(zap.NewNop(), pq, sender)

	rep, err := fl.Flush(context.Background(), 11, "tok-11")
	require.NoError(t, err)
	require.Equal(t, FlushReport{Attempted: 2, Failed: 2}, rep)
	require.Empty(t, pq.rows)
}

func TestFlushReportsClearFailure(t *testing.T) {
	pq := &fakePendingRepo{
		rows:      []*pending.Notification{{ID: 1, UserID: 11, Title: "T1"}},
		deleteErr: errors.New("db down"),
	}
	fl := NewFlusher(zap.NewNop(), pq, &fakeSender{})

	_, err := fl.Flush(context.Background(), 11, "tok")
	require.ErrorContains(t, err, "clear pending queue")
}
