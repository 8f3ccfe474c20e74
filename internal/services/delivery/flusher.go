package delivery

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/casetrail/casealert/internal/domain/pending"
	"github.com/casetrail/casealert/internal/domain/push"
)

var mFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "pending_flush_total", Help: "Pending notifications flushed on token registration.",
}, []string{"result"})

type FlushReport struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Flusher drains a user's pending queue once a token shows up. One sweep per
// registration: every queued row gets a single best-effort send, then the
// whole set is cleared whatever the per-item outcomes were, so intermittently
// online users never accumulate stale re-sends.
type Flusher struct {
	log     *zap.Logger
	pending pending.Repo
	sender  push.Sender
}

func NewFlusher(log *zap.Logger, pendingRepo pending.Repo, sender push.Sender) *Flusher {
	return &Flusher{
		log:     log.With(zap.String("component", "delivery.flusher")),
		pending: pendingRepo,
		sender:  sender,
	}
}

func (f *Flusher) Flush(ctx context.Context, userID int64, token string) (FlushReport, error) {
	var rep FlushReport
	log := f.log.With(zap.Int64("user_id", userID))

	rows, err := f.pending.ListByUser(ctx, userID)
	if err != nil {
		return rep, fmt.Errorf("load pending queue: %w", err)
	}
	if len(rows) == 0 {
		return rep, nil
	}

	for _, n := range rows {
		rep.Attempted++
		data := make(map[string]string, len(n.Data)+2)
		for k, v := range n.Data {
			data[k] = v
		}
		data["title"] = n.Title
		data["body"] = n.Body

		if err := f.sender.Send(ctx, token, data); err != nil {
			log.Warn("flush push failed", zap.Int64("pending_id", n.ID), zap.Error(err))
			rep.Failed++
			mFlushed.WithLabelValues("failed").Inc()
			continue
		}
		rep.Sent++
		mFlushed.WithLabelValues("sent").Inc()
	}

	if err := f.pending.DeleteByUser(ctx, userID); err != nil {
		return rep, fmt.Errorf("clear pending queue: %w", err)
	}
	log.Info("pending queue flushed",
		zap.Int("attempted", rep.Attempted), zap.Int("sent", rep.Sent), zap.Int("failed", rep.Failed))
	return rep, nil
}
