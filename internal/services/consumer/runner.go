package consumer

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	kafkax "github.com/casetrail/casealert/internal/repository/kafka"
)

// Runner is the realtime trigger path: it consumes log-created events from
// Kafka and feeds them into the shared usecase.
type Runner struct {
	log  *zap.Logger
	cons *kafkax.Consumer
	uc   *Usecase

	mConsumed prometheus.Counter
	mOutcome  *prometheus.CounterVec
	mErrors   prometheus.Counter
}

func NewRunner(log *zap.Logger, cons *kafkax.Consumer, uc *Usecase) *Runner {
	return &Runner{
		log:  log.With(zap.String("component", "consumer.realtime")),
		cons: cons,
		uc:   uc,
		mConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consumer_events_consumed_total", Help: "Log-created events consumed from Kafka.",
		}),
		mOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consumer_entries_processed_total", Help: "Entries processed by outcome.",
		}, []string{"outcome", "trigger"}),
		mErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consumer_errors_total", Help: "Errors in the realtime consumer path.",
		}),
	}
}

func (r *Runner) Run(ctx context.Context) error {
	handler := kafkax.LogCreatedHandler(func(ctx context.Context, ev kafkax.LogCreated) error {
		r.mConsumed.Inc()
		if ev.LogID <= 0 || ev.CaseID <= 0 {
			r.log.Warn("invalid log-created event",
				zap.Int64("log_id", ev.LogID), zap.Int64("case_id", ev.CaseID))
			return nil
		}

		res, err := r.uc.Process(ctx, ev.Entry())
		if err != nil {
			r.mErrors.Inc()
			// Commit anyway: the row stays claimed/pending in the log
			// table and the poller is the retry surface, not Kafka.
			r.log.Warn("process log entry", zap.Int64("log_id", ev.LogID), zap.Error(err))
			return nil
		}
		r.mOutcome.WithLabelValues(string(res.Outcome), "realtime").Inc()
		return nil
	})

	if err := r.cons.Consume(ctx, handler); err != nil && !errors.Is(err, context.Canceled) {
		r.mErrors.Inc()
		r.log.Warn("kafka consume", zap.Error(err))
		return err
	}
	return ctx.Err()
}
