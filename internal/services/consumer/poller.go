package consumer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/casetrail/casealert/internal/domain/notifylog"
)

type PollerConfig struct {
	Interval   time.Duration `mapstructure:"poll_interval"`
	BatchLimit int           `mapstructure:"batch_limit"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// Poller is the catch-all trigger path: anything the webhook or the realtime
// subscription missed (or left stuck in PROCESSING past the TTL) gets picked
// up here.
type Poller struct {
	log  *zap.Logger
	logs notifylog.Repo
	uc   *Usecase
	cfg  PollerConfig

	mPicked  prometheus.Counter
	mErrors  prometheus.Counter
	mTickDur prometheus.Histogram
}

func NewPoller(log *zap.Logger, logs notifylog.Repo, uc *Usecase, cfg PollerConfig) *Poller {
	return &Poller{
		log:  log.With(zap.String("component", "consumer.poller")),
		logs: logs,
		uc:   uc,
		cfg:  cfg,
		mPicked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "poller_entries_picked_total", Help: "Entries claimed by the polling path.",
		}),
		mErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "poller_errors_total", Help: "Errors in the polling loop.",
		}),
		mTickDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name: "poller_tick_duration_seconds", Help: "Poll tick duration.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.log.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	start := time.Now()
	defer func() { p.mTickDur.Observe(time.Since(start).Seconds()) }()

	entries, err := p.logs.PickBatch(ctx, p.cfg.BatchLimit, p.cfg.StaleAfter)
	if err != nil {
		p.mErrors.Inc()
		p.log.Warn("pick batch", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	p.mPicked.Add(float64(len(entries)))
	p.log.Debug("picked pending entries", zap.Int("count", len(entries)))

	for _, e := range entries {
		if _, err := p.uc.ProcessClaimed(ctx, e); err != nil {
			p.mErrors.Inc()
			p.log.Warn("process log entry", zap.Int64("log_id", e.ID), zap.Error(err))
		}
	}
}
