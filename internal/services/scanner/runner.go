package scanner

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	scanExamined = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_cases_examined_total",
		Help: "Open cases examined across all scans.",
	})
	scanGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_entries_generated_total",
		Help: "Notification log rows inserted by scans.",
	})
	scanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_errors_total",
		Help: "Scans that aborted with an error.",
	})
	scanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scanner_scan_duration_seconds",
		Help:    "Wall time of a full scan.",
		Buckets: prometheus.DefBuckets,
	})
)

type RunnerConfig struct {
	// Cron is a standard 5-field spec. Defaults to daily at 09:00.
	Cron string `mapstructure:"cron"`
	// OnStart forces one scan immediately at startup, before the first tick.
	OnStart bool `mapstructure:"on_start"`
}

func (c *RunnerConfig) Normalize() {
	if c.Cron == "" {
		c.Cron = "0 9 * * *"
	}
}

// Runner drives Usecase.Scan on a cron schedule.
type Runner struct {
	uc   *Usecase
	log  *zap.Logger
	cfg  RunnerConfig
	cron *cron.Cron
}

func NewRunner(uc *Usecase, log *zap.Logger, cfg RunnerConfig) *Runner {
	cfg.Normalize()
	return &Runner{
		uc:  uc,
		log: log.With(zap.String("component", "scanner.runner")),
		cfg: cfg,
	}
}

// Run blocks until ctx is cancelled, then waits for any in-flight scan.
func (r *Runner) Run(ctx context.Context) error {
	r.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	if _, err := r.cron.AddFunc(r.cfg.Cron, func() { r.scan(ctx) }); err != nil {
		return err
	}

	if r.cfg.OnStart {
		r.scan(ctx)
	}

	r.log.Info("scanner started", zap.String("cron", r.cfg.Cron))
	r.cron.Start()

	<-ctx.Done()
	stopped := r.cron.Stop()
	<-stopped.Done()
	r.log.Info("scanner stopped")
	return nil
}

func (r *Runner) scan(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	rep, err := r.uc.Scan(ctx)
	scanDuration.Observe(time.Since(start).Seconds())
	scanExamined.Add(float64(rep.Examined))
	scanGenerated.Add(float64(rep.Generated))
	if err != nil {
		scanErrors.Inc()
		r.log.Error("scan failed", zap.Error(err))
	}
}
