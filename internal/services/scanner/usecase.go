// Package scanner walks the active cases on a schedule and turns rule-table
// day matches into pending notification_log rows.
package scanner

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/casetrail/casealert/internal/domain/casefile"
	"github.com/casetrail/casealert/internal/domain/notifylog"
	"github.com/casetrail/casealert/internal/obs"
	"github.com/casetrail/casealert/internal/obs/retry"
	"github.com/casetrail/casealert/internal/repository/postgres"
	"github.com/casetrail/casealert/internal/rules"
)

// Report carries scan observability counts. Examined is filled even when the
// scan aborts so callers can report how far it got.
type Report struct {
	Examined  int `json:"examined"`
	Generated int `json:"generated"`
}

type Usecase struct {
	log    *zap.Logger
	cases  casefile.Repo
	logs   notifylog.Repo
	events notifylog.Events
	table  *rules.Table
	clock  notifylog.Clock
	tx     postgres.Transactor
	pubPol retry.Policy
}

func NewUC(
	log *zap.Logger,
	cases casefile.Repo,
	logs notifylog.Repo,
	events notifylog.Events,
	table *rules.Table,
	clock notifylog.Clock,
	tx postgres.Transactor,
) *Usecase {
	return &Usecase{
		log:    log.With(zap.String("component", "scanner.uc")),
		cases:  cases,
		logs:   logs,
		events: events,
		table:  table,
		clock:  clock,
		tx:     tx,
		pubPol: retry.DefaultPublishPolicy(log),
	}
}

// elapsedDays is ceil(|now-created| / 24h). Day 1 starts the moment a case is
// created; repeated scans within the same day compute the same value, which
// is what makes the (case, day) dedup key idempotent across scans.
func elapsedDays(now, created time.Time) int {
	d := now.Sub(created)
	if d < 0 {
		d = -d
	}
	return int(math.Ceil(d.Hours() / 24))
}

type dedupKey struct {
	caseID int64
	day    int
}

// Scan examines every open case once. Candidates are deduplicated by
// (case, day) inside the batch and inserted all-or-nothing; rows already live
// in the log (from an earlier scan or a live event the same day) coalesce via
// the unique key instead of duplicating.
func (u *Usecase) Scan(ctx context.Context) (Report, error) {
	tr := otel.Tracer("scanner.uc")
	ctx, span := tr.Start(ctx, "scanner.scan")
	defer span.End()

	log := obs.WithTrace(ctx, u.log)
	var rep Report

	cases, err := u.cases.ListActive(ctx)
	if err != nil {
		span.RecordError(err)
		return rep, fmt.Errorf("list active cases: %w", err)
	}
	rep.Examined = len(cases)
	span.SetAttributes(attribute.Int("scan.examined", rep.Examined))

	now := u.clock.Now()
	seen := make(map[dedupKey]struct{})
	var batch []*notifylog.Entry

	for _, c := range cases {
		day := elapsedDays(now, c.CreatedAt)
		entry, ok := u.table.ResolveDay(rules.TrackFor(c.Under7), day)
		if !ok {
			continue
		}
		key := dedupKey{caseID: c.ID, day: day}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		payload := entry.Payload(c.Number, day)
		batch = append(batch, &notifylog.Entry{
			CaseID:  c.ID,
			Day:     day,
			Payload: &payload,
		})
	}

	if len(batch) == 0 {
		log.Debug("scan found nothing due", zap.Int("examined", rep.Examined))
		return rep, nil
	}

	if err := u.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := u.logs.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		rep.Generated = n
		return nil
	}); err != nil {
		rep.Generated = 0
		span.RecordError(err)
		return rep, fmt.Errorf("insert log entries: %w", err)
	}

	u.publish(ctx, batch)

	span.SetAttributes(attribute.Int("scan.generated", rep.Generated))
	log.Info("scan complete", zap.Int("examined", rep.Examined), zap.Int("generated", rep.Generated))
	return rep, nil
}

// publish announces rows that actually landed (conflict-skipped entries keep
// ID zero). Failures are not fatal; the poller will drain anything the
// realtime path never hears about.
func (u *Usecase) publish(ctx context.Context, batch []*notifylog.Entry) {
	if u.events == nil {
		return
	}
	for _, e := range batch {
		if e.ID == 0 {
			continue
		}
		e := e
		err := retry.Do(ctx, func() error {
			return u.events.PublishCreated(ctx, e)
		}, u.pubPol)
		if err != nil {
			u.log.Warn("publish log-created event", zap.Int64("log_id", e.ID), zap.Error(err))
		}
	}
}
