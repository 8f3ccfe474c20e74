// Package consumer drains notification_log entries. Webhook, realtime
// subscription and poller all funnel into the same usecase; the conditional
// claim on the log row is what keeps the three paths from double-sending.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/casetrail/casealert/internal/domain/casefile"
	"github.com/casetrail/casealert/internal/domain/notifylog"
	"github.com/casetrail/casealert/internal/obs"
	"github.com/casetrail/casealert/internal/repository/postgres"
	"github.com/casetrail/casealert/internal/rules"
	"github.com/casetrail/casealert/internal/services/delivery"
)

type Outcome string

const (
	// OutcomeDelivered: payload resolved and fanned out, entry retired.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeSkipped: another trigger path holds the claim.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeDropped: case gone, entry retired without delivery.
	OutcomeDropped Outcome = "dropped"
	// OutcomeEmpty: processed fine but there was nobody to notify.
	OutcomeEmpty Outcome = "empty"
)

type Result struct {
	Outcome Outcome         `json:"outcome"`
	Report  delivery.Report `json:"report"`
}

type Usecase struct {
	log        *zap.Logger
	logs       notifylog.Repo
	cases      casefile.Repo
	table      *rules.Table
	fan        *delivery.Fanout
	staleAfter time.Duration
}

func NewUC(
	log *zap.Logger,
	logs notifylog.Repo,
	cases casefile.Repo,
	table *rules.Table,
	fan *delivery.Fanout,
	staleAfter time.Duration,
) *Usecase {
	return &Usecase{
		log:        log.With(zap.String("component", "consumer.uc")),
		logs:       logs,
		cases:      cases,
		table:      table,
		fan:        fan,
		staleAfter: staleAfter,
	}
}

// Process claims the entry and, on winning the claim, handles it. Safe to
// call concurrently from any number of trigger paths for the same entry.
func (u *Usecase) Process(ctx context.Context, e *notifylog.Entry) (Result, error) {
	claimed, err := u.logs.Claim(ctx, e.ID, u.staleAfter)
	if err != nil {
		return Result{}, fmt.Errorf("claim entry %d: %w", e.ID, err)
	}
	if !claimed {
		obs.WithTrace(ctx, u.log).Debug("entry already claimed elsewhere", zap.Int64("log_id", e.ID))
		return Result{Outcome: OutcomeSkipped}, nil
	}
	return u.ProcessClaimed(ctx, e)
}

// ProcessClaimed handles an entry the caller already holds the claim on (the
// poller claims in batches). A transient datastore error leaves the row in
// PROCESSING so the stale-claim TTL re-queues it; everything else retires the
// row exactly once.
func (u *Usecase) ProcessClaimed(ctx context.Context, e *notifylog.Entry) (Result, error) {
	tr := otel.Tracer("consumer.uc")
	ctx, span := tr.Start(ctx, "consumer.process",
		trace.WithAttributes(
			attribute.Int64("log.id", e.ID),
			attribute.Int64("case.id", e.CaseID),
			attribute.Int("log.day", e.Day),
		),
	)
	defer span.End()

	log := obs.WithTrace(ctx, u.log).With(zap.Int64("log_id", e.ID), zap.Int64("case_id", e.CaseID))

	c, err := u.cases.GetByID(ctx, e.CaseID)
	if errors.Is(err, postgres.ErrNotFound) {
		// Unrecoverable: retrying forever would just wedge the queue.
		log.Warn("case missing, dropping log entry")
		u.retire(ctx, log, e.ID)
		return Result{Outcome: OutcomeDropped}, nil
	}
	if err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("load case %d: %w", e.CaseID, err)
	}

	payload := u.payloadFor(log, c, e)

	rep, err := u.fan.Deliver(ctx, c, e.Day, payload)
	if err != nil {
		// Assignee/user lookup failed before any send; leave the claim
		// for the TTL to release.
		span.RecordError(err)
		return Result{}, fmt.Errorf("fan out entry %d: %w", e.ID, err)
	}

	u.retire(ctx, log, e.ID)

	outcome := OutcomeDelivered
	if rep.Attempted() == 0 {
		outcome = OutcomeEmpty
	}
	span.SetAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.Int("sent", rep.Sent),
		attribute.Int("queued", rep.Queued),
	)
	return Result{Outcome: outcome, Report: rep}, nil
}

// payloadFor prefers the payload embedded at insert time; entries without one
// are resolved against the rule table on the case's current stage value, with
// the generic fallback keeping delivery alive when nothing matches.
func (u *Usecase) payloadFor(log *zap.Logger, c *casefile.Case, e *notifylog.Entry) notifylog.Payload {
	if e.Payload != nil {
		return *e.Payload
	}
	entry, kind, ok := u.table.Resolve(rules.TrackFor(c.Under7), c.Stage)
	if !ok {
		log.Info("no rule matched, using generic payload", zap.Int("stage", c.Stage))
		return rules.Generic(c.Number)
	}
	log.Debug("rule resolved", zap.Int("stage", entry.Stage), zap.String("match", kind.String()))
	return entry.Payload(c.Number, e.Day)
}

// retire is the idempotency boundary; a failed delete is only logged since
// the row would then be re-handled after the stale TTL, which the design
// accepts as an at-most-twice bound.
func (u *Usecase) retire(ctx context.Context, log *zap.Logger, id int64) {
	if err := u.logs.Retire(ctx, id); err != nil {
		log.Error("retire log entry failed", zap.Error(err))
	}
}
