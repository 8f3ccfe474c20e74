// Package delivery fans a resolved payload out to every user assigned to a
// case, parking notifications for users who have no device token.
package delivery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/casetrail/casealert/internal/domain/casefile"
	"github.com/casetrail/casealert/internal/domain/notifylog"
	"github.com/casetrail/casealert/internal/domain/pending"
	"github.com/casetrail/casealert/internal/domain/push"
	"github.com/casetrail/casealert/internal/domain/user"
	"github.com/casetrail/casealert/internal/obs"
)

const clickAction = "FLUTTER_NOTIFICATION_CLICK"

var (
	mSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_pushes_sent_total", Help: "Pushes accepted by the provider.",
	})
	mQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_pushes_queued_total", Help: "Notifications parked for offline users.",
	})
	mFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_pushes_failed_total", Help: "Per-recipient delivery failures.",
	})
)

type Report struct {
	Sent   int `json:"sent"`
	Queued int `json:"queued"`
	Failed int `json:"failed"`
}

func (r Report) Attempted() int { return r.Sent + r.Queued + r.Failed }

type Fanout struct {
	log       *zap.Logger
	cases     casefile.Repo
	users     user.Repo
	pending   pending.Repo
	sender    push.Sender
	clock     notifylog.Clock
	retention time.Duration
}

func NewFanout(
	log *zap.Logger,
	cases casefile.Repo,
	users user.Repo,
	pendingRepo pending.Repo,
	sender push.Sender,
	clock notifylog.Clock,
	retention time.Duration,
) *Fanout {
	return &Fanout{
		log:       log.With(zap.String("component", "delivery.fanout")),
		cases:     cases,
		users:     users,
		pending:   pendingRepo,
		sender:    sender,
		clock:     clock,
		retention: retention,
	}
}

// BuildData flattens a payload into the provider's string-only data channel.
// Every value is coerced to a string; absent optional fields get defaults so
// the device never sees a missing key.
func BuildData(caseID int64, day int, p notifylog.Payload) map[string]string {
	return map[string]string{
		"title":            p.Title,
		"body":             p.Body,
		"case_id":          strconv.FormatInt(caseID, 10),
		"notification_day": strconv.Itoa(day),
		"stage_color":      orDefault(p.Color, "#2196F3"),
		"sound":            orDefault(p.Sound, "default"),
		"type":             orDefault(p.Type, "CASE_UPDATE"),
		"click_action":     clickAction,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Deliver pushes the payload to every assigned user. Empty assignee or token
// sets are success with zero sends. Per-recipient failures are counted and
// logged, never returned: one bad token must not block the rest.
func (f *Fanout) Deliver(ctx context.Context, c *casefile.Case, day int, p notifylog.Payload) (Report, error) {
	var rep Report
	log := obs.WithTrace(ctx, f.log).With(zap.Int64("case_id", c.ID), zap.String("case_number", c.Number))

	ids, err := f.cases.AssignedUserIDs(ctx, c.ID)
	if err != nil {
		return rep, fmt.Errorf("load assignees: %w", err)
	}
	if len(ids) == 0 {
		log.Debug("no users assigned, nothing to deliver")
		return rep, nil
	}

	users, err := f.users.ListByIDs(ctx, ids)
	if err != nil {
		return rep, fmt.Errorf("load users: %w", err)
	}

	data := BuildData(c.ID, day, p)

	for _, u := range users {
		if !u.Deliverable() {
			if err := f.park(ctx, u.ID, p, data); err != nil {
				log.Warn("queue for offline user failed", zap.Int64("user_id", u.ID), zap.Error(err))
				rep.Failed++
				mFailed.Inc()
				continue
			}
			log.Debug("queued for offline user", zap.Int64("user_id", u.ID))
			rep.Queued++
			mQueued.Inc()
			continue
		}

		if err := f.sender.Send(ctx, u.Token(), data); err != nil {
			log.Warn("push failed", zap.Int64("user_id", u.ID), zap.Error(err))
			rep.Failed++
			mFailed.Inc()
			continue
		}
		rep.Sent++
		mSent.Inc()
	}

	log.Info("delivery fan-out done",
		zap.Int("sent", rep.Sent), zap.Int("queued", rep.Queued), zap.Int("failed", rep.Failed))
	return rep, nil
}

func (f *Fanout) park(ctx context.Context, userID int64, p notifylog.Payload, data map[string]string) error {
	if f.retention > 0 {
		cutoff := f.clock.Now().Add(-f.retention)
		if err := f.pending.PruneBefore(ctx, userID, cutoff); err != nil {
			// Pruning is housekeeping; the enqueue still counts.
			f.log.Warn("prune pending queue failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	return f.pending.Enqueue(ctx, &pending.Notification{
		UserID: userID,
		Title:  p.Title,
		Body:   p.Body,
		Data:   data,
	})
}
