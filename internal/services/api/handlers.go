package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/casetrail/casealert/internal/domain/casefile"
	"github.com/casetrail/casealert/internal/domain/notifylog"
	"github.com/casetrail/casealert/internal/domain/push"
	"github.com/casetrail/casealert/internal/domain/user"
	"github.com/casetrail/casealert/internal/repository/postgres"
	"github.com/casetrail/casealert/internal/rules"
	"github.com/casetrail/casealert/internal/services/consumer"
	"github.com/casetrail/casealert/internal/services/delivery"
	"github.com/casetrail/casealert/internal/services/scanner"
)

const (
	tableLog   = "notification_log"
	tableCases = "cases"
)

type Handler struct {
	log     *zap.Logger
	cases   casefile.Repo
	users   user.Repo
	table   *rules.Table
	cons    *consumer.Usecase
	scan    *scanner.Usecase
	fan     *delivery.Fanout
	flusher *delivery.Flusher
	sender  push.Sender
	clock   notifylog.Clock
}

func NewHandler(
	log *zap.Logger,
	cases casefile.Repo,
	users user.Repo,
	table *rules.Table,
	cons *consumer.Usecase,
	scan *scanner.Usecase,
	fan *delivery.Fanout,
	flusher *delivery.Flusher,
	sender push.Sender,
	clock notifylog.Clock,
) *Handler {
	return &Handler{
		log:     log.With(zap.String("component", "api")),
		cases:   cases,
		users:   users,
		table:   table,
		cons:    cons,
		scan:    scan,
		fan:     fan,
		flusher: flusher,
		sender:  sender,
		clock:   clock,
	}
}

// eventEnvelope is the change-notification shape the datastore posts on row
// changes. Record and OldRecord stay raw until the table is known.
type eventEnvelope struct {
	Type      string          `json:"type" validate:"required"`
	Table     string          `json:"table" validate:"required"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record"`
}

type logRecord struct {
	ID      int64              `json:"id"`
	CaseID  int64              `json:"case_id"`
	Day     int                `json:"notification_day"`
	Payload *notifylog.Payload `json:"payload"`
}

type caseRecord struct {
	ID    int64 `json:"id"`
	Stage int   `json:"stage"`
}

// HandleEvent is the webhook trigger path. Only log inserts and case stage
// changes cause work; every other event kind is acknowledged without action.
func (h *Handler) HandleEvent(c echo.Context) error {
	var ev eventEnvelope
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event envelope")
	}
	if err := c.Validate(&ev); err != nil {
		return err
	}

	switch {
	case ev.Type == "INSERT" && ev.Table == tableLog:
		return h.handleLogInsert(c, ev.Record)
	case ev.Type == "UPDATE" && ev.Table == tableCases:
		return h.handleCaseUpdate(c, ev.Record, ev.OldRecord)
	default:
		return c.JSON(http.StatusOK, echo.Map{"action": "none"})
	}
}

func (h *Handler) handleLogInsert(c echo.Context, raw json.RawMessage) error {
	var rec logRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed log record")
	}
	if rec.ID <= 0 || rec.CaseID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "log record missing id or case_id")
	}

	res, err := h.cons.Process(c.Request().Context(), &notifylog.Entry{
		ID:      rec.ID,
		CaseID:  rec.CaseID,
		Day:     rec.Day,
		Payload: rec.Payload,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) handleCaseUpdate(c echo.Context, raw, oldRaw json.RawMessage) error {
	var rec caseRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed case record")
	}
	if rec.ID <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "case record missing id")
	}
	if len(oldRaw) > 0 {
		var old caseRecord
		if err := json.Unmarshal(oldRaw, &old); err == nil && old.Stage == rec.Stage {
			return c.JSON(http.StatusOK, echo.Map{"action": "none"})
		}
	}
	return h.notifyCase(c, rec.ID, rec.Stage)
}

// TriggerCase fires a stage notification for one case on demand.
func (h *Handler) TriggerCase(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	cf, err := h.cases.GetByID(c.Request().Context(), id)
	if err != nil {
		return mapRepoErr(err)
	}
	return h.notifyCase(c, id, cf.Stage)
}

func (h *Handler) notifyCase(c echo.Context, caseID int64, key int) error {
	ctx := c.Request().Context()
	cf, err := h.cases.GetByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			return c.JSON(http.StatusOK, echo.Map{"action": "none", "reason": "case not found"})
		}
		return err
	}

	var payload notifylog.Payload
	entry, kind, ok := h.table.Resolve(rules.TrackFor(cf.Under7), key)
	if ok {
		payload = entry.Payload(cf.Number, key)
	} else {
		payload = rules.Generic(cf.Number)
	}

	rep, err := h.fan.Deliver(ctx, cf, key, payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"action": "notified",
		"match":  kind.String(),
		"report": rep,
	})
}

// RunScan kicks a full scan outside the schedule.
func (h *Handler) RunScan(c echo.Context) error {
	rep, err := h.scan.Scan(c.Request().Context())
	if err != nil {
		h.log.Error("manual scan failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "scan failed")
	}
	return c.JSON(http.StatusOK, rep)
}

// Resolution reports how the rule table sees a case right now, without
// sending anything. Debug surface.
func (h *Handler) Resolution(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	cf, err := h.cases.GetByID(ctx, id)
	if err != nil {
		return mapRepoErr(err)
	}

	day := elapsedDaysFor(h.clock, cf)
	track := rules.TrackFor(cf.Under7)
	entry, kind, ok := h.table.Resolve(track, cf.Stage)
	resp := echo.Map{
		"case_id":      cf.ID,
		"track":        track,
		"stage":        cf.Stage,
		"elapsed_days": day,
		"stage_match":  kind.String(),
	}
	if ok {
		resp["stage_payload"] = entry.Payload(cf.Number, cf.Stage)
	}
	if dayEntry, dok := h.table.ResolveDay(track, day); dok {
		resp["day_payload"] = dayEntry.Payload(cf.Number, day)
	}
	return c.JSON(http.StatusOK, resp)
}

type pushTokenRequest struct {
	Token string `json:"push_token" validate:"required"`
}

// UpdatePushToken stores the token and then flushes the user's pending queue
// against it, best effort, before acknowledging.
func (h *Handler) UpdatePushToken(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req pushTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	if err := h.users.SetPushToken(ctx, id, req.Token); err != nil {
		return mapRepoErr(err)
	}
	rep, err := h.flusher.Flush(ctx, id, req.Token)
	if err != nil {
		h.log.Warn("pending flush after token update", zap.Int64("user_id", id), zap.Error(err))
	}
	return c.JSON(http.StatusOK, echo.Map{"flushed": rep})
}

type testPushRequest struct {
	Token string `json:"token" validate:"required"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// TestPush sends a throwaway data message straight to a token.
func (h *Handler) TestPush(c echo.Context) error {
	var req testPushRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if req.Title == "" {
		req.Title = "Test notification"
	}
	data := map[string]string{
		"title":        req.Title,
		"body":         req.Body,
		"type":         "TEST",
		"click_action": "FLUTTER_NOTIFICATION_CLICK",
	}
	if err := h.sender.Send(c.Request().Context(), req.Token, data); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "push send failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, echo.Map{"sent": true})
}

func paramID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func mapRepoErr(err error) error {
	if errors.Is(err, postgres.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}
	return err
}

func elapsedDaysFor(clock notifylog.Clock, cf *casefile.Case) int {
	d := clock.Now().Sub(cf.CreatedAt)
	if d < 0 {
		d = -d
	}
	return int(math.Ceil(d.Hours() / 24))
}
