package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/casetrail/casealert/internal/domain/notifylog"
)

// LogCreated is the wire form of a freshly inserted notification_log row. It
// carries the full row snapshot so consumers can process without reading the
// log table back.
type LogCreated struct {
	LogID   int64              `json:"log_id"`
	CaseID  int64              `json:"case_id"`
	Day     int                `json:"notification_day"`
	Payload *notifylog.Payload `json:"payload,omitempty"`
}

func (ev LogCreated) Entry() *notifylog.Entry {
	return &notifylog.Entry{
		ID:      ev.LogID,
		CaseID:  ev.CaseID,
		Day:     ev.Day,
		Payload: ev.Payload,
		Status:  notifylog.StatusPending,
	}
}

var _ notifylog.Events = (*LogEventsKafka)(nil)

type LogEventsKafka struct {
	p *Producer
}

func NewLogEventsKafka(p *Producer) *LogEventsKafka { return &LogEventsKafka{p: p} }

func (e *LogEventsKafka) PublishCreated(ctx context.Context, entry *notifylog.Entry) error {
	return e.p.PublishJSON(ctx, KeyFromInt64(entry.CaseID), LogCreated{
		LogID:   entry.ID,
		CaseID:  entry.CaseID,
		Day:     entry.Day,
		Payload: entry.Payload,
	})
}

// LogCreatedHandler adapts a typed callback to the raw consumer handler.
func LogCreatedHandler(handle func(ctx context.Context, ev LogCreated) error) Handler {
	return func(ctx context.Context, _, value []byte) error {
		var ev LogCreated
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("unmarshal log-created event: %w", err)
		}
		return handle(ctx, ev)
	}
}
