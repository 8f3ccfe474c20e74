// Package notifylog models the notification log: durable "a notification is
// due for this case" rows that act as the work queue shared by every trigger
// path. A row is born PENDING, claimed into PROCESSING by exactly one
// consumer, and deleted once handled.
package notifylog

import "time"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
)

// Payload is the denormalized message embedded in a log row. A nil payload on
// an entry means "resolve against the rule table at consumption time".
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Color string `json:"color,omitempty"`
	Sound string `json:"sound,omitempty"`
	Type  string `json:"type,omitempty"`
}

type Entry struct {
	ID        int64     `json:"log_id"`
	CaseID    int64     `json:"case_id"`
	Day       int       `json:"notification_day"`
	Payload   *Payload  `json:"payload"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock used outside tests.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
