// Package casefile holds the read-only view of the case records owned by the
// external case-management system. The dispatcher never writes to them.
package casefile

import "time"

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusOngoing    Status = "ONGOING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusClosed     Status = "CLOSED"
	StatusDismissed  Status = "DISMISSED"
)

// OpenStatuses are the states in which a case still drives notifications.
var OpenStatuses = []Status{StatusPending, StatusOngoing, StatusInProgress}

func (s Status) Open() bool {
	for _, o := range OpenStatuses {
		if s == o {
			return true
		}
	}
	return false
}

type Case struct {
	ID        int64     `json:"id"`
	Number    string    `json:"case_number"`
	Title     string    `json:"title"`
	Status    Status    `json:"status"`
	Under7    bool      `json:"under_7_years"`
	Stage     int       `json:"stage"`
	Deleted   bool      `json:"is_deleted"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
