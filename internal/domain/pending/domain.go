// Package pending models notifications parked for users who had no device
// token at delivery time. The queue is flushed once, best effort, when the
// user registers a token.
package pending

import "time"

type Notification struct {
	ID        int64             `json:"id"`
	UserID    int64             `json:"user_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data"`
	CreatedAt time.Time         `json:"created_at"`
}
