package user

import "time"

type User struct {
	ID        int64     `json:"id"`
	PushToken *string   `json:"push_token"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deliverable reports whether the user currently has a device token to push to.
// A nil or empty token means the user is offline for push purposes.
func (u *User) Deliverable() bool {
	return u.PushToken != nil && *u.PushToken != ""
}

// Token returns the push token or an empty string.
func (u *User) Token() string {
	if u.PushToken == nil {
		return ""
	}
	return *u.PushToken
}
