package models

import "time"

// Session is a registered (user, device) binding.
type Session struct {
	ID            string     `db:"id" json:"id"`
	UserID        string     `db:"user_id" json:"user_id"`
	DeviceID      string     `db:"device_id" json:"device_id"`
	DeviceName    string     `db:"device_name" json:"device_name"`
	Browser       string     `db:"browser" json:"browser"`
	OS            string     `db:"os" json:"os"`
	IPAddress     string     `db:"ip_address" json:"ip_address"`
	UserAgent     string     `db:"user_agent" json:"-"`
	LastActivity  time.Time  `db:"last_activity" json:"last_activity"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	Invalidated   bool       `db:"invalidated" json:"invalidated"`
	InvalidatedAt *time.Time `db:"invalidated_at" json:"invalidated_at,omitempty"`
}

// Live reports whether the session is neither invalidated nor expired at now.
func (s *Session) Live(now time.Time) bool {
	return !s.Invalidated && now.Before(s.ExpiresAt)
}

// SessionView is the listing shape returned to the owner.
type SessionView struct {
	Session
	Current bool `json:"current"`
}

// WaitResult is returned by the long-poll endpoint.
type WaitResult struct {
	Invalidated bool `json:"invalidated"`
}
