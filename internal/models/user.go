package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleUser  UserRole = "USER"
)

// User is the credential record stored in the users table, lockout fields included.
type User struct {
	ID                string     `db:"id" json:"id"`
	Username          string     `db:"username" json:"username"`
	Email             string     `db:"email" json:"email"`
	PasswordHash      string     `db:"password_hash" json:"-"`
	FullName          string     `db:"full_name" json:"full_name"`
	Role              UserRole   `db:"role" json:"role"`
	Active            bool       `db:"active" json:"active"`
	FailedAttempts    int        `db:"failed_attempts" json:"failed_attempts"`
	TempBansCount     int        `db:"temp_bans_count" json:"temp_bans_count"`
	LockedUntil       *time.Time `db:"locked_until" json:"locked_until,omitempty"`
	PermanentlyLocked bool       `db:"permanently_locked" json:"permanently_locked"`
	LastLogin         *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// LockoutState is the mutable slice of a credential owned by the login guard.
type LockoutState struct {
	FailedAttempts    int        `db:"failed_attempts"`
	TempBansCount     int        `db:"temp_bans_count"`
	LockedUntil       *time.Time `db:"locked_until"`
	PermanentlyLocked bool       `db:"permanently_locked"`
}

// Lockout returns the user's current lockout fields.
func (u *User) Lockout() LockoutState {
	return LockoutState{
		FailedAttempts:    u.FailedAttempts,
		TempBansCount:     u.TempBansCount,
		LockedUntil:       u.LockedUntil,
		PermanentlyLocked: u.PermanentlyLocked,
	}
}

// ApplyLockout copies lockout fields onto the user.
func (u *User) ApplyLockout(state LockoutState) {
	u.FailedAttempts = state.FailedAttempts
	u.TempBansCount = state.TempBansCount
	u.LockedUntil = state.LockedUntil
	u.PermanentlyLocked = state.PermanentlyLocked
}
