package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Username   string `json:"username" validate:"required,max=64"`
	Password   string `json:"password" validate:"required"`
	DeviceID   string `json:"device_id" validate:"omitempty,max=128"`
	DeviceName string `json:"device_name" validate:"omitempty,max=128"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	TokenPair
	User     UserInfo  `json:"user"`
	IssuedAt time.Time `json:"issued_at"`
}

// RefreshTokenRequest exchanges a refresh token for a new pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// ChangePasswordRequest payload for updating password.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72,nefield=OldPassword"`
}

// UnlockRequest is the admin override body.
type UnlockRequest struct {
	ResetTempBans bool `json:"reset_temp_bans"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
}

// NewUserInfo projects a user onto its public shape.
func NewUserInfo(u *User) UserInfo {
	return UserInfo{ID: u.ID, Username: u.Username, Email: u.Email, FullName: u.FullName, Role: u.Role}
}

// AccessClaims is the JWT payload of an access token.
type AccessClaims struct {
	UserID    string   `json:"user_id"`
	SessionID string   `json:"session_id"`
	Role      UserRole `json:"role"`
	jwt.RegisteredClaims
}

// RequestMeta carries caller details recorded in audit rows.
type RequestMeta struct {
	IP        string
	UserAgent string
}

// LockState is the login guard verdict for a credential.
type LockState string

const (
	LockStateFree              LockState = "FREE"
	LockStateTempLocked        LockState = "TEMP_LOCKED"
	LockStatePermanentlyLocked LockState = "PERMANENTLY_LOCKED"
)

// LockDecision is the result of a login guard check or mutation.
type LockDecision struct {
	State       LockState     `json:"state"`
	Remaining   time.Duration `json:"-"`
	LockedUntil *time.Time    `json:"locked_until,omitempty"`
	// Escalated is set when the mutation that produced the decision created the lock.
	Escalated bool `json:"-"`
}

// Locked reports whether the decision denies access.
func (d LockDecision) Locked() bool {
	return d.State != LockStateFree
}

// LockStatus is the admin view of a credential's lockout fields.
type LockStatus struct {
	Username          string     `json:"username"`
	State             LockState  `json:"state"`
	FailedAttempts    int        `json:"failed_attempts"`
	TempBansCount     int        `json:"temp_bans_count"`
	LockedUntil       *time.Time `json:"locked_until,omitempty"`
	PermanentlyLocked bool       `json:"permanently_locked"`
	RemainingSeconds  int64      `json:"remaining_seconds"`
}
