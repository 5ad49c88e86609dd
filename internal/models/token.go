package models

import "time"

// RefreshToken is a persisted refresh credential. Only the SHA-256 digest of
// the secret is stored.
type RefreshToken struct {
	ID        string     `db:"id" json:"id"`
	SessionID string     `db:"session_id" json:"session_id"`
	TokenHash string     `db:"token_hash" json:"-"`
	ExpiresAt time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	Revoked   bool       `db:"revoked" json:"revoked"`
	RevokedAt *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`

	// ReplacedBy is set when the token was revoked by a rotation.
	ReplacedBy *string `db:"replaced_by" json:"-"`
}

// RotatedWithin reports whether the token was consumed by a rotation less
// than grace before now.
func (t *RefreshToken) RotatedWithin(grace time.Duration, now time.Time) bool {
	if !t.Revoked || t.ReplacedBy == nil || t.RevokedAt == nil || grace <= 0 {
		return false
	}
	return now.Sub(*t.RevokedAt) < grace
}

// TokenPair is an access token together with its refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	UserID           string    `json:"-"`
}
