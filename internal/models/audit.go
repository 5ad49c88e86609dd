package models

import "time"

// AuditAction constants represent actions to be logged.
const (
	AuditActionLogin              = "LOGIN"
	AuditActionLoginFailed        = "LOGIN_FAILED"
	AuditActionLoginLocked        = "LOGIN_LOCKED"
	AuditActionTempLocked         = "ACCOUNT_TEMP_LOCKED"
	AuditActionPermanentlyLocked  = "ACCOUNT_PERMANENTLY_LOCKED"
	AuditActionTokenRefresh       = "TOKEN_REFRESH"
	AuditActionTokenRefreshFailed = "TOKEN_REFRESH_FAILED"
	AuditActionRefreshReuse       = "REFRESH_REUSE"
	AuditActionLogout             = "LOGOUT"
	AuditActionSessionRevoke      = "SESSION_REVOKE"
	AuditActionSessionRevokeAll   = "SESSION_REVOKE_ALL"
	AuditActionSessionSuperseded  = "SESSION_SUPERSEDED"
	AuditActionAccountUnlock      = "ACCOUNT_UNLOCK"
	AuditActionPasswordChange     = "PASSWORD_CHANGE"
)

// Audit resources.
const (
	AuditResourceAuth    = "auth"
	AuditResourceSession = "session"
	AuditResourceUser    = "user"
)

// AuditLog represents an audit trail record. Rows are append-only.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	Success    bool      `db:"success" json:"success"`
	Detail     string    `db:"detail" json:"detail"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
