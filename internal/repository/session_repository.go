package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/fintrack-api/internal/models"
)

const sessionColumns = `id, user_id, device_id, device_name, browser, os, ip_address, user_agent, last_activity, expires_at, created_at, invalidated, invalidated_at`

const refreshTokenColumns = `id, session_id, token_hash, expires_at, created_at, revoked, revoked_at, replaced_by`

// SessionRepository persists sessions and their refresh tokens.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new instance of SessionRepository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession inserts a session row.
func (r *SessionRepository) CreateSession(ctx context.Context, session *models.Session) error {
	const query = `INSERT INTO sessions (id, user_id, device_id, device_name, browser, os, ip_address, user_agent, last_activity, expires_at, created_at, invalidated, invalidated_at)
VALUES (:id, :user_id, :device_id, :device_name, :browser, :os, :ip_address, :user_agent, :last_activity, :expires_at, :created_at, :invalidated, :invalidated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindSessionByID returns a session regardless of its state.
func (r *SessionRepository) FindSessionByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	var session models.Session
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find session: %w", err)
	}
	return &session, nil
}

// ListActiveSessions returns the live sessions of a user, most recent activity first.
func (r *SessionRepository) ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 AND invalidated = FALSE AND expires_at > $2 ORDER BY last_activity DESC, created_at DESC`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, userID, now); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// FindLiveSessionsByDevice returns the live sessions bound to a (user, device) pair.
func (r *SessionRepository) FindLiveSessionsByDevice(ctx context.Context, userID, deviceID string, now time.Time) ([]models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 AND device_id = $2 AND invalidated = FALSE AND expires_at > $3`
	var sessions []models.Session
	if err := r.db.SelectContext(ctx, &sessions, query, userID, deviceID, now); err != nil {
		return nil, fmt.Errorf("find sessions by device: %w", err)
	}
	return sessions, nil
}

// InvalidateSession marks a session invalidated and revokes its refresh
// tokens atomically. It reports whether the session changed state.
func (r *SessionRepository) InvalidateSession(ctx context.Context, id string, at time.Time) (changed bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin invalidate session: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE sessions SET invalidated = TRUE, invalidated_at = $2 WHERE id = $1 AND invalidated = FALSE`, id, at)
	if err != nil {
		return false, fmt.Errorf("invalidate session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("invalidate session rows: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE session_id = $1 AND revoked = FALSE`, id, at); err != nil {
		return false, fmt.Errorf("revoke session refresh tokens: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit invalidate session: %w", err)
	}
	return affected > 0, nil
}

// TouchSession records activity on a live session.
func (r *SessionRepository) TouchSession(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE sessions SET last_activity = $2 WHERE id = $1 AND invalidated = FALSE AND last_activity < $2`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions whose lifetime ended before the
// cutoff and returns their ids. Refresh tokens cascade.
func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) ([]string, error) {
	const query = `DELETE FROM sessions WHERE expires_at <= $1 RETURNING id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, before); err != nil {
		return nil, fmt.Errorf("delete expired sessions: %w", err)
	}
	return ids, nil
}

// ReplaceRefreshToken revokes any live refresh token of the session, stores
// token and extends the session lifetime in one transaction.
func (r *SessionRepository) ReplaceRefreshToken(ctx context.Context, token *models.RefreshToken, sessionExpiresAt time.Time) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace refresh token: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE session_id = $1 AND revoked = FALSE`, token.SessionID, token.CreatedAt); err != nil {
		return fmt.Errorf("revoke previous refresh token: %w", err)
	}
	if err = insertRefreshToken(ctx, tx, token); err != nil {
		return err
	}
	if err = extendSession(ctx, tx, token.SessionID, sessionExpiresAt, token.CreatedAt); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace refresh token: %w", err)
	}
	return nil
}

// FindRefreshTokenByHash returns the refresh token stored under a digest.
func (r *SessionRepository) FindRefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	var token models.RefreshToken
	if err := r.db.GetContext(ctx, &token, query, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &token, nil
}

// RotateRefreshToken revokes currentID only if it is still live, recording
// next as its replacement, then stores next and extends the session. rotated is false when another caller revoked
// currentID first; nothing is written in that case.
func (r *SessionRepository) RotateRefreshToken(ctx context.Context, currentID string, next *models.RefreshToken, sessionExpiresAt time.Time) (rotated bool, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin rotate refresh token: %w", err)
	}
	defer func() {
		if err != nil || !rotated {
			_ = tx.Rollback()
		}
	}()

	const revoke = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, replaced_by = $3 WHERE id = $1 AND revoked = FALSE`
	res, err := tx.ExecContext(ctx, revoke, currentID, next.CreatedAt, next.ID)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("revoke refresh token rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	if err = insertRefreshToken(ctx, tx, next); err != nil {
		return false, err
	}
	if err = extendSession(ctx, tx, next.SessionID, sessionExpiresAt, next.CreatedAt); err != nil {
		return false, err
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit rotate refresh token: %w", err)
	}
	return true, nil
}

func insertRefreshToken(ctx context.Context, tx *sqlx.Tx, token *models.RefreshToken) error {
	const query = `INSERT INTO refresh_tokens (id, session_id, token_hash, expires_at, created_at, revoked, revoked_at)
VALUES (:id, :session_id, :token_hash, :expires_at, :created_at, :revoked, :revoked_at)`
	if _, err := tx.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

func extendSession(ctx context.Context, tx *sqlx.Tx, sessionID string, expiresAt, at time.Time) error {
	const query = `UPDATE sessions SET expires_at = $2, last_activity = $3 WHERE id = $1 AND invalidated = FALSE`
	res, err := tx.ExecContext(ctx, query, sessionID, expiresAt, at)
	if err != nil {
		return fmt.Errorf("extend session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("extend session rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("extend session %s: %w", sessionID, sql.ErrNoRows)
	}
	return nil
}
