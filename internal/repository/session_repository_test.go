package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fintrack-api/internal/models"
)

var sessionRowColumns = []string{"id", "user_id", "device_id", "device_name", "browser", "os", "ip_address", "user_agent", "last_activity", "expires_at", "created_at", "invalidated", "invalidated_at"}

func TestListActiveSessionsOrdersByActivity(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(sessionRowColumns).
		AddRow("s2", "u1", "d2", "Phone", "Safari 17", "iOS", "10.0.0.2", "ua", now, now.Add(time.Hour), now, false, nil).
		AddRow("s1", "u1", "d1", "Laptop", "Chrome 120", "Linux", "10.0.0.1", "ua", now.Add(-time.Hour), now.Add(time.Hour), now, false, nil)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY last_activity DESC")).
		WithArgs("u1", now).
		WillReturnRows(rows)

	sessions, err := repo.ListActiveSessions(context.Background(), "u1", now)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateSessionRevokesRefreshTokens(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	at := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sessions SET invalidated = TRUE").
		WithArgs("s1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE").
		WithArgs("s1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	changed, err := repo.InvalidateSession(context.Background(), "s1", at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInvalidateSessionAlreadyInvalidated(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	at := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sessions SET invalidated = TRUE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	changed, err := repo.InvalidateSession(context.Background(), "s1", at)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestRotateRefreshTokenWinner(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	next := &models.RefreshToken{ID: "r2", SessionID: "s1", TokenHash: "h2", ExpiresAt: now.Add(time.Hour), CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2, replaced_by = $3 WHERE id = $1 AND revoked = FALSE")).
		WithArgs("r1", now, "r2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sessions SET expires_at").
		WithArgs("s1", next.ExpiresAt, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rotated, err := repo.RotateRefreshToken(context.Background(), "r1", next, next.ExpiresAt)
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshTokenLoser(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	next := &models.RefreshToken{ID: "r3", SessionID: "s1", TokenHash: "h3", ExpiresAt: now.Add(time.Hour), CreatedAt: now}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked = TRUE").
		WithArgs("r1", now, "r3").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	rotated, err := repo.RotateRefreshToken(context.Background(), "r1", next, next.ExpiresAt)
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpiredSessionsReturnsIDs(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM sessions WHERE expires_at <= $1 RETURNING id")).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s1").AddRow("s2"))

	ids, err := repo.DeleteExpiredSessions(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAuditLogAssignsID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectExec("INSERT INTO audit_logs").WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.AuditLog{Action: models.AuditActionLogin, Resource: models.AuditResourceAuth, Success: true, CreatedAt: time.Now()}
	require.NoError(t, repo.CreateAuditLog(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindRefreshTokenByHashReadsLineage(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewSessionRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "session_id", "token_hash", "expires_at", "created_at", "revoked", "revoked_at", "replaced_by"}).
		AddRow("r1", "s1", "h1", now.Add(time.Hour), now.Add(-time.Minute), true, now, "r2")
	mock.ExpectQuery(regexp.QuoteMeta("FROM refresh_tokens WHERE token_hash = $1")).
		WithArgs("h1").
		WillReturnRows(rows)

	token, err := repo.FindRefreshTokenByHash(context.Background(), "h1")
	require.NoError(t, err)
	require.NotNil(t, token.ReplacedBy)
	assert.Equal(t, "r2", *token.ReplacedBy)
	assert.True(t, token.RotatedWithin(10*time.Second, now.Add(5*time.Second)))
	assert.False(t, token.RotatedWithin(10*time.Second, now.Add(10*time.Second)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
