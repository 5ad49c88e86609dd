package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fintrack-api/internal/models"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
)

type adminServiceMock struct {
	unlockReq models.UnlockRequest
	unlocked  string
}

func (m *adminServiceMock) Unlock(ctx context.Context, actor *models.AccessClaims, username string, req models.UnlockRequest, meta models.RequestMeta) error {
	if username == "ghost" {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	m.unlocked = username
	m.unlockReq = req
	return nil
}

func (m *adminServiceMock) LockStatus(ctx context.Context, username string) (*models.LockStatus, error) {
	return &models.LockStatus{Username: username, State: models.LockStateTempLocked, TempBansCount: 1, RemainingSeconds: 42}, nil
}

func (m *adminServiceMock) RevokeUserSessions(ctx context.Context, actor *models.AccessClaims, username string, meta models.RequestMeta) (int, error) {
	return 2, nil
}

func TestAdminHandlerUnlock(t *testing.T) {
	svc := &adminServiceMock{}
	h := NewAdminHandler(svc)

	c, w := newTestContext(http.MethodPost, "/admin/users/alice/unlock", []byte(`{"reset_temp_bans":true}`))
	withClaims(c)
	c.Params = gin.Params{{Key: "username", Value: "alice"}}
	h.Unlock(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "alice", svc.unlocked)
	assert.True(t, svc.unlockReq.ResetTempBans)

	c, w = newTestContext(http.MethodPost, "/admin/users/bob/unlock", nil)
	withClaims(c)
	c.Params = gin.Params{{Key: "username", Value: "bob"}}
	h.Unlock(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, svc.unlockReq.ResetTempBans)

	c, w = newTestContext(http.MethodPost, "/admin/users/ghost/unlock", nil)
	withClaims(c)
	c.Params = gin.Params{{Key: "username", Value: "ghost"}}
	h.Unlock(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandlerLockStatusAndRevoke(t *testing.T) {
	h := NewAdminHandler(&adminServiceMock{})

	c, w := newTestContext(http.MethodGet, "/admin/users/alice/lock-status", nil)
	c.Params = gin.Params{{Key: "username", Value: "alice"}}
	h.LockStatus(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"TEMP_LOCKED"`)

	c, w = newTestContext(http.MethodDelete, "/admin/users/alice/sessions", nil)
	withClaims(c)
	c.Params = gin.Params{{Key: "username", Value: "alice"}}
	h.RevokeSessions(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(nil, map[string]ReadinessCheck{
		"database": func(context.Context) error { return nil },
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	h = NewMetricsHandler(nil, map[string]ReadinessCheck{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
