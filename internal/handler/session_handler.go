package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fintrack-api/internal/models"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
	"github.com/noah-isme/fintrack-api/pkg/logger"
	"github.com/noah-isme/fintrack-api/pkg/response"
)

type sessionService interface {
	List(ctx context.Context, claims *models.AccessClaims) ([]models.SessionView, error)
	Revoke(ctx context.Context, claims *models.AccessClaims, sessionID string, meta models.RequestMeta) error
	RevokeAll(ctx context.Context, claims *models.AccessClaims, exceptCurrent bool, meta models.RequestMeta) (int, error)
	Wait(ctx context.Context, claims *models.AccessClaims, sessionID string, timeout time.Duration) (*models.WaitResult, error)
}

// SessionHandler exposes the caller's device sessions.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler creates a new handler.
func NewSessionHandler(svc sessionService) *SessionHandler {
	return &SessionHandler{service: svc}
}

// List godoc
// @Summary List sessions
// @Description Lists the caller's live sessions, most recently active first
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	claims, ok := claimsFromContext(c)
	if !ok {
		return
	}

	sessions, err := h.service.List(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, sessions, map[string]interface{}{"total": len(sessions)})
}

// Revoke godoc
// @Summary Revoke session
// @Description Invalidates one of the caller's sessions
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 204
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [delete]
func (h *SessionHandler) Revoke(c *gin.Context) {
	claims, ok := claimsFromContext(c)
	if !ok {
		return
	}

	if err := h.service.Revoke(c.Request.Context(), claims, c.Param("id"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// RevokeAll godoc
// @Summary Revoke all sessions
// @Description Invalidates every session of the caller
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param except_current query bool false "Keep the calling session"
// @Success 204
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /sessions/all [delete]
func (h *SessionHandler) RevokeAll(c *gin.Context) {
	claims, ok := claimsFromContext(c)
	if !ok {
		return
	}

	exceptCurrent := false
	if raw := c.Query("except_current"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "except_current must be a boolean"))
			return
		}
		exceptCurrent = parsed
	}

	if _, err := h.service.RevokeAll(c.Request.Context(), claims, exceptCurrent, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// WaitInvalidation godoc
// @Summary Wait for session invalidation
// @Description Long-polls until the session is invalidated or the timeout elapses
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param timeout query string false "Wait timeout, e.g. 35s or 35"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id}/wait-invalidation [get]
func (h *SessionHandler) WaitInvalidation(c *gin.Context) {
	claims, ok := claimsFromContext(c)
	if !ok {
		return
	}

	timeout, err := parseTimeout(c.Query("timeout"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "timeout must be a positive duration"))
		return
	}

	result, err := h.service.Wait(c.Request.Context(), claims, c.Param("id"), timeout)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !result.Invalidated {
		logger.Quiet(c)
	}

	response.JSON(c, http.StatusOK, result, nil)
}

// parseTimeout accepts a Go duration or a bare number of seconds. Empty means
// the server default.
func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs <= 0 {
			return 0, strconv.ErrRange
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, strconv.ErrRange
	}
	return d, nil
}
