package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fintrack-api/internal/models"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
	"github.com/noah-isme/fintrack-api/pkg/response"
)

type adminService interface {
	Unlock(ctx context.Context, actor *models.AccessClaims, username string, req models.UnlockRequest, meta models.RequestMeta) error
	LockStatus(ctx context.Context, username string) (*models.LockStatus, error)
	RevokeUserSessions(ctx context.Context, actor *models.AccessClaims, username string, meta models.RequestMeta) (int, error)
}

// AdminHandler exposes administrative overrides.
type AdminHandler struct {
	service adminService
}

// NewAdminHandler creates a new handler.
func NewAdminHandler(svc adminService) *AdminHandler {
	return &AdminHandler{service: svc}
}

// Unlock godoc
// @Summary Unlock account
// @Description Clears a temporary or permanent login lock
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param username path string true "Username"
// @Param payload body models.UnlockRequest false "Unlock options"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/users/{username}/unlock [post]
func (h *AdminHandler) Unlock(c *gin.Context) {
	claims, ok := claimsFromContext(c)
	if !ok {
		return
	}

	var req models.UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid unlock payload"))
		return
	}

	if err := h.service.Unlock(c.Request.Context(), claims, c.Param("username"), req, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// LockStatus godoc
// @Summary Account lock status
// @Description Reports lock state, counters and remaining lock time
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param username path string true "Username"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/users/{username}/lock-status [get]
func (h *AdminHandler) LockStatus(c *gin.Context) {
	status, err := h.service.LockStatus(c.Request.Context(), c.Param("username"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, status, nil)
}

// RevokeSessions godoc
// @Summary Revoke user sessions
// @Description Invalidates every session of a user
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param username path string true "Username"
// @Success 204
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/users/{username}/sessions [delete]
func (h *AdminHandler) RevokeSessions(c *gin.Context) {
	claims, ok := claimsFromContext(c)
	if !ok {
		return
	}

	if _, err := h.service.RevokeUserSessions(c.Request.Context(), claims, c.Param("username"), requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
