package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fintrack-api/internal/middleware"
	"github.com/noah-isme/fintrack-api/internal/models"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
	"github.com/noah-isme/fintrack-api/pkg/response"
)

// deviceIDHeader lets clients that cannot change the login body pin a device id.
const deviceIDHeader = "X-Device-ID"

// claimsFromContext returns the caller's claims, writing a 401 when absent.
func claimsFromContext(c *gin.Context) (*models.AccessClaims, bool) {
	claims, ok := middleware.Claims(c)
	if !ok {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
