package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/fintrack-api/internal/models"
	"github.com/noah-isme/fintrack-api/pkg/clock"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
	"github.com/noah-isme/fintrack-api/pkg/response"
)

// SessionLookup resolves the session behind an access token.
type SessionLookup interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Touch(ctx context.Context, id string)
}

// ActiveSession rejects access tokens whose session has been invalidated or
// has expired, and records activity on the ones that pass. Must run after JWT.
func ActiveSession(sessions SessionLookup, clk clock.Clock) gin.HandlerFunc {
	clk = clock.OrReal(clk)
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}

		session, err := sessions.Get(c.Request.Context(), claims.SessionID)
		if err != nil {
			if appErrors.FromError(err).Code == appErrors.ErrSessionNotFound.Code {
				err = appErrors.Clone(appErrors.ErrUnauthorized, "session no longer exists")
			}
			response.Abort(c, err)
			return
		}
		if session.UserID != claims.UserID || !session.Live(clk.Now()) {
			response.Abort(c, appErrors.Clone(appErrors.ErrUnauthorized, "session is no longer active"))
			return
		}

		sessions.Touch(c.Request.Context(), session.ID)
		c.Next()
	}
}
