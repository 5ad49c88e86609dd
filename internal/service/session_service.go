package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-api/internal/models"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
)

// SessionService exposes a user's own sessions.
type SessionService struct {
	registry *SessionRegistry
	audit    auditSink
	logger   *zap.Logger
}

// NewSessionService constructs a SessionService.
func NewSessionService(registry *SessionRegistry, audit auditSink, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{registry: registry, audit: audit, logger: logger}
}

// List returns the caller's live sessions with the current one flagged.
func (s *SessionService) List(ctx context.Context, claims *models.AccessClaims) ([]models.SessionView, error) {
	sessions, err := s.registry.List(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	views := make([]models.SessionView, 0, len(sessions))
	for _, session := range sessions {
		views = append(views, models.SessionView{Session: session, Current: session.ID == claims.SessionID})
	}
	return views, nil
}

// Revoke invalidates one of the caller's sessions. Sessions owned by someone
// else are reported as not found.
func (s *SessionService) Revoke(ctx context.Context, claims *models.AccessClaims, sessionID string, meta models.RequestMeta) error {
	session, err := s.registry.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != claims.UserID {
		return appErrors.Clone(appErrors.ErrSessionNotFound, "")
	}

	if _, err := s.registry.Invalidate(ctx, sessionID, ReasonRevoked); err != nil {
		return err
	}
	s.audit.Record(ctx, auditEntry(models.AuditActionSessionRevoke, models.AuditResourceSession, claims.UserID, sessionID, meta, true,
		"revoked from session "+claims.SessionID))
	return nil
}

// RevokeAll invalidates every session of the caller, optionally sparing the current one.
func (s *SessionService) RevokeAll(ctx context.Context, claims *models.AccessClaims, exceptCurrent bool, meta models.RequestMeta) (int, error) {
	except := ""
	if exceptCurrent {
		except = claims.SessionID
	}
	ended, err := s.registry.InvalidateAll(ctx, claims.UserID, except, ReasonRevokeAll)
	if err != nil {
		return len(ended), err
	}
	s.audit.Record(ctx, auditEntry(models.AuditActionSessionRevokeAll, models.AuditResourceSession, claims.UserID, "", meta, true,
		fmt.Sprintf("%d sessions ended, except_current=%t", len(ended), exceptCurrent)))
	return len(ended), nil
}

// Wait long-polls for the invalidation of one of the caller's sessions.
func (s *SessionService) Wait(ctx context.Context, claims *models.AccessClaims, sessionID string, timeout time.Duration) (*models.WaitResult, error) {
	invalidated, err := s.registry.WaitForInvalidation(ctx, sessionID, claims.UserID, timeout)
	if err != nil {
		return nil, err
	}
	return &models.WaitResult{Invalidated: invalidated}, nil
}
