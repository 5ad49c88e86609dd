package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-api/internal/models"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
)

type adminUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
}

// AdminService provides audited administrative overrides.
type AdminService struct {
	users    adminUserRepository
	guard    *LoginGuard
	sessions *SessionRegistry
	audit    auditSink
	logger   *zap.Logger
}

// NewAdminService constructs an AdminService.
func NewAdminService(users adminUserRepository, guard *LoginGuard, sessions *SessionRegistry, audit auditSink, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{users: users, guard: guard, sessions: sessions, audit: audit, logger: logger}
}

// Unlock clears a user's login lock.
func (s *AdminService) Unlock(ctx context.Context, actor *models.AccessClaims, username string, req models.UnlockRequest, meta models.RequestMeta) error {
	user, err := s.findUser(ctx, username)
	if err != nil {
		return err
	}
	before := s.guard.Status(user)

	state, err := s.guard.AdminUnlock(ctx, user, req.ResetTempBans)
	if err != nil {
		return err
	}

	s.logger.Sugar().Infow("account unlocked", "user_id", user.ID, "actor_id", actor.UserID, "previous_state", before.State)
	s.audit.Record(ctx, auditEntry(models.AuditActionAccountUnlock, models.AuditResourceUser, actor.UserID, user.ID, meta, true,
		fmt.Sprintf("previous_state=%s reset_temp_bans=%t temp_bans=%d", before.State, req.ResetTempBans, state.TempBansCount)))
	return nil
}

// LockStatus reports a user's lockout state and counters.
func (s *AdminService) LockStatus(ctx context.Context, username string) (*models.LockStatus, error) {
	user, err := s.findUser(ctx, username)
	if err != nil {
		return nil, err
	}
	decision := s.guard.Status(user)
	return &models.LockStatus{
		Username:          user.Username,
		State:             decision.State,
		FailedAttempts:    user.FailedAttempts,
		TempBansCount:     user.TempBansCount,
		LockedUntil:       user.LockedUntil,
		PermanentlyLocked: user.PermanentlyLocked,
		RemainingSeconds:  int64(math.Ceil(decision.Remaining.Seconds())),
	}, nil
}

// RevokeUserSessions ends every session of a user.
func (s *AdminService) RevokeUserSessions(ctx context.Context, actor *models.AccessClaims, username string, meta models.RequestMeta) (int, error) {
	user, err := s.findUser(ctx, username)
	if err != nil {
		return 0, err
	}
	ended, err := s.sessions.InvalidateAll(ctx, user.ID, "", ReasonAdmin)
	if err != nil {
		return len(ended), err
	}
	s.audit.Record(ctx, auditEntry(models.AuditActionSessionRevokeAll, models.AuditResourceSession, actor.UserID, user.ID, meta, true,
		fmt.Sprintf("admin ended %d sessions", len(ended))))
	return len(ended), nil
}

func (s *AdminService) findUser(ctx context.Context, username string) (*models.User, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	return user, nil
}
