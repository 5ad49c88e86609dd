package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-api/internal/models"
	"github.com/noah-isme/fintrack-api/pkg/clock"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
	"github.com/noah-isme/fintrack-api/pkg/useragent"
)

type authUserRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
}

type passwordVault interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

// AuthService orchestrates login, refresh, logout and password changes.
type AuthService struct {
	users     authUserRepository
	vault     passwordVault
	guard     *LoginGuard
	tokens    *TokenService
	sessions  *SessionRegistry
	audit     auditSink
	metrics   *MetricsService
	validator *validator.Validate
	clock     clock.Clock
	logger    *zap.Logger
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(users authUserRepository, vault passwordVault, guard *LoginGuard, tokens *TokenService, sessions *SessionRegistry, audit auditSink, metrics *MetricsService, validate *validator.Validate, clk clock.Clock, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AuthService{
		users:     users,
		vault:     vault,
		guard:     guard,
		tokens:    tokens,
		sessions:  sessions,
		audit:     audit,
		metrics:   metrics,
		validator: validate,
		clock:     clock.OrReal(clk),
		logger:    logger,
	}
}

// Login authenticates a user, registers a device session and issues tokens.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}
	meta := models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}

	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.vault.Verify(req.Password, "")
			s.metrics.RecordLoginAttempt(LoginResultFailure)
			s.audit.Record(ctx, auditEntry(models.AuditActionLoginFailed, models.AuditResourceAuth, "", "", meta, false,
				fmt.Sprintf("unknown username %q", req.Username)))
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Internal(err, "failed to fetch user")
	}

	decision, err := s.guard.CheckAccess(ctx, user)
	if err != nil {
		return nil, err
	}
	if decision.Locked() {
		s.metrics.RecordLoginAttempt(LoginResultLocked)
		s.audit.Record(ctx, auditEntry(models.AuditActionLoginLocked, models.AuditResourceAuth, user.ID, user.ID, meta, false,
			"login rejected: "+string(decision.State)))
		return nil, LockError(decision)
	}

	if !s.vault.Verify(req.Password, user.PasswordHash) {
		return nil, s.loginFailed(ctx, user, meta)
	}

	if !user.Active {
		s.metrics.RecordLoginAttempt(LoginResultDisabled)
		s.audit.Record(ctx, auditEntry(models.AuditActionLoginFailed, models.AuditResourceAuth, user.ID, user.ID, meta, false, "account disabled"))
		return nil, appErrors.Clone(appErrors.ErrAccountDisabled, "")
	}

	if err := s.guard.RecordSuccess(ctx, user); err != nil {
		if errors.Is(err, appErrors.ErrAccountTempLocked) || errors.Is(err, appErrors.ErrAccountPermanentlyLocked) {
			s.metrics.RecordLoginAttempt(LoginResultLocked)
			s.audit.Record(ctx, auditEntry(models.AuditActionLoginLocked, models.AuditResourceAuth, user.ID, user.ID, meta, false,
				"login rejected: account locked by a concurrent failure"))
		}
		return nil, err
	}

	device := useragent.Parse(req.UserAgent)
	session := &models.Session{
		UserID:     user.ID,
		DeviceID:   req.DeviceID,
		DeviceName: req.DeviceName,
		Browser:    device.Browser,
		OS:         device.OS,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
	}
	if session.DeviceID == "" {
		session.DeviceID = uuid.NewString()
	}
	if session.DeviceName == "" {
		session.DeviceName = device.Name
	}

	if _, err := s.sessions.Register(ctx, session, meta); err != nil {
		return nil, err
	}

	pair, err := s.tokens.Issue(ctx, session, user.Role)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}

	s.metrics.RecordLoginAttempt(LoginResultSuccess)
	s.audit.Record(ctx, auditEntry(models.AuditActionLogin, models.AuditResourceAuth, user.ID, session.ID, meta, true,
		"device "+session.DeviceID))

	return &models.LoginResponse{
		TokenPair: *pair,
		User:      models.NewUserInfo(user),
		IssuedAt:  now,
	}, nil
}

func (s *AuthService) loginFailed(ctx context.Context, user *models.User, meta models.RequestMeta) error {
	decision, err := s.guard.RecordFailure(ctx, user)
	if err != nil {
		return err
	}

	s.metrics.RecordLoginAttempt(LoginResultFailure)
	s.audit.Record(ctx, auditEntry(models.AuditActionLoginFailed, models.AuditResourceAuth, user.ID, user.ID, meta, false,
		fmt.Sprintf("invalid password (failed_attempts=%d temp_bans=%d)", user.FailedAttempts, user.TempBansCount)))

	if !decision.Escalated {
		return appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	var action, detail string
	switch decision.State {
	case models.LockStatePermanentlyLocked:
		action = models.AuditActionPermanentlyLocked
		detail = fmt.Sprintf("permanently locked after %d temporary bans", user.TempBansCount)
	default:
		action = models.AuditActionTempLocked
		detail = "temporarily locked"
		if decision.LockedUntil != nil {
			detail = "temporarily locked until " + decision.LockedUntil.UTC().Format(time.RFC3339)
		}
	}
	s.audit.Record(ctx, auditEntry(action, models.AuditResourceUser, user.ID, user.ID, meta, true, detail))
	return LockError(decision)
}

// Refresh rotates a refresh token into a new pair.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshTokenRequest) (*models.TokenPair, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid refresh payload")
	}
	meta := models.RequestMeta{IP: req.IP, UserAgent: req.UserAgent}

	pair, err := s.tokens.Rotate(ctx, req.RefreshToken, meta)
	if err != nil {
		if !errors.Is(err, appErrors.ErrRefreshReuseDetected) {
			appErr := appErrors.FromError(err)
			s.audit.Record(ctx, auditEntry(models.AuditActionTokenRefreshFailed, models.AuditResourceSession, "", "", meta, false, appErr.Message))
		}
		return nil, err
	}

	s.audit.Record(ctx, auditEntry(models.AuditActionTokenRefresh, models.AuditResourceSession, pair.UserID, pair.SessionID, meta, true, "refresh token rotated"))
	return pair, nil
}

// Logout ends the caller's session.
func (s *AuthService) Logout(ctx context.Context, claims *models.AccessClaims, meta models.RequestMeta) error {
	if _, err := s.sessions.Invalidate(ctx, claims.SessionID, ReasonLogout); err != nil {
		return err
	}
	s.audit.Record(ctx, auditEntry(models.AuditActionLogout, models.AuditResourceSession, claims.UserID, claims.SessionID, meta, true, ""))
	return nil
}

// ChangePassword replaces the caller's password and ends every other session.
func (s *AuthService) ChangePassword(ctx context.Context, claims *models.AccessClaims, req models.ChangePasswordRequest, meta models.RequestMeta) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid change password payload")
	}

	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Internal(err, "failed to load user")
	}

	if !s.vault.Verify(req.OldPassword, user.PasswordHash) {
		s.audit.Record(ctx, auditEntry(models.AuditActionPasswordChange, models.AuditResourceUser, user.ID, user.ID, meta, false, "old password mismatch"))
		return appErrors.Clone(appErrors.ErrForbidden, "old password does not match")
	}

	digest, err := s.vault.Hash(req.NewPassword)
	if err != nil {
		return appErrors.Internal(err, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, digest, s.clock.Now()); err != nil {
		return appErrors.Internal(err, "failed to update password")
	}

	ended, err := s.sessions.InvalidateAll(ctx, user.ID, claims.SessionID, ReasonPasswordChange)
	if err != nil {
		return err
	}

	s.audit.Record(ctx, auditEntry(models.AuditActionPasswordChange, models.AuditResourceUser, user.ID, user.ID, meta, true,
		fmt.Sprintf("%d other sessions ended", len(ended))))
	return nil
}

// Me returns the caller's profile.
func (s *AuthService) Me(ctx context.Context, claims *models.AccessClaims) (*models.UserInfo, error) {
	user, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	info := models.NewUserInfo(user)
	return &info, nil
}

// VerifyAccessToken validates an access token.
func (s *AuthService) VerifyAccessToken(token string) (*models.AccessClaims, error) {
	return s.tokens.Verify(token)
}
