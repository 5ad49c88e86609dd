package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-api/internal/models"
	"github.com/noah-isme/fintrack-api/pkg/clock"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
	"github.com/noah-isme/fintrack-api/pkg/security"
)

type tokenStore interface {
	FindSessionByID(ctx context.Context, id string) (*models.Session, error)
	ReplaceRefreshToken(ctx context.Context, token *models.RefreshToken, sessionExpiresAt time.Time) error
	FindRefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	RotateRefreshToken(ctx context.Context, currentID string, next *models.RefreshToken, sessionExpiresAt time.Time) (bool, error)
}

type tokenUserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type sessionInvalidator interface {
	Invalidate(ctx context.Context, id, reason string) (bool, error)
}

// TokenConfig defines signing material and lifetimes.
type TokenConfig struct {
	Secret          string
	Issuer          string
	Audience        string
	AccessDuration  time.Duration
	RefreshDuration time.Duration
	// ReuseGrace is how long after a rotation the consumed token is answered
	// with RefreshInvalid instead of replay handling. Zero disables it.
	ReuseGrace      time.Duration
}

// TokenService issues, rotates and verifies token pairs.
type TokenService struct {
	store    tokenStore
	users    tokenUserLookup
	sessions sessionInvalidator
	audit    auditSink
	metrics  *MetricsService
	clock    clock.Clock
	logger   *zap.Logger
	config   TokenConfig
	inflight flightSet
}

// NewTokenService constructs a TokenService.
func NewTokenService(store tokenStore, users tokenUserLookup, sessions sessionInvalidator, audit auditSink, metrics *MetricsService, clk clock.Clock, logger *zap.Logger, config TokenConfig) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.AccessDuration <= 0 {
		config.AccessDuration = 15 * time.Minute
	}
	if config.RefreshDuration <= 0 {
		config.RefreshDuration = 7 * 24 * time.Hour
	}
	if config.ReuseGrace < 0 {
		config.ReuseGrace = 0
	}
	return &TokenService{
		store:    store,
		users:    users,
		sessions: sessions,
		audit:    audit,
		metrics:  metrics,
		clock:    clock.OrReal(clk),
		logger:   logger,
		config:   config,
	}
}

// Issue mints a fresh pair for session. Any live refresh token of the session
// is revoked in the same transaction that stores the new one.
func (s *TokenService) Issue(ctx context.Context, session *models.Session, role models.UserRole) (*models.TokenPair, error) {
	now := s.clock.Now()
	secret, token, err := s.newRefreshToken(session.ID, now)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create refresh token")
	}
	if err := s.store.ReplaceRefreshToken(ctx, token, token.ExpiresAt); err != nil {
		return nil, appErrors.Internal(err, "failed to persist refresh token")
	}
	session.ExpiresAt = token.ExpiresAt

	return s.pair(session.UserID, session.ID, role, secret, token, now)
}

// Rotate exchanges a refresh token for a new pair scoped to the same session.
// Concurrent presenters of one value collapse to a single winner; the others
// get RefreshInvalid, including those arriving within ReuseGrace after the
// winner committed. Presenting a rotated value after that is treated as
// replay: the session is invalidated and RefreshReuseDetected returned.
func (s *TokenService) Rotate(ctx context.Context, presented string, meta models.RequestMeta) (*models.TokenPair, error) {
	if presented == "" {
		return nil, s.rotationFailed(RotationInvalid, "refresh token is required")
	}
	hash := security.HashRefreshToken(presented)
	if !s.inflight.TryAcquire(hash) {
		return nil, s.rotationFailed(RotationContended, "refresh token rotation already in progress")
	}
	defer s.inflight.Release(hash)

	stored, err := s.store.FindRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rotationFailed(RotationInvalid, "refresh token not recognised")
		}
		return nil, appErrors.Internal(err, "failed to load refresh token")
	}
	if !security.RefreshTokenHashEqual(presented, stored.TokenHash) {
		return nil, s.rotationFailed(RotationInvalid, "refresh token not recognised")
	}

	now := s.clock.Now()
	if stored.Revoked {
		if stored.RotatedWithin(s.config.ReuseGrace, now) {
			return nil, s.rotationFailed(RotationContended, "refresh token was just rotated by a parallel request")
		}
		return nil, s.handleReuse(ctx, stored, meta)
	}
	if !now.Before(stored.ExpiresAt) {
		return nil, s.rotationFailed(RotationInvalid, "refresh token expired")
	}

	session, err := s.store.FindSessionByID(ctx, stored.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rotationFailed(RotationInvalid, "session no longer exists")
		}
		return nil, appErrors.Internal(err, "failed to load session")
	}
	if !session.Live(now) {
		return nil, s.rotationFailed(RotationInvalid, "session is no longer active")
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rotationFailed(RotationInvalid, "session owner no longer exists")
		}
		return nil, appErrors.Internal(err, "failed to load user")
	}
	if !user.Active {
		s.metrics.RecordRotation(RotationInvalid)
		return nil, appErrors.Clone(appErrors.ErrAccountDisabled, "")
	}

	secret, next, err := s.newRefreshToken(session.ID, now)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create refresh token")
	}
	rotated, err := s.store.RotateRefreshToken(ctx, stored.ID, next, next.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.rotationFailed(RotationInvalid, "session is no longer active")
		}
		return nil, appErrors.Internal(err, "failed to rotate refresh token")
	}
	if !rotated {
		return nil, s.rotationFailed(RotationContended, "refresh token already rotated")
	}

	s.metrics.RecordRotation(RotationSuccess)
	return s.pair(user.ID, session.ID, user.Role, secret, next, now)
}

func (s *TokenService) handleReuse(ctx context.Context, stored *models.RefreshToken, meta models.RequestMeta) error {
	s.metrics.RecordRotation(RotationReuse)

	var userID string
	if session, err := s.store.FindSessionByID(ctx, stored.SessionID); err == nil {
		userID = session.UserID
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("failed to load session for reused refresh token", zap.String("session_id", stored.SessionID), zap.Error(err))
	}

	s.logger.Warn("refresh token reuse detected",
		zap.String("session_id", stored.SessionID),
		zap.String("user_id", userID),
		zap.String("ip", meta.IP))

	if _, err := s.sessions.Invalidate(ctx, stored.SessionID, ReasonRefreshReuse); err != nil {
		return err
	}

	s.audit.Record(ctx, auditEntry(models.AuditActionRefreshReuse, models.AuditResourceSession, userID, stored.SessionID, meta, false,
		fmt.Sprintf("revoked refresh token %s presented again; session invalidated", stored.ID)))

	return appErrors.Clone(appErrors.ErrRefreshReuseDetected, "")
}

func (s *TokenService) rotationFailed(result, message string) error {
	s.metrics.RecordRotation(result)
	return appErrors.Clone(appErrors.ErrRefreshInvalid, message)
}

// Verify validates an access token signature, issuer, audience and expiry
// against the injected clock. It never touches storage.
func (s *TokenService) Verify(tokenString string) (*models.AccessClaims, error) {
	claims := &models.AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.config.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.config.Issuer),
		jwt.WithAudience(s.config.Audience),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, appErrors.Wrap(err, appErrors.ErrAccessTokenExpired.Code, appErrors.ErrAccessTokenExpired.Status, appErrors.ErrAccessTokenExpired.Message)
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, appErrors.Wrap(err, appErrors.ErrAccessTokenSignature.Code, appErrors.ErrAccessTokenSignature.Status, appErrors.ErrAccessTokenSignature.Message)
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrAccessTokenMalformed.Code, appErrors.ErrAccessTokenMalformed.Status, appErrors.ErrAccessTokenMalformed.Message)
		}
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, appErrors.Clone(appErrors.ErrAccessTokenMalformed, "access token is missing identity claims")
	}
	return claims, nil
}

func (s *TokenService) newRefreshToken(sessionID string, now time.Time) (string, *models.RefreshToken, error) {
	secret, err := security.NewRefreshSecret()
	if err != nil {
		return "", nil, err
	}
	return secret, &models.RefreshToken{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		TokenHash: security.HashRefreshToken(secret),
		ExpiresAt: now.Add(s.config.RefreshDuration),
		CreatedAt: now,
	}, nil
}

func (s *TokenService) pair(userID, sessionID string, role models.UserRole, secret string, refresh *models.RefreshToken, now time.Time) (*models.TokenPair, error) {
	access, err := s.signAccess(userID, sessionID, role, now)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to create access token")
	}
	return &models.TokenPair{
		AccessToken:      access,
		RefreshToken:     secret,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.config.AccessDuration.Seconds()),
		RefreshExpiresAt: refresh.ExpiresAt,
		SessionID:        sessionID,
		UserID:           userID,
	}, nil
}

func (s *TokenService) signAccess(userID, sessionID string, role models.UserRole, issuedAt time.Time) (string, error) {
	claims := &models.AccessClaims{
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{s.config.Audience},
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(s.config.AccessDuration)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.config.Secret))
}
