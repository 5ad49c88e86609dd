package service

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-api/internal/models"
	"github.com/noah-isme/fintrack-api/pkg/clock"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
)

type lockoutStore interface {
	UpdateLockout(ctx context.Context, id string, mutate func(*models.LockoutState) (bool, error)) (models.LockoutState, error)
}

// LoginGuardConfig holds the escalation thresholds.
type LoginGuardConfig struct {
	MaxFailedAttempts int
	TempBanDuration   time.Duration
	MaxTempBans       int
	AutoUnlockEnabled bool
}

// LoginGuard is the per-credential failed-login state machine:
// Free -> TempLocked -> PermanentlyLocked. Counter mutations for one
// credential are serialized in process and by a row lock in the store.
type LoginGuard struct {
	store   lockoutStore
	config  LoginGuardConfig
	clock   clock.Clock
	metrics *MetricsService
	logger  *zap.Logger
	locks   keyedMutex
}

// NewLoginGuard constructs a LoginGuard. Non-positive thresholds fall back to 5 attempts, 15 minutes and 3 bans.
func NewLoginGuard(store lockoutStore, config LoginGuardConfig, clk clock.Clock, metrics *MetricsService, logger *zap.Logger) *LoginGuard {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxFailedAttempts <= 0 {
		config.MaxFailedAttempts = 5
	}
	if config.TempBanDuration <= 0 {
		config.TempBanDuration = 15 * time.Minute
	}
	if config.MaxTempBans <= 0 {
		config.MaxTempBans = 3
	}
	return &LoginGuard{store: store, config: config, clock: clock.OrReal(clk), metrics: metrics, logger: logger}
}

// Evaluate computes the lock decision for state at now without side effects.
func (g *LoginGuard) Evaluate(state models.LockoutState, now time.Time) models.LockDecision {
	if state.PermanentlyLocked {
		return models.LockDecision{State: models.LockStatePermanentlyLocked}
	}
	if state.LockedUntil == nil {
		return models.LockDecision{State: models.LockStateFree}
	}
	until := *state.LockedUntil
	if now.Before(until) {
		return models.LockDecision{State: models.LockStateTempLocked, Remaining: until.Sub(now), LockedUntil: &until}
	}
	if !g.config.AutoUnlockEnabled {
		return models.LockDecision{State: models.LockStateTempLocked, LockedUntil: &until}
	}
	return models.LockDecision{State: models.LockStateFree}
}

// Status evaluates user's lockout fields at the current time without side effects.
func (g *LoginGuard) Status(user *models.User) models.LockDecision {
	return g.Evaluate(user.Lockout(), g.clock.Now())
}

// CheckAccess reports whether user may attempt a login. With auto-unlock
// enabled an elapsed temp lock is cleared in the store as a side effect.
func (g *LoginGuard) CheckAccess(ctx context.Context, user *models.User) (models.LockDecision, error) {
	now := g.clock.Now()
	decision := g.Evaluate(user.Lockout(), now)
	if decision.Locked() || user.LockedUntil == nil {
		return decision, nil
	}

	unlock := g.locks.Lock(user.ID)
	defer unlock()

	state, err := g.store.UpdateLockout(ctx, user.ID, func(s *models.LockoutState) (bool, error) {
		if s.PermanentlyLocked || s.LockedUntil == nil || now.Before(*s.LockedUntil) {
			return false, nil
		}
		s.LockedUntil = nil
		return true, nil
	})
	if err != nil {
		return models.LockDecision{}, g.storeError(err, "failed to clear expired lock")
	}
	user.ApplyLockout(state)
	return g.Evaluate(state, now), nil
}

// RecordFailure counts a failed password check. Reaching MaxFailedAttempts
// starts a temp ban; reaching MaxTempBans bans escalates to a permanent lock.
// Failures while a lock is in force leave the counters untouched.
func (g *LoginGuard) RecordFailure(ctx context.Context, user *models.User) (models.LockDecision, error) {
	unlock := g.locks.Lock(user.ID)
	defer unlock()

	now := g.clock.Now()
	escalation := ""
	state, err := g.store.UpdateLockout(ctx, user.ID, func(s *models.LockoutState) (bool, error) {
		escalation = ""
		if g.Evaluate(*s, now).Locked() {
			return false, nil
		}
		s.LockedUntil = nil
		s.FailedAttempts++
		if s.FailedAttempts < g.config.MaxFailedAttempts {
			return true, nil
		}

		s.FailedAttempts = 0
		s.TempBansCount++
		if s.TempBansCount >= g.config.MaxTempBans {
			s.PermanentlyLocked = true
			escalation = LockoutPermanent
			return true, nil
		}
		until := now.Add(g.config.TempBanDuration)
		s.LockedUntil = &until
		escalation = LockoutTemporary
		return true, nil
	})
	if err != nil {
		return models.LockDecision{}, g.storeError(err, "failed to record failed login")
	}
	user.ApplyLockout(state)

	decision := g.Evaluate(state, now)
	if escalation != "" {
		decision.Escalated = true
		g.metrics.RecordLockout(escalation)
		g.logger.Warn("account locked",
			zap.String("user_id", user.ID),
			zap.String("kind", escalation),
			zap.Int("temp_bans", state.TempBansCount))
	}
	return decision, nil
}

// RecordSuccess resets the failed-attempt counter. Temp ban history and a
// permanent lock are left as they are. The lock is re-evaluated under the row
// lock, so a success racing the failure that locked the account returns the
// lock error instead.
func (g *LoginGuard) RecordSuccess(ctx context.Context, user *models.User) error {
	unlock := g.locks.Lock(user.ID)
	defer unlock()

	now := g.clock.Now()
	var decision models.LockDecision
	state, err := g.store.UpdateLockout(ctx, user.ID, func(s *models.LockoutState) (bool, error) {
		decision = g.Evaluate(*s, now)
		if decision.Locked() || s.FailedAttempts == 0 {
			return false, nil
		}
		s.FailedAttempts = 0
		return true, nil
	})
	if err != nil {
		return g.storeError(err, "failed to reset failed logins")
	}
	user.ApplyLockout(state)
	if decision.Locked() {
		return LockError(decision)
	}
	return nil
}

// AdminUnlock clears every lock field. tempBansCount is reset only when resetTempBans is set.
func (g *LoginGuard) AdminUnlock(ctx context.Context, user *models.User, resetTempBans bool) (models.LockoutState, error) {
	unlock := g.locks.Lock(user.ID)
	defer unlock()

	state, err := g.store.UpdateLockout(ctx, user.ID, func(s *models.LockoutState) (bool, error) {
		s.FailedAttempts = 0
		s.LockedUntil = nil
		s.PermanentlyLocked = false
		if resetTempBans {
			s.TempBansCount = 0
		}
		return true, nil
	})
	if err != nil {
		return models.LockoutState{}, g.storeError(err, "failed to unlock account")
	}
	user.ApplyLockout(state)
	return state, nil
}

func (g *LoginGuard) storeError(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	return appErrors.Internal(err, message)
}

// LockError converts a locking decision into the user-visible error.
func LockError(decision models.LockDecision) error {
	switch decision.State {
	case models.LockStatePermanentlyLocked:
		return appErrors.Clone(appErrors.ErrAccountPermanentlyLocked, "account is permanently locked; contact an administrator")
	case models.LockStateTempLocked:
		details := map[string]interface{}{
			"remaining_seconds": int64(math.Ceil(decision.Remaining.Seconds())),
		}
		if decision.LockedUntil != nil {
			details["locked_until"] = decision.LockedUntil.UTC().Format(time.RFC3339)
		}
		return appErrors.WithDetails(appErrors.ErrAccountTempLocked, details)
	default:
		return nil
	}
}
