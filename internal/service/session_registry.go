package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/fintrack-api/internal/models"
	"github.com/noah-isme/fintrack-api/pkg/broadcast"
	"github.com/noah-isme/fintrack-api/pkg/clock"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
)

// Invalidation reasons, used as metric labels and log fields.
const (
	ReasonLogout         = "logout"
	ReasonRevoked        = "revoked"
	ReasonRevokeAll      = "revoke_all"
	ReasonSuperseded     = "superseded"
	ReasonRefreshReuse   = "refresh_reuse"
	ReasonPasswordChange = "password_change"
	ReasonAdmin          = "admin"
	ReasonExpired        = "expired"
)

type sessionStore interface {
	CreateSession(ctx context.Context, session *models.Session) error
	FindSessionByID(ctx context.Context, id string) (*models.Session, error)
	ListActiveSessions(ctx context.Context, userID string, now time.Time) ([]models.Session, error)
	FindLiveSessionsByDevice(ctx context.Context, userID, deviceID string, now time.Time) ([]models.Session, error)
	InvalidateSession(ctx context.Context, id string, at time.Time) (bool, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeleteExpiredSessions(ctx context.Context, before time.Time) ([]string, error)
}

// SessionRegistryConfig tunes lifetimes and long-poll behaviour.
type SessionRegistryConfig struct {
	RefreshDuration time.Duration
	WaitTimeout     time.Duration
	MaxWaitTimeout  time.Duration
	TouchInterval   time.Duration
	SweepInterval   time.Duration
	TombstoneTTL    time.Duration
}

type cachedSession struct {
	mu        sync.Mutex
	session   models.Session
	loadedAt  time.Time
	touchedAt time.Time
}

// SessionRegistry is the process-scoped directory of device sessions. The
// store is the source of truth; memory holds a short-lived read cache and the
// per-session wait-sets used by long-poll waiters.
type SessionRegistry struct {
	store   sessionStore
	channel *InvalidationChannel
	bus     broadcast.Bus
	audit   auditSink
	metrics *MetricsService
	clock   clock.Clock
	logger  *zap.Logger
	config  SessionRegistryConfig

	cache     sync.Map // session id -> *cachedSession
	deviceMu  keyedMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	closeOnce sync.Once
}

// NewSessionRegistry constructs a registry. A nil bus disables cross-instance fan-out.
func NewSessionRegistry(store sessionStore, bus broadcast.Bus, audit auditSink, metrics *MetricsService, clk clock.Clock, logger *zap.Logger, config SessionRegistryConfig) *SessionRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = broadcast.Noop{}
	}
	if config.RefreshDuration <= 0 {
		config.RefreshDuration = 7 * 24 * time.Hour
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = 35 * time.Second
	}
	if config.MaxWaitTimeout < config.WaitTimeout {
		config.MaxWaitTimeout = config.WaitTimeout
	}
	if config.TouchInterval <= 0 {
		config.TouchInterval = time.Minute
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 10 * time.Minute
	}
	if config.TombstoneTTL <= 0 {
		config.TombstoneTTL = 2 * time.Minute
	}
	clk = clock.OrReal(clk)
	return &SessionRegistry{
		store:   store,
		channel: NewInvalidationChannel(clk),
		bus:     bus,
		audit:   audit,
		metrics: metrics,
		clock:   clk,
		logger:  logger,
		config:  config,
	}
}

// Register stores a new session for (session.UserID, session.DeviceID) and
// supersedes any other live session bound to the same device.
func (r *SessionRegistry) Register(ctx context.Context, session *models.Session, meta models.RequestMeta) (string, error) {
	unlock := r.deviceMu.Lock(session.UserID + "\x00" + session.DeviceID)
	defer unlock()

	now := r.clock.Now()
	session.ID = uuid.NewString()
	session.CreatedAt = now
	session.LastActivity = now
	session.ExpiresAt = now.Add(r.config.RefreshDuration)
	session.Invalidated = false
	session.InvalidatedAt = nil

	previous, err := r.store.FindLiveSessionsByDevice(ctx, session.UserID, session.DeviceID, now)
	if err != nil {
		return "", appErrors.Internal(err, "failed to look up device sessions")
	}
	if err := r.store.CreateSession(ctx, session); err != nil {
		return "", appErrors.Internal(err, "failed to create session")
	}
	r.remember(session, now)

	for _, old := range previous {
		if _, err := r.Invalidate(ctx, old.ID, ReasonSuperseded); err != nil {
			return "", err
		}
		r.audit.Record(ctx, auditEntry(models.AuditActionSessionSuperseded, models.AuditResourceSession, session.UserID, old.ID, meta, true,
			"replaced by session "+session.ID+" on device "+session.DeviceID))
	}

	r.logger.Sugar().Infow("session registered", "session_id", session.ID, "user_id", session.UserID, "device_id", session.DeviceID)
	return session.ID, nil
}

// List returns the live sessions of userID, most recent activity first.
func (r *SessionRegistry) List(ctx context.Context, userID string) ([]models.Session, error) {
	sessions, err := r.store.ListActiveSessions(ctx, userID, r.clock.Now())
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list sessions")
	}
	return sessions, nil
}

// Get returns a session, serving recent reads from memory.
func (r *SessionRegistry) Get(ctx context.Context, id string) (*models.Session, error) {
	now := r.clock.Now()
	if v, ok := r.cache.Load(id); ok {
		entry := v.(*cachedSession)
		entry.mu.Lock()
		fresh := now.Sub(entry.loadedAt) < r.config.TouchInterval
		session := entry.session
		entry.mu.Unlock()
		if fresh {
			if r.channel.Invalidated(id) {
				session.Invalidated = true
			}
			return &session, nil
		}
	}

	session, err := r.store.FindSessionByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.cache.Delete(id)
			return nil, appErrors.Clone(appErrors.ErrSessionNotFound, "")
		}
		return nil, appErrors.Internal(err, "failed to load session")
	}
	r.remember(session, now)
	return session, nil
}

// Touch records activity on a session, writing to the store at most once per TouchInterval.
func (r *SessionRegistry) Touch(ctx context.Context, id string) {
	v, ok := r.cache.Load(id)
	if !ok {
		return
	}
	entry := v.(*cachedSession)
	now := r.clock.Now()

	entry.mu.Lock()
	if entry.session.Invalidated || now.Sub(entry.touchedAt) < r.config.TouchInterval {
		entry.mu.Unlock()
		return
	}
	entry.touchedAt = now
	entry.session.LastActivity = now
	entry.mu.Unlock()

	if err := r.store.TouchSession(ctx, id, now); err != nil {
		r.logger.Warn("failed to record session activity", zap.String("session_id", id), zap.Error(err))
	}
}

// Invalidate marks a session invalidated, revokes its refresh tokens and wakes
// every waiter. It is idempotent; changed reports whether this call ended the session.
func (r *SessionRegistry) Invalidate(ctx context.Context, id, reason string) (bool, error) {
	now := r.clock.Now()
	changed, err := r.store.InvalidateSession(ctx, id, now)
	if err != nil {
		return false, appErrors.Internal(err, "failed to invalidate session")
	}
	r.markInvalidated(id, now)
	woken := r.channel.Wake(id)

	if err := r.bus.Publish(ctx, id); err != nil {
		r.logger.Warn("failed to publish session invalidation", zap.String("session_id", id), zap.Error(err))
	}

	if changed {
		r.metrics.RecordInvalidation(reason)
		r.logger.Sugar().Infow("session invalidated", "session_id", id, "reason", reason, "waiters_woken", woken)
	}
	return changed, nil
}

// InvalidateAll invalidates every live session of userID except exceptID and
// returns the ids that were ended.
func (r *SessionRegistry) InvalidateAll(ctx context.Context, userID, exceptID, reason string) ([]string, error) {
	sessions, err := r.store.ListActiveSessions(ctx, userID, r.clock.Now())
	if err != nil {
		return nil, appErrors.Internal(err, "failed to list sessions")
	}
	ended := make([]string, 0, len(sessions))
	for _, session := range sessions {
		if session.ID == exceptID {
			continue
		}
		changed, err := r.Invalidate(ctx, session.ID, reason)
		if err != nil {
			return ended, err
		}
		if changed {
			ended = append(ended, session.ID)
		}
	}
	return ended, nil
}

// WaitForInvalidation blocks until the session is invalidated or timeout
// elapses. A zero timeout means the configured default; longer requests are
// clamped. ownerID, when set, must own the session. Durable state is re-read
// on every call so an invalidation missed by the bus costs at most one poll.
func (r *SessionRegistry) WaitForInvalidation(ctx context.Context, id, ownerID string, timeout time.Duration) (bool, error) {
	switch {
	case timeout <= 0:
		timeout = r.config.WaitTimeout
	case timeout > r.config.MaxWaitTimeout:
		timeout = r.config.MaxWaitTimeout
	}

	session, err := r.store.FindSessionByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, appErrors.Clone(appErrors.ErrSessionNotFound, "")
		}
		return false, appErrors.Internal(err, "failed to load session")
	}
	if ownerID != "" && session.UserID != ownerID {
		return false, appErrors.Clone(appErrors.ErrSessionNotFound, "")
	}
	if !session.Live(r.clock.Now()) {
		return true, nil
	}

	invalidated, err := r.channel.Park(ctx, id, timeout)
	if err != nil {
		return false, err
	}
	return invalidated, nil
}

// Sweep deletes expired sessions, releases their waiters and forgets
// invalidation marks older than TombstoneTTL.
func (r *SessionRegistry) Sweep(ctx context.Context) (int, error) {
	now := r.clock.Now()
	ids, err := r.store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return 0, appErrors.Internal(err, "failed to sweep sessions")
	}
	for _, id := range ids {
		r.channel.Wake(id)
		r.cache.Delete(id)
		r.metrics.RecordInvalidation(ReasonExpired)
	}

	pruned := r.channel.Prune(now.Add(-r.config.TombstoneTTL))
	r.cache.Range(func(key, value interface{}) bool {
		entry := value.(*cachedSession)
		entry.mu.Lock()
		stale := now.Sub(entry.loadedAt) >= r.config.TouchInterval && now.Sub(entry.touchedAt) >= r.config.TouchInterval
		entry.mu.Unlock()
		if stale {
			r.cache.Delete(key)
		}
		return true
	})

	if len(ids) > 0 || pruned > 0 {
		r.logger.Sugar().Infow("session sweep", "expired", len(ids), "tombstones_pruned", pruned)
	}
	return len(ids), nil
}

// Waiters reports the number of parked long-poll callers.
func (r *SessionRegistry) Waiters() int64 {
	return r.channel.Waiters()
}

// Start launches the expiry sweeper and the invalidation bus subscription.
func (r *SessionRegistry) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		r.wg.Add(2)
		go r.sweepLoop(ctx)
		go r.subscribeLoop(ctx)
	})
}

// Close stops background work and releases parked waiters with a negative
// result so clients reconnect elsewhere. Sessions are already durable.
func (r *SessionRegistry) Close() {
	r.closeOnce.Do(func() {
		r.channel.Close()
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

func (r *SessionRegistry) sweepLoop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.logger.Warn("session sweep failed", zap.Error(err))
			}
		}
	}
}

func (r *SessionRegistry) subscribeLoop(ctx context.Context) {
	defer r.wg.Done()
	backoff := time.Second
	for {
		err := r.bus.Subscribe(ctx, r.onRemoteInvalidation)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			r.logger.Warn("invalidation bus subscription failed", zap.Error(err), zap.Duration("retry_in", backoff))
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (r *SessionRegistry) onRemoteInvalidation(id string) {
	r.markInvalidated(id, r.clock.Now())
	r.channel.Wake(id)
}

func (r *SessionRegistry) remember(session *models.Session, now time.Time) {
	entry := &cachedSession{session: *session, loadedAt: now, touchedAt: session.LastActivity}
	r.cache.Store(session.ID, entry)
}

func (r *SessionRegistry) markInvalidated(id string, at time.Time) {
	v, ok := r.cache.Load(id)
	if !ok {
		return
	}
	entry := v.(*cachedSession)
	entry.mu.Lock()
	if !entry.session.Invalidated {
		entry.session.Invalidated = true
		entry.session.InvalidatedAt = &at
	}
	entry.mu.Unlock()
}
