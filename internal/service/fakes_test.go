package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/fintrack-api/internal/models"
	"github.com/noah-isme/fintrack-api/pkg/broadcast"
	"github.com/noah-isme/fintrack-api/pkg/clock"
	"github.com/noah-isme/fintrack-api/pkg/security"
)

// memoryStore is an in-memory stand-in for the Postgres repositories. Its
// single mutex plays the role of row locks and transactions.
type memoryStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	sessions map[string]*models.Session
	tokens   map[string]*models.RefreshToken
	audits   []models.AuditLog

	lockoutErr error
	auditErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.Session),
		tokens:   make(map[string]*models.RefreshToken),
	}
}

func (m *memoryStore) addUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memoryStore) user(id string) models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memoryStore) session(id string) (models.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.Session{}, false
	}
	return *s, true
}

func (m *memoryStore) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.audits))
	for _, a := range m.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

func (m *memoryStore) liveTokenCount(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.SessionID == sessionID && !t.Revoked {
			n++
		}
	}
	return n
}

func (m *memoryStore) FindByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryStore) FindByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (m *memoryStore) UpdateLastLogin(_ context.Context, id string, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.LastLogin = &ts
	}
	return nil
}

func (m *memoryStore) UpdatePassword(_ context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return sql.ErrNoRows
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = updatedAt
	return nil
}

func (m *memoryStore) UpdateLockout(_ context.Context, id string, mutate func(*models.LockoutState) (bool, error)) (models.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.LockoutState{}, sql.ErrNoRows
	}
	state := u.Lockout()
	changed, err := mutate(&state)
	if err != nil {
		return models.LockoutState{}, err
	}
	if changed {
		if m.lockoutErr != nil {
			return models.LockoutState{}, m.lockoutErr
		}
		u.ApplyLockout(state)
	}
	return state, nil
}

func (m *memoryStore) CreateSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *session
	m.sessions[session.ID] = &cp
	return nil
}

func (m *memoryStore) FindSessionByID(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *memoryStore) ListActiveSessions(_ context.Context, userID string, now time.Time) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.Live(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (m *memoryStore) FindLiveSessionsByDevice(_ context.Context, userID, deviceID string, now time.Time) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.UserID == userID && s.DeviceID == deviceID && s.Live(now) {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryStore) InvalidateSession(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	if s, ok := m.sessions[id]; ok && !s.Invalidated {
		s.Invalidated = true
		s.InvalidatedAt = &at
		changed = true
	}
	for _, t := range m.tokens {
		if t.SessionID == id && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &at
		}
	}
	return changed, nil
}

func (m *memoryStore) TouchSession(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok && !s.Invalidated && s.LastActivity.Before(at) {
		s.LastActivity = at
	}
	return nil
}

func (m *memoryStore) DeleteExpiredSessions(_ context.Context, before time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.sessions {
		if !s.ExpiresAt.After(before) {
			ids = append(ids, id)
			delete(m.sessions, id)
			for tid, t := range m.tokens {
				if t.SessionID == id {
					delete(m.tokens, tid)
				}
			}
		}
	}
	return ids, nil
}

func (m *memoryStore) ReplaceRefreshToken(_ context.Context, token *models.RefreshToken, sessionExpiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token.SessionID]
	if !ok || s.Invalidated {
		return fmt.Errorf("extend session: %w", sql.ErrNoRows)
	}
	for _, t := range m.tokens {
		if t.SessionID == token.SessionID && !t.Revoked {
			t.Revoked = true
			at := token.CreatedAt
			t.RevokedAt = &at
		}
	}
	cp := *token
	m.tokens[token.ID] = &cp
	s.ExpiresAt = sessionExpiresAt
	return nil
}

func (m *memoryStore) FindRefreshTokenByHash(_ context.Context, hash string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memoryStore) RotateRefreshToken(_ context.Context, currentID string, next *models.RefreshToken, sessionExpiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tokens[currentID]
	if !ok || cur.Revoked {
		return false, nil
	}
	s, ok := m.sessions[next.SessionID]
	if !ok || s.Invalidated {
		return false, fmt.Errorf("extend session: %w", sql.ErrNoRows)
	}
	cur.Revoked = true
	at := next.CreatedAt
	cur.RevokedAt = &at
	replacement := next.ID
	cur.ReplacedBy = &replacement
	cp := *next
	m.tokens[next.ID] = &cp
	s.ExpiresAt = sessionExpiresAt
	s.LastActivity = next.CreatedAt
	return true, nil
}

func (m *memoryStore) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.auditErr != nil {
		return m.auditErr
	}
	m.audits = append(m.audits, *log)
	return nil
}

var testStart = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

const testPassword = "correct-horse"

const testReuseGrace = 10 * time.Second

type testEnv struct {
	store    *memoryStore
	clock    *clock.Fake
	vault    *security.PasswordVault
	audit    *AuditService
	guard    *LoginGuard
	registry *SessionRegistry
	tokens   *TokenService
	auth     *AuthService
	sessions *SessionService
	admin    *AdminService
}

type envOption func(*LoginGuardConfig, *SessionRegistryConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	store := newMemoryStore()
	clk := clock.NewFake(testStart)
	vault := security.NewPasswordVault(bcrypt.MinCost)

	guardCfg := LoginGuardConfig{MaxFailedAttempts: 5, TempBanDuration: 15 * time.Minute, MaxTempBans: 3, AutoUnlockEnabled: true}
	regCfg := SessionRegistryConfig{
		RefreshDuration: 24 * time.Hour,
		WaitTimeout:     2 * time.Second,
		MaxWaitTimeout:  5 * time.Second,
		TouchInterval:   time.Minute,
		SweepInterval:   time.Hour,
		TombstoneTTL:    2 * time.Minute,
	}
	for _, opt := range opts {
		opt(&guardCfg, &regCfg)
	}

	audit := NewAuditService(store, clk, nil)
	guard := NewLoginGuard(store, guardCfg, clk, nil, nil)
	registry := NewSessionRegistry(store, broadcast.NewLocal(), audit, nil, clk, nil, regCfg)
	t.Cleanup(registry.Close)
	tokens := NewTokenService(store, store, registry, audit, nil, clk, nil, TokenConfig{
		Secret:          "test-secret",
		Issuer:          "fintrack-api",
		Audience:        "fintrack-web",
		AccessDuration:  15 * time.Minute,
		RefreshDuration: regCfg.RefreshDuration,
		ReuseGrace:      testReuseGrace,
	})

	return &testEnv{
		store:    store,
		clock:    clk,
		vault:    vault,
		audit:    audit,
		guard:    guard,
		registry: registry,
		tokens:   tokens,
		auth:     NewAuthService(store, vault, guard, tokens, registry, audit, nil, nil, clk, nil),
		sessions: NewSessionService(registry, audit, nil),
		admin:    NewAdminService(store, guard, registry, audit, nil),
	}
}

func (e *testEnv) addUser(t *testing.T, id, username string) *models.User {
	t.Helper()
	digest, err := e.vault.Hash(testPassword)
	require.NoError(t, err)
	u := &models.User{ID: id, Username: username, Email: username + "@example.com", PasswordHash: digest, Role: models.RoleUser, Active: true, CreatedAt: testStart, UpdatedAt: testStart}
	e.store.addUser(u)
	cp := *u
	return &cp
}

func (e *testEnv) login(t *testing.T, username, deviceID string) *models.LoginResponse {
	t.Helper()
	res, err := e.auth.Login(context.Background(), models.LoginRequest{Username: username, Password: testPassword, DeviceID: deviceID, IP: "10.0.0.1", UserAgent: "test-agent"})
	require.NoError(t, err)
	return res
}

func claimsFor(res *models.LoginResponse) *models.AccessClaims {
	return &models.AccessClaims{UserID: res.User.ID, SessionID: res.SessionID, Role: res.User.Role}
}
