package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fintrack-api/internal/models"
	"github.com/noah-isme/fintrack-api/pkg/broadcast"
	"github.com/noah-isme/fintrack-api/pkg/clock"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
)

func TestInvalidateWakesParkedWaiters(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	res := env.login(t, "alice", "laptop")

	const waiters = 5
	results := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			ok, err := env.registry.WaitForInvalidation(context.Background(), res.SessionID, "u1", 5*time.Second)
			assert.NoError(t, err)
			results <- ok
		}()
	}
	require.Eventually(t, func() bool { return env.registry.Waiters() == waiters }, time.Second, time.Millisecond)

	changed, err := env.registry.Invalidate(context.Background(), res.SessionID, ReasonRevoked)
	require.NoError(t, err)
	assert.True(t, changed)

	deadline := time.After(time.Second)
	for i := 0; i < waiters; i++ {
		select {
		case ok := <-results:
			assert.True(t, ok)
		case <-deadline:
			t.Fatal("waiter not woken within 1s")
		}
	}

	ok, err := env.registry.WaitForInvalidation(context.Background(), res.SessionID, "u1", 5*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	changed, err = env.registry.Invalidate(context.Background(), res.SessionID, ReasonRevoked)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestWaitForInvalidationTimesOut(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	res := env.login(t, "alice", "laptop")

	ok, err := env.registry.WaitForInvalidation(context.Background(), res.SessionID, "u1", 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, env.registry.Waiters())
}

func TestWaitForInvalidationUnknownOrForeignSession(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	env.addUser(t, "u2", "bob")
	res := env.login(t, "alice", "laptop")

	_, err := env.registry.WaitForInvalidation(context.Background(), "missing", "u1", time.Second)
	assert.True(t, errors.Is(err, appErrors.ErrSessionNotFound))

	_, err = env.registry.WaitForInvalidation(context.Background(), res.SessionID, "u2", time.Second)
	assert.True(t, errors.Is(err, appErrors.ErrSessionNotFound))
}

func TestExpiredSessionReportsInvalidatedUntilSwept(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	res := env.login(t, "alice", "laptop")

	env.clock.Advance(25 * time.Hour)
	ok, err := env.registry.WaitForInvalidation(context.Background(), res.SessionID, "u1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	swept, err := env.registry.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	_, err = env.registry.WaitForInvalidation(context.Background(), res.SessionID, "u1", time.Second)
	assert.True(t, errors.Is(err, appErrors.ErrSessionNotFound))
}

func TestRegisterSupersedesSameDevice(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	first := env.login(t, "alice", "laptop")
	second := env.login(t, "alice", "laptop")
	other := env.login(t, "alice", "phone")

	old, ok := env.store.session(first.SessionID)
	require.True(t, ok)
	assert.True(t, old.Invalidated)
	assert.Contains(t, env.store.auditActions(), models.AuditActionSessionSuperseded)

	sessions, err := env.registry.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	ids := []string{sessions[0].ID, sessions[1].ID}
	assert.ElementsMatch(t, []string{second.SessionID, other.SessionID}, ids)
}

func TestListOrdersByRecentActivity(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	first := env.login(t, "alice", "laptop")
	env.clock.Advance(time.Minute)
	second := env.login(t, "alice", "phone")

	sessions, err := env.registry.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.SessionID, sessions[0].ID)

	env.clock.Advance(2 * time.Minute)
	_, err = env.registry.Get(context.Background(), first.SessionID)
	require.NoError(t, err)
	env.registry.Touch(context.Background(), first.SessionID)

	sessions, err = env.registry.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, sessions[0].ID)
}

func TestTouchIsThrottled(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	res := env.login(t, "alice", "laptop")

	env.clock.Advance(30 * time.Second)
	env.registry.Touch(context.Background(), res.SessionID)
	session, _ := env.store.session(res.SessionID)
	assert.Equal(t, testStart, session.LastActivity)

	env.clock.Advance(31 * time.Second)
	env.registry.Touch(context.Background(), res.SessionID)
	session, _ = env.store.session(res.SessionID)
	assert.Equal(t, testStart.Add(61*time.Second), session.LastActivity)
}

func TestInvalidateAllSparesException(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	keep := env.login(t, "alice", "laptop")
	drop1 := env.login(t, "alice", "phone")
	drop2 := env.login(t, "alice", "tablet")

	ended, err := env.registry.InvalidateAll(context.Background(), "u1", keep.SessionID, ReasonRevokeAll)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{drop1.SessionID, drop2.SessionID}, ended)

	kept, _ := env.store.session(keep.SessionID)
	assert.False(t, kept.Invalidated)
}

func TestRemoteInvalidationWakesLocalWaiter(t *testing.T) {
	store := newMemoryStore()
	clk := clock.NewFake(testStart)
	bus := broadcast.NewLocal()
	audit := NewAuditService(store, clk, nil)
	cfg := SessionRegistryConfig{RefreshDuration: time.Hour, WaitTimeout: 5 * time.Second, MaxWaitTimeout: 5 * time.Second}

	instanceA := NewSessionRegistry(store, bus, audit, nil, clk, nil, cfg)
	instanceB := NewSessionRegistry(store, bus, audit, nil, clk, nil, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	instanceB.Start(ctx)
	defer instanceB.Close()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, time.Millisecond)

	id, err := instanceA.Register(ctx, &models.Session{UserID: "u1", DeviceID: "d1"}, models.RequestMeta{})
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() {
		ok, _ := instanceB.WaitForInvalidation(ctx, id, "u1", 5*time.Second)
		done <- ok
	}()
	require.Eventually(t, func() bool { return instanceB.Waiters() == 1 }, time.Second, time.Millisecond)

	_, err = instanceA.Invalidate(ctx, id, ReasonRevoked)
	require.NoError(t, err)

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("remote invalidation did not reach waiter")
	}
}

func TestCloseReleasesRegistryWaiters(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	res := env.login(t, "alice", "laptop")

	done := make(chan bool, 1)
	go func() {
		ok, _ := env.registry.WaitForInvalidation(context.Background(), res.SessionID, "u1", 5*time.Second)
		done <- ok
	}()
	require.Eventually(t, func() bool { return env.registry.Waiters() == 1 }, time.Second, time.Millisecond)

	env.registry.Close()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("close did not release waiter")
	}
}
