package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fintrack-api/internal/models"
	appErrors "github.com/noah-isme/fintrack-api/pkg/errors"
)

func TestSessionServiceListFlagsCurrent(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	laptop := env.login(t, "alice", "laptop")
	env.clock.Advance(time.Minute)
	phone := env.login(t, "alice", "phone")

	views, err := env.sessions.List(context.Background(), claimsFor(laptop))
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, phone.SessionID, views[0].ID)
	assert.False(t, views[0].Current)
	assert.Equal(t, laptop.SessionID, views[1].ID)
	assert.True(t, views[1].Current)
}

func TestSessionServiceRevoke(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	env.addUser(t, "u2", "bob")
	alice := env.login(t, "alice", "laptop")
	alicePhone := env.login(t, "alice", "phone")
	bob := env.login(t, "bob", "laptop")
	ctx := context.Background()

	err := env.sessions.Revoke(ctx, claimsFor(alice), bob.SessionID, models.RequestMeta{})
	assert.True(t, errors.Is(err, appErrors.ErrSessionNotFound))
	s, _ := env.store.session(bob.SessionID)
	assert.False(t, s.Invalidated)

	err = env.sessions.Revoke(ctx, claimsFor(alice), "missing", models.RequestMeta{})
	assert.True(t, errors.Is(err, appErrors.ErrSessionNotFound))

	require.NoError(t, env.sessions.Revoke(ctx, claimsFor(alice), alicePhone.SessionID, models.RequestMeta{}))
	s, _ = env.store.session(alicePhone.SessionID)
	assert.True(t, s.Invalidated)
	assert.Contains(t, env.store.auditActions(), models.AuditActionSessionRevoke)
}

func TestSessionServiceRevokeAll(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	laptop := env.login(t, "alice", "laptop")
	env.login(t, "alice", "phone")
	env.login(t, "alice", "tablet")
	ctx := context.Background()

	n, err := env.sessions.RevokeAll(ctx, claimsFor(laptop), true, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	views, err := env.sessions.List(ctx, claimsFor(laptop))
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Current)

	n, err = env.sessions.RevokeAll(ctx, claimsFor(laptop), false, models.RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	views, err = env.sessions.List(ctx, claimsFor(laptop))
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestSessionServiceWait(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, "u1", "alice")
	env.addUser(t, "u2", "bob")
	laptop := env.login(t, "alice", "laptop")
	phone := env.login(t, "alice", "phone")
	bob := env.login(t, "bob", "laptop")
	ctx := context.Background()

	_, err := env.sessions.Wait(ctx, claimsFor(bob), laptop.SessionID, time.Second)
	assert.True(t, errors.Is(err, appErrors.ErrSessionNotFound))

	result := make(chan *models.WaitResult, 1)
	go func() {
		res, err := env.sessions.Wait(ctx, claimsFor(laptop), phone.SessionID, 5*time.Second)
		if err == nil {
			result <- res
		}
		close(result)
	}()

	require.Eventually(t, func() bool { return env.registry.Waiters() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, env.sessions.Revoke(ctx, claimsFor(laptop), phone.SessionID, models.RequestMeta{}))

	select {
	case res := <-result:
		require.NotNil(t, res)
		assert.True(t, res.Invalidated)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released")
	}

	res, err := env.sessions.Wait(ctx, claimsFor(laptop), laptop.SessionID, 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, res.Invalidated)
}
