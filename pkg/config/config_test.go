package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/api", cfg.APIPrefix)
	assert.Equal(t, 5, cfg.Auth.MaxFailedAttempts)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TempBanDuration)
	assert.Equal(t, 3, cfg.Auth.MaxTempBans)
	assert.True(t, cfg.Auth.AutoUnlockEnabled)
	assert.Equal(t, 35*time.Second, cfg.Session.WaitTimeout)
	assert.Equal(t, 10*time.Second, cfg.Auth.RefreshReuseGrace)
	assert.Equal(t, BusNone, cfg.Bus.Driver)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOGIN_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("LOGIN_TEMP_BAN_DURATION", "5m")
	t.Setenv("LOGIN_AUTO_UNLOCK", "false")
	t.Setenv("SESSION_WAIT_TIMEOUT", "90s")
	t.Setenv("SESSION_MAX_WAIT_TIMEOUT", "30s")
	t.Setenv("INVALIDATION_BUS", "Redis")
	t.Setenv("REFRESH_REUSE_GRACE", "3s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Auth.MaxFailedAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Auth.TempBanDuration)
	assert.False(t, cfg.Auth.AutoUnlockEnabled)
	assert.Equal(t, 90*time.Second, cfg.Session.MaxWaitTimeout)
	assert.Equal(t, BusRedis, cfg.Bus.Driver)
	assert.Equal(t, 3*time.Second, cfg.Auth.RefreshReuseGrace)
}

func TestLoadRejectsUnknownBus(t *testing.T) {
	t.Setenv("INVALIDATION_BUS", "kafka")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresSecretInProduction(t *testing.T) {
	t.Setenv("ENV", EnvProduction)

	_, err := Load()
	require.Error(t, err)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("nope", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("-5s", time.Minute))
	assert.Equal(t, 2*time.Second, parseDuration("2s", time.Minute))
}

func TestDatabaseURL(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Name: "fintrack", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/fintrack?sslmode=disable", db.URL())
	assert.Contains(t, db.DSN(), "dbname=fintrack")
}
