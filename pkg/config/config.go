package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Invalidation bus drivers.
const (
	BusNone  = "none"
	BusRedis = "redis"
	BusNATS  = "nats"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	NATS     NATSConfig
	JWT      JWTConfig
	Auth     AuthConfig
	Session  SessionConfig
	Bus      BusConfig
	Audit    AuditConfig
	CORS     CORSConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN returns the lib/pq keyword connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// URL returns the postgres:// form expected by golang-migrate.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type NATSConfig struct {
	URL  string
	Name string
}

type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// AuthConfig holds the login-abuse thresholds and token lifetimes.
type AuthConfig struct {
	MaxFailedAttempts int
	TempBanDuration   time.Duration
	MaxTempBans       int
	AutoUnlockEnabled bool
	AccessDuration    time.Duration
	RefreshDuration   time.Duration
	RefreshReuseGrace time.Duration
	BcryptCost        int
}

// SessionConfig tunes the session registry and its long-poll waits.
type SessionConfig struct {
	WaitTimeout    time.Duration
	MaxWaitTimeout time.Duration
	TouchInterval  time.Duration
	SweepInterval  time.Duration
	TombstoneTTL   time.Duration
}

// BusConfig selects how invalidations are fanned out between instances.
type BusConfig struct {
	Driver  string
	Channel string
}

// AuditConfig controls audit delivery.
type AuditConfig struct {
	Async      bool
	BufferSize int
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.NATS = NATSConfig{
		URL:  v.GetString("NATS_URL"),
		Name: v.GetString("NATS_CLIENT_NAME"),
	}

	cfg.JWT = JWTConfig{
		Secret:   v.GetString("JWT_SECRET"),
		Issuer:   v.GetString("JWT_ISSUER"),
		Audience: v.GetString("JWT_AUDIENCE"),
	}

	cfg.Auth = AuthConfig{
		MaxFailedAttempts: positiveInt(v.GetInt("LOGIN_MAX_FAILED_ATTEMPTS"), 5),
		TempBanDuration:   parseDuration(v.GetString("LOGIN_TEMP_BAN_DURATION"), 15*time.Minute),
		MaxTempBans:       positiveInt(v.GetInt("LOGIN_MAX_TEMP_BANS"), 3),
		AutoUnlockEnabled: v.GetBool("LOGIN_AUTO_UNLOCK"),
		AccessDuration:    parseDuration(v.GetString("ACCESS_TOKEN_DURATION"), 15*time.Minute),
		RefreshDuration:   parseDuration(v.GetString("REFRESH_TOKEN_DURATION"), 7*24*time.Hour),
		RefreshReuseGrace: parseDuration(v.GetString("REFRESH_REUSE_GRACE"), 10*time.Second),
		BcryptCost:        v.GetInt("BCRYPT_COST"),
	}

	cfg.Session = SessionConfig{
		WaitTimeout:    parseDuration(v.GetString("SESSION_WAIT_TIMEOUT"), 35*time.Second),
		MaxWaitTimeout: parseDuration(v.GetString("SESSION_MAX_WAIT_TIMEOUT"), time.Minute),
		TouchInterval:  parseDuration(v.GetString("SESSION_TOUCH_INTERVAL"), time.Minute),
		SweepInterval:  parseDuration(v.GetString("SESSION_SWEEP_INTERVAL"), 10*time.Minute),
		TombstoneTTL:   parseDuration(v.GetString("SESSION_TOMBSTONE_TTL"), 2*time.Minute),
	}
	if cfg.Session.MaxWaitTimeout < cfg.Session.WaitTimeout {
		cfg.Session.MaxWaitTimeout = cfg.Session.WaitTimeout
	}

	cfg.Bus = BusConfig{
		Driver:  strings.ToLower(v.GetString("INVALIDATION_BUS")),
		Channel: v.GetString("INVALIDATION_CHANNEL"),
	}
	switch cfg.Bus.Driver {
	case BusNone, BusRedis, BusNATS:
	default:
		return nil, fmt.Errorf("unknown INVALIDATION_BUS %q", cfg.Bus.Driver)
	}

	cfg.Audit = AuditConfig{
		Async:      v.GetBool("AUDIT_ASYNC"),
		BufferSize: positiveInt(v.GetInt("AUDIT_BUFFER_SIZE"), 256),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if cfg.Env == EnvProduction && cfg.JWT.Secret == devSecret {
		return nil, errors.New("JWT_SECRET must be set in production")
	}

	return cfg, nil
}

const devSecret = "dev_secret"

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "fintrack")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_CLIENT_NAME", "fintrack-api")

	v.SetDefault("JWT_SECRET", devSecret)
	v.SetDefault("JWT_ISSUER", "fintrack-api")
	v.SetDefault("JWT_AUDIENCE", "fintrack-web")

	v.SetDefault("LOGIN_MAX_FAILED_ATTEMPTS", 5)
	v.SetDefault("LOGIN_TEMP_BAN_DURATION", "15m")
	v.SetDefault("LOGIN_MAX_TEMP_BANS", 3)
	v.SetDefault("LOGIN_AUTO_UNLOCK", true)
	v.SetDefault("ACCESS_TOKEN_DURATION", "15m")
	v.SetDefault("REFRESH_TOKEN_DURATION", "168h")
	v.SetDefault("REFRESH_REUSE_GRACE", "10s")
	v.SetDefault("BCRYPT_COST", 12)

	v.SetDefault("SESSION_WAIT_TIMEOUT", "35s")
	v.SetDefault("SESSION_MAX_WAIT_TIMEOUT", "60s")
	v.SetDefault("SESSION_TOUCH_INTERVAL", "1m")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "10m")
	v.SetDefault("SESSION_TOMBSTONE_TTL", "2m")

	v.SetDefault("INVALIDATION_BUS", BusNone)
	v.SetDefault("INVALIDATION_CHANNEL", "sessions.invalidated")

	v.SetDefault("AUDIT_ASYNC", false)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func positiveInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
