package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration for the application.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMigrate   bool   `envconfig:"DB_MIGRATE" default:"true"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`

	JWTSecret        string `envconfig:"JWT_SECRET" required:"true"`
	JWTAlgorithm     string `envconfig:"JWT_ALGORITHM" default:"HS256"`
	JWTExpireMinutes int    `envconfig:"JWT_EXPIRE_MINUTES" default:"60"`
	JWTIssuer        string `envconfig:"JWT_ISSUER" default:"odyssey-stock"`

	PostingLockTimeout time.Duration `envconfig:"POSTING_LOCK_TIMEOUT" default:"5s"`
	AuditTimeout       time.Duration `envconfig:"AUDIT_TIMEOUT" default:"2s"`
	AuditAsync         bool          `envconfig:"AUDIT_ASYNC" default:"true"`

	MasterDataCacheTTL time.Duration `envconfig:"MASTERDATA_CACHE_TTL" default:"5m"`
	ReportsCacheTTL    time.Duration `envconfig:"REPORTS_CACHE_TTL" default:"1m"`

	RateLimitPerMinute int    `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
	ReconcileCron      string `envconfig:"RECONCILE_CRON" default:"0 3 * * *"`
	IdempotencyCron    string `envconfig:"IDEMPOTENCY_CLEANUP_CRON" default:"30 3 * * *"`
}

// LoadConfig reads .env when present, then environment variables.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the services cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("jwt secret must be provided")
	}
	if c.JWTAlgorithm != "HS256" {
		return fmt.Errorf("unsupported jwt algorithm %q", c.JWTAlgorithm)
	}
	if c.JWTExpireMinutes <= 0 {
		return errors.New("jwt expiry must be positive")
	}
	if c.PostingLockTimeout <= 0 || c.AuditTimeout <= 0 || c.AppRequestTimeout <= 0 {
		return errors.New("timeouts must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return errors.New("rate limit must be positive")
	}
	return nil
}

// TokenTTL is the lifetime of issued access tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWTExpireMinutes) * time.Minute
}

// IsProduction returns true when the application runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
