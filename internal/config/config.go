package config

import (
	"fmt"
	"time"

	"motorlist-service/internal/db"
	"motorlist-service/internal/pkg/jwt"

	"github.com/caarlos0/env/v11"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type AppConfig struct {
	// Server
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8000"`
	Environment string `env:"APP_ENV" envDefault:"production"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`

	Postgres db.PostgresConfig
	Redis    db.RedisConfig
	// Redis is optional in memory mode; locking and rate limiting are then off.
	RedisEnabled bool `env:"REDIS_ENABLED" envDefault:"true"`

	// JWT
	JWT jwt.Config

	// Expiry sweep
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"24h"`
	SweepConcurrency int           `env:"SWEEP_CONCURRENCY" envDefault:"4"`
	SweepLockTTL     time.Duration `env:"SWEEP_LOCK_TTL" envDefault:"10m"`

	// API rate limit on token mutations, per account and route
	RateLimitMax    int64         `env:"RATE_LIMIT_MAX" envDefault:"60"`
	RateLimitWindow time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`

	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// Load parses environment variables into AppConfig.
func Load() (AppConfig, error) {
	cfg, err := env.ParseAs[AppConfig]()
	if err != nil {
		return AppConfig{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate checks combinations env tags cannot express.
func (c AppConfig) Validate() error {
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", StorePostgres)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.SweepConcurrency < 1 {
		return fmt.Errorf("SWEEP_CONCURRENCY must be at least 1")
	}
	return nil
}

// IsDevelopment reports whether APP_ENV is development.
func (c AppConfig) IsDevelopment() bool {
	return c.Environment == "development"
}
