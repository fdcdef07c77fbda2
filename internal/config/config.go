// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers defaults, an optional YAML file and VISIBILITY_ env vars.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory metric change queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of live recalculation workers.
	WorkerCount int `koanf:"worker_count"`

	// SweepWorkers bounds concurrency of the nightly sweep.
	SweepWorkers int `koanf:"sweep_workers"`

	// SweepInterval is the period of the full recalculation job. Zero disables it.
	SweepInterval time.Duration `koanf:"sweep_interval"`

	// SweepTimeout bounds one sweep run.
	SweepTimeout time.Duration `koanf:"sweep_timeout"`

	// ConfigCacheTTL is how long a resolved country config is cached.
	ConfigCacheTTL time.Duration `koanf:"config_cache_ttl"`

	// MaxTopLimit caps GET /v1/surfaces/{surface}/top?limit.
	MaxTopLimit int `koanf:"max_top_limit"`

	// IdempotencyCacheSize bounds the remembered Idempotency-Key values. Zero or
	// less means unbounded.
	IdempotencyCacheSize int `koanf:"idempotency_cache_size"`

	// IdempotencyTTL is how long an Idempotency-Key is remembered. Zero keeps
	// keys until evicted by size.
	IdempotencyTTL time.Duration `koanf:"idempotency_ttl"`

	// PostgresDSN selects the postgres config, audit, score and snapshot stores when set.
	PostgresDSN string `koanf:"postgres_dsn"`

	// RedisAddr selects the redis score store when set. It wins over postgres for scores.
	RedisAddr string `koanf:"redis_addr"`

	// RedisDB selects the redis logical database.
	RedisDB int `koanf:"redis_db"`

	// JWTSecret signs and verifies admin bearer tokens. Admin routes are
	// disabled when empty.
	JWTSecret string `koanf:"jwt_secret"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		Addr:           ":9080",
		QueueSize:      10_000,
		WorkerCount:    runtime.NumCPU() * 2,
		SweepWorkers:   runtime.NumCPU() * 4,
		SweepInterval:  24 * time.Hour,
		SweepTimeout:   2 * time.Hour,
		ConfigCacheTTL: time.Minute,
		MaxTopLimit:    100,
		RedisDB:        0,

		IdempotencyCacheSize: 50_000,
		IdempotencyTTL:       24 * time.Hour,
	}
}

// Validate checks the config for values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.SweepWorkers <= 0:
		return fmt.Errorf("%w: sweep_workers must be positive", ErrInvalidConfig)
	case c.SweepInterval < 0:
		return fmt.Errorf("%w: sweep_interval must not be negative", ErrInvalidConfig)
	case c.ConfigCacheTTL < 0:
		return fmt.Errorf("%w: config_cache_ttl must not be negative", ErrInvalidConfig)
	case c.MaxTopLimit <= 0:
		return fmt.Errorf("%w: max_top_limit must be positive", ErrInvalidConfig)
	case c.IdempotencyTTL < 0:
		return fmt.Errorf("%w: idempotency_ttl must not be negative", ErrInvalidConfig)
	case c.RedisDB < 0:
		return fmt.Errorf("%w: redis_db must not be negative", ErrInvalidConfig)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be text or json", ErrInvalidConfig)
	}
	return nil
}
