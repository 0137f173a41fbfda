package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Idempotency store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the service. Values come from an
// optional YAML file, with environment variables taking precedence.
type Config struct {
	Port          string `yaml:"port" env:"PORT" env-default:"8080"`
	WebhookSecret string `yaml:"webhook_secret" env:"WEBHOOK_SECRET"`
	LogLevel      string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	IdempotencyBackend    string        `yaml:"idempotency_backend" env:"IDEMPOTENCY_BACKEND" env-default:"memory"`
	IdempotencyRetention  time.Duration `yaml:"idempotency_retention" env:"IDEMPOTENCY_RETENTION" env-default:"24h"`
	IdempotencyLease      time.Duration `yaml:"idempotency_lease" env:"IDEMPOTENCY_LEASE" env-default:"5m"`
	IdempotencyMaxEntries int           `yaml:"idempotency_max_entries" env:"IDEMPOTENCY_MAX_ENTRIES" env-default:"100000"`
	SweepInterval         time.Duration `yaml:"sweep_interval" env:"IDEMPOTENCY_SWEEP_INTERVAL" env-default:"1m"`

	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`

	NumWorkers     int           `yaml:"num_workers" env:"NUM_WORKERS" env-default:"16"`
	QueueSize      int           `yaml:"queue_size" env:"QUEUE_SIZE" env-default:"256"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"HANDLER_TIMEOUT" env-default:"30s"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" env:"MAX_BODY_BYTES" env-default:"1048576"`

	RateLimitPerSecond int `yaml:"rate_limit_per_second" env:"RATE_LIMIT_PER_SECOND" env-default:"0"`

	SMTPAddr     string `yaml:"smtp_addr" env:"SMTP_ADDR"`
	SMTPFrom     string `yaml:"smtp_from" env:"SMTP_FROM" env-default:"no-reply@localhost"`
	SMTPUsername string `yaml:"smtp_username" env:"SMTP_USERNAME"`
	SMTPPassword string `yaml:"smtp_password" env:"SMTP_PASSWORD"`
}

// Load reads path if it exists, then the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would make the service unusable. A
// missing webhook secret is deliberately not one of them: the service starts
// and rejects every webhook.
func (c *Config) Validate() error {
	var errs []error

	c.IdempotencyBackend = strings.ToLower(strings.TrimSpace(c.IdempotencyBackend))
	switch c.IdempotencyBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis idempotency backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres idempotency backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown IDEMPOTENCY_BACKEND %q", c.IdempotencyBackend))
	}

	if c.NumWorkers <= 0 {
		errs = append(errs, fmt.Errorf("NUM_WORKERS must be positive, got %d", c.NumWorkers))
	}
	if c.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("QUEUE_SIZE must not be negative, got %d", c.QueueSize))
	}
	if c.HandlerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HANDLER_TIMEOUT must be positive, got %s", c.HandlerTimeout))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes))
	}
	if c.IdempotencyRetention <= 0 {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_RETENTION must be positive, got %s", c.IdempotencyRetention))
	}

	return errors.Join(errs...)
}

// SlogLevel maps LOG_LEVEL onto slog. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
