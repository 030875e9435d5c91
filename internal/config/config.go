package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Config holds all configuration for vibecheck
type Config struct {
	Daemon     DaemonConfig     `yaml:"daemon" envPrefix:"DAEMON_"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Resilience ResilienceConfig `yaml:"resilience" envPrefix:"RESILIENCE_"`
	Redis      RedisConfig      `yaml:"redis" envPrefix:"REDIS_"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq" envPrefix:"RABBITMQ_"`
	Identity   IdentityConfig   `yaml:"identity" envPrefix:"IDENTITY_"`
	SES        SESConfig        `yaml:"ses" envPrefix:"SES_"`
	Catalog    CatalogConfig    `yaml:"catalog" envPrefix:"CATALOG_"`
}

// DaemonConfig holds HTTP server settings
type DaemonConfig struct {
	Port     int    `yaml:"port" env:"PORT"`
	Bind     string `yaml:"bind" env:"BIND"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
	// RequestsPerSecond caps accepted requests; zero disables the limiter.
	RequestsPerSecond int `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
}

// StorageConfig selects and configures the progress store
type StorageConfig struct {
	Driver   string        `yaml:"driver" env:"DRIVER"` // sqlite, postgres, memory
	Path     string        `yaml:"path" env:"PATH"`     // sqlite file
	URL      string        `yaml:"url" env:"URL"`       // postgres DSN
	MaxConns int32         `yaml:"max_conns" env:"MAX_CONNS"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// ResilienceConfig tunes retries and load shedding around storage
type ResilienceConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	RetryDelay      time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay" env:"RETRY_MAX_DELAY"`
	MaxConcurrent   int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	BreakerFailures int           `yaml:"breaker_failures" env:"BREAKER_FAILURES"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout" env:"BREAKER_TIMEOUT"`
}

// RedisConfig configures the submission guard; empty Addr disables it
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"ADDR"`
	Password string        `yaml:"-" env:"PASSWORD"`
	DB       int           `yaml:"db" env:"DB"`
	LockTTL  time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
}

// RabbitMQConfig configures event publishing; empty URL disables it
type RabbitMQConfig struct {
	URL     string `yaml:"-" env:"URL"`
	Workers int    `yaml:"workers" env:"WORKERS"`
}

// IdentityConfig holds bearer token settings
type IdentityConfig struct {
	JWTSecret string        `yaml:"-" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
}

// SESConfig configures outbound email; empty From uses the log notifier
type SESConfig struct {
	Region   string `yaml:"region" env:"REGION"`
	From     string `yaml:"from" env:"FROM"`
	FromName string `yaml:"from_name" env:"FROM_NAME"`
}

// CatalogConfig points at a catalog override; empty uses the built-in one
type CatalogConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// Default returns sensible defaults for local use
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Port:              7433,
			Bind:              "127.0.0.1",
			LogLevel:          "info",
			RequestsPerSecond: 200,
		},
		Storage: StorageConfig{
			Driver:   "sqlite",
			MaxConns: 10,
			Timeout:  5 * time.Second,
		},
		Resilience: ResilienceConfig{
			MaxAttempts:     3,
			RetryDelay:      50 * time.Millisecond,
			RetryMaxDelay:   time.Second,
			MaxConcurrent:   16,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Redis: RedisConfig{
			LockTTL: 10 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Workers: 3,
		},
		Identity: IdentityConfig{
			TokenTTL: 24 * time.Hour,
		},
		SES: SESConfig{
			Region:   "eu-west-1",
			FromName: "VibeCheck",
		},
	}
}

// Validate checks cross-field constraints after all layers are applied
func (c *Config) Validate() error {
	if c.Daemon.Port < 1 || c.Daemon.Port > 65535 {
		return fmt.Errorf("invalid daemon port: %d (must be 1-65535)", c.Daemon.Port)
	}
	if _, err := parseLevel(c.Daemon.LogLevel); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.URL == "" {
			return fmt.Errorf("storage url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q (want sqlite, postgres or memory)", c.Storage.Driver)
	}
	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("storage timeout must be positive")
	}
	if c.Resilience.MaxAttempts < 1 {
		return fmt.Errorf("resilience max_attempts must be at least 1")
	}
	if c.Identity.JWTSecret != "" && len(c.Identity.JWTSecret) < 16 {
		return fmt.Errorf("identity jwt secret must be at least 16 bytes")
	}
	return nil
}

// Addr returns the daemon listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Daemon.Bind, c.Daemon.Port)
}

// LogLevel returns the configured slog level
func (c *Config) LogLevel() slog.Level {
	level, _ := parseLevel(c.Daemon.LogLevel)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
