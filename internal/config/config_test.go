package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Daemon.Port != 7433 {
		t.Errorf("Daemon.Port = %d, want 7433", cfg.Daemon.Port)
	}
	if cfg.Daemon.Bind != "127.0.0.1" {
		t.Errorf("Daemon.Bind = %q, want 127.0.0.1", cfg.Daemon.Bind)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Storage.Timeout != 5*time.Second {
		t.Errorf("Storage.Timeout = %v, want 5s", cfg.Storage.Timeout)
	}
	if cfg.Resilience.MaxAttempts != 3 {
		t.Errorf("Resilience.MaxAttempts = %d, want 3", cfg.Resilience.MaxAttempts)
	}
	if cfg.Redis.Addr != "" || cfg.RabbitMQ.URL != "" || cfg.SES.From != "" {
		t.Error("optional integrations should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"port zero", func(c *Config) { c.Daemon.Port = 0 }, "invalid daemon port"},
		{"port too high", func(c *Config) { c.Daemon.Port = 70000 }, "invalid daemon port"},
		{"bad log level", func(c *Config) { c.Daemon.LogLevel = "loud" }, "unknown log level"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "unknown storage driver"},
		{"postgres without url", func(c *Config) { c.Storage.Driver = "postgres" }, "storage url is required"},
		{"zero timeout", func(c *Config) { c.Storage.Timeout = 0 }, "storage timeout"},
		{"no attempts", func(c *Config) { c.Resilience.MaxAttempts = 0 }, "max_attempts"},
		{"short secret", func(c *Config) { c.Identity.JWTSecret = "short" }, "jwt secret"},
		{"postgres with url", func(c *Config) {
			c.Storage.Driver = "postgres"
			c.Storage.URL = "postgres://localhost/vibecheck"
		}, ""},
		{"memory driver", func(c *Config) { c.Storage.Driver = "memory" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Daemon.LogLevel = tt.in
		if got := cfg.LogLevel(); got != tt.want {
			t.Errorf("LogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAddr(t *testing.T) {
	cfg := Default()
	cfg.Daemon.Bind = "0.0.0.0"
	cfg.Daemon.Port = 9000
	if got := cfg.Addr(); got != "0.0.0.0:9000" {
		t.Errorf("Addr() = %q", got)
	}
}
