package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. VIBECHECK_DAEMON_PORT.
const EnvPrefix = "VIBECHECK_"

// SecretsConfig holds credentials loaded from secrets.yaml
type SecretsConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	RedisPassword string `yaml:"redis_password"`
	RabbitMQURL   string `yaml:"rabbitmq_url"`
}

// Dir returns the path to ~/.vibecheck
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".vibecheck"), nil
}

// EnsureDir creates ~/.vibecheck and subdirectories if they don't exist
func EnsureDir() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}

	for _, subdir := range []string{"", "logs", "data"} {
		path := filepath.Join(dir, subdir)
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("create dir %s: %w", path, err)
		}
	}

	return dir, nil
}

// LoadOptions controls where Load looks for its layers
type LoadOptions struct {
	// Dir holds config.yaml and secrets.yaml; empty means ~/.vibecheck.
	Dir string
	// EnvFiles are dotenv files to load; missing files are skipped.
	EnvFiles []string
}

// Load applies defaults, then config.yaml, then secrets.yaml, then dotenv
// files, then VIBECHECK_* environment variables, and validates the result.
func Load(opts LoadOptions) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return nil, err
		}
	}

	cfg := Default()

	if err := readYAML(filepath.Join(dir, "config.yaml"), cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := loadSecrets(dir, cfg); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	for _, f := range opts.EnvFiles {
		// godotenv never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse config from environment: %w", err)
	}

	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(dir, "data", "vibecheck.db")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// loadSecrets loads credentials from secrets.yaml
func loadSecrets(dir string, cfg *Config) error {
	var secrets SecretsConfig
	if err := readYAML(filepath.Join(dir, "secrets.yaml"), &secrets); err != nil {
		return err
	}

	if secrets.JWTSecret != "" {
		cfg.Identity.JWTSecret = secrets.JWTSecret
	}
	if secrets.RedisPassword != "" {
		cfg.Redis.Password = secrets.RedisPassword
	}
	if secrets.RabbitMQURL != "" {
		cfg.RabbitMQ.URL = secrets.RabbitMQURL
	}
	return nil
}

// Save writes the non-secret configuration to dir/config.yaml
func Save(dir string, cfg *Config) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// SaveSecrets writes credentials to dir/secrets.yaml
func SaveSecrets(dir string, secrets SecretsConfig) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	data, err := yaml.Marshal(secrets)
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}

	// Write with restricted permissions (owner read/write only)
	if err := os.WriteFile(filepath.Join(dir, "secrets.yaml"), data, 0600); err != nil {
		return fmt.Errorf("write secrets: %w", err)
	}

	return nil
}
