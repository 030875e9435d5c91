// Package storage opens the configured progress store.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/vibecheck/internal/config"
	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"github.com/felixgeelhaar/vibecheck/internal/storage/memory"
	"github.com/felixgeelhaar/vibecheck/internal/storage/postgres"
	"github.com/felixgeelhaar/vibecheck/internal/storage/sqlite"
)

// Backend is an opened store plus its readiness probe.
type Backend struct {
	Store domain.ProgressStore
	// Ready reports whether the store can serve requests.
	Ready func(ctx context.Context) error
}

// Open connects to the driver named in cfg and applies pending migrations.
func Open(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
		logger.Info("opened sqlite store", "path", cfg.Path)
		return &Backend{Store: sqlite.NewProgressStore(db), Ready: db.PingContext}, nil

	case "postgres":
		pool, err := postgres.Open(ctx, postgres.Config{DSN: cfg.URL, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		store := postgres.NewProgressStore(pool)
		logger.Info("opened postgres store", "max_conns", pool.Config().MaxConns)
		return &Backend{Store: store, Ready: store.Ping}, nil

	case "memory":
		logger.Warn("using in-memory store; progress is lost on exit")
		return &Backend{Store: memory.New(), Ready: func(context.Context) error { return nil }}, nil

	default:
		return nil, domain.Validationf("unknown storage driver %q", cfg.Driver)
	}
}
