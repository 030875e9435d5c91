// Package app assembles vibecheck's services from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/vibecheck/internal/catalog"
	"github.com/felixgeelhaar/vibecheck/internal/config"
	"github.com/felixgeelhaar/vibecheck/internal/identity"
	"github.com/felixgeelhaar/vibecheck/internal/metrics"
	"github.com/felixgeelhaar/vibecheck/internal/progress"
	"github.com/felixgeelhaar/vibecheck/internal/scoring"
	"github.com/felixgeelhaar/vibecheck/internal/storage"
)

// App holds the wired services shared by the daemon and the CLI.
type App struct {
	Config      *config.Config
	Catalog     *catalog.Catalog
	Backend     *storage.Backend
	Coordinator *progress.Coordinator
	Scorer      *scoring.Engine
	Metrics     *metrics.Metrics
	// Verifier is nil when no JWT secret is configured.
	Verifier *identity.Verifier
	Logger   *slog.Logger
}

// Options adds optional collaborators to the coordinator.
type Options struct {
	Publisher progress.EventPublisher
	Guard     progress.SubmissionGuard
}

// New loads the catalog, opens storage and builds the coordinator.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cat, err := LoadCatalog(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}

	backend, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	m := metrics.New()
	popts := []progress.Option{
		progress.WithConfig(ProgressConfig(cfg)),
		progress.WithLogger(logger),
		progress.WithObserver(m),
	}
	if opts.Publisher != nil {
		popts = append(popts, progress.WithPublisher(opts.Publisher))
	}
	if opts.Guard != nil {
		popts = append(popts, progress.WithGuard(opts.Guard))
	}
	coord, err := progress.New(backend.Store, cat, popts...)
	if err != nil {
		backend.Store.Close()
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	a := &App{
		Config:      cfg,
		Catalog:     cat,
		Backend:     backend,
		Coordinator: coord,
		Scorer:      scoring.NewEngine(cat, scoring.WithObserver(m)),
		Metrics:     m,
		Logger:      logger,
	}

	if cfg.Identity.JWTSecret != "" {
		if a.Verifier, err = identity.NewVerifier(cfg.Identity.JWTSecret); err != nil {
			backend.Store.Close()
			return nil, fmt.Errorf("identity: %w", err)
		}
	} else {
		logger.Warn("no JWT secret configured; authenticated routes will reject every request")
	}

	return a, nil
}

// LoadCatalog reads the catalog at path, or the built-in catalog when path is empty.
func LoadCatalog(path string) (*catalog.Catalog, error) {
	cat, err := catalog.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}

// ProgressConfig maps the storage and resilience sections onto the coordinator.
func ProgressConfig(cfg *config.Config) progress.Config {
	r := cfg.Resilience
	return progress.Config{
		StorageTimeout:    cfg.Storage.Timeout,
		MaxAttempts:       r.MaxAttempts,
		RetryInitialDelay: r.RetryDelay,
		RetryMaxDelay:     r.RetryMaxDelay,
		MaxConcurrent:     r.MaxConcurrent,
		BreakerFailures:   r.BreakerFailures,
		BreakerTimeout:    r.BreakerTimeout,
	}
}

// Close releases the store.
func (a *App) Close() error {
	if a.Backend == nil {
		return errors.New("app: not opened")
	}
	return a.Backend.Store.Close()
}
