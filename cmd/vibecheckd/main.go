package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/felixgeelhaar/vibecheck/internal/app"
	"github.com/felixgeelhaar/vibecheck/internal/config"
	"github.com/felixgeelhaar/vibecheck/internal/daemon"
	"github.com/felixgeelhaar/vibecheck/internal/domain"
	"github.com/felixgeelhaar/vibecheck/internal/guard"
	"github.com/felixgeelhaar/vibecheck/internal/notify"
	"github.com/felixgeelhaar/vibecheck/internal/queue"
)

const (
	pidFileName = "vibecheckd.pid"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	envFile := flag.String("env-file", ".env", "dotenv file with VIBECHECK_* overrides")
	flag.Parse()

	// Ensure ~/.vibecheck directory exists
	dir, err := config.EnsureDir()
	if err != nil {
		return fmt.Errorf("ensure vibecheck dir: %w", err)
	}

	cfg, err := config.Load(config.LoadOptions{Dir: dir, EnvFiles: []string{*envFile}})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile, err := setupLogging(dir, cfg.LogLevel())
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()
	logger := slog.Default()

	pidPath := filepath.Join(dir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts app.Options

	// Redis submission guard (optional, fails open)
	if cfg.Redis.Addr != "" {
		client, err := guard.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, running without submission guard", "error", err)
		} else {
			defer client.Close()
			opts.Guard = guard.New(client, guard.Config{TTL: cfg.Redis.LockTTL, Logger: logger})
		}
	}

	// Notifications go through RabbitMQ when configured, in-process otherwise
	notifier, err := newNotifier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	handler := notify.Handler(notifier, logger)

	if cfg.RabbitMQ.URL != "" {
		conn, err := queue.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			return fmt.Errorf("connect rabbitmq: %w", err)
		}
		defer conn.Close()
		opts.Publisher = queue.NewProducer(conn, logger)

		consumer := queue.NewConsumer(conn, queue.ConsumerConfig{Workers: cfg.RabbitMQ.Workers}, logger)
		consumer.Subscribe(domain.EventUserEnrolled, handler)
		consumer.Subscribe(domain.EventLevelReached, handler)
		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}
		defer consumer.Stop()
	} else {
		dispatcher := domain.NewEventDispatcher()
		dispatcher.Subscribe(domain.EventUserEnrolled, handler)
		dispatcher.Subscribe(domain.EventLevelReached, handler)
		opts.Publisher = dispatcher
	}

	a, err := app.New(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := daemon.NewServer(daemon.ServerConfig{
		Addr:              cfg.Addr(),
		Catalog:           a.Catalog,
		Scorer:            a.Scorer,
		Coordinator:       a.Coordinator,
		Verifier:          verifierOrNil(a),
		Metrics:           a.Metrics,
		RequestsPerSecond: cfg.Daemon.RequestsPerSecond,
		Ready:             a.Backend.Ready,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		logger.Info("received signal, shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		close(done)
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	logger.Info("daemon stopped")
	return nil
}

// verifierOrNil keeps a nil *identity.Verifier from becoming a non-nil interface.
func verifierOrNil(a *app.App) daemon.TokenVerifier {
	if a.Verifier == nil {
		return nil
	}
	return a.Verifier
}

func newNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if cfg.SES.From == "" {
		logger.Info("no SES sender configured, notifications go to the log")
		return notify.LogNotifier{Logger: logger}, nil
	}
	n, err := notify.NewSES(ctx, cfg.SES.Region, cfg.SES.From, cfg.SES.FromName, logger)
	if err != nil {
		return nil, fmt.Errorf("create SES notifier: %w", err)
	}
	return n, nil
}

func setupLogging(dir string, level slog.Level) (*os.File, error) {
	logPath := filepath.Join(dir, "logs", "vibecheckd.log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	// JSON to the log file, text to stderr for foreground mode
	slog.SetDefault(slog.New(&multiHandler{
		handlers: []slog.Handler{
			slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: level}),
			slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}),
		},
	}))

	return logFile, nil
}

func writePIDFile(path string) error {
	pid := os.Getpid()
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644)
}

// multiHandler logs to multiple handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
