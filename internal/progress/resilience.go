package progress

import (
	"context"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// Config tunes how the coordinator talks to storage.
type Config struct {
	// StorageTimeout bounds each unit of work.
	StorageTimeout time.Duration

	// MaxAttempts for transient storage failures (default: 3)
	MaxAttempts int

	// RetryInitialDelay and RetryMaxDelay bound exponential backoff.
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// MaxConcurrent units of work in flight (default: 16)
	MaxConcurrent int

	// BreakerFailures consecutive exhausted retries open the breaker.
	BreakerFailures int
	BreakerTimeout  time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StorageTimeout:    5 * time.Second,
		MaxAttempts:       3,
		RetryInitialDelay: 50 * time.Millisecond,
		RetryMaxDelay:     time.Second,
		MaxConcurrent:     16,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = d.StorageTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = d.RetryInitialDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = d.RetryMaxDelay
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.BreakerFailures <= 0 {
		c.BreakerFailures = d.BreakerFailures
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = d.BreakerTimeout
	}
	return c
}

// executor runs storage work behind a bulkhead, retry and circuit breaker.
// Only transient errors reach fortify; everything else is passed back to the
// caller untouched so that a NotFound never trips the breaker.
type executor struct {
	bulkhead bulkhead.Bulkhead[struct{}]
	retrier  retry.Retry[struct{}]
	breaker  circuitbreaker.CircuitBreaker[struct{}]
}

func newExecutor(cfg Config, logger *slog.Logger) *executor {
	return &executor{
		bulkhead: bulkhead.New[struct{}](bulkhead.Config{
			MaxConcurrent: cfg.MaxConcurrent,
			MaxQueue:      cfg.MaxConcurrent * 4,
			QueueTimeout:  cfg.StorageTimeout,
		}),
		retrier: retry.New[struct{}](retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.RetryInitialDelay,
			MaxDelay:      cfg.RetryMaxDelay,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable:   domain.IsRetryable,
		}),
		breaker: circuitbreaker.New[struct{}](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.BreakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return int(counts.ConsecutiveFailures) >= cfg.BreakerFailures
			},
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("storage circuit breaker state change",
					"from", from.String(),
					"to", to.String())
			},
		}),
	}
}

func (e *executor) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var opErr error
	attempt := func(ctx context.Context) (struct{}, error) {
		return e.bulkhead.Execute(ctx, func(ctx context.Context) (struct{}, error) {
			err := fn(ctx)
			if domain.IsRetryable(err) {
				return struct{}{}, err
			}
			opErr = err
			return struct{}{}, nil
		})
	}

	_, err := e.breaker.Execute(ctx, func(ctx context.Context) (struct{}, error) {
		return e.retrier.Do(ctx, attempt)
	})
	if err != nil {
		if domain.IsRetryable(err) {
			return err
		}
		// Open breaker, full bulkhead, cancelled context.
		return domain.Transient(op, err)
	}
	return opErr
}
