// Package guard holds short-lived Redis locks on in-flight submissions.
//
// A guard only dampens bursts such as double clicks and client retries. The
// unique completion row in the database decides whether XP is awarded; when
// Redis is unreachable the guard fails open.
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// ErrInFlight means an identical submission holds the lock.
var ErrInFlight = errors.New("submission already in flight")

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config configures a RedisGuard.
type Config struct {
	Prefix string
	TTL    time.Duration
	Logger *slog.Logger
}

// RedisGuard implements progress.SubmissionGuard with SET NX PX.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// Dial connects to Redis and verifies connectivity.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// New creates a RedisGuard over client.
func New(client *redis.Client, cfg Config) *RedisGuard {
	if cfg.Prefix == "" {
		cfg.Prefix = "vibecheck:inflight:"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisGuard{client: client, prefix: cfg.Prefix, ttl: cfg.TTL, logger: cfg.Logger}
}

// Acquire takes the lock for key. Contention returns a transient error
// wrapping ErrInFlight so callers can retry once the holder finishes.
func (g *RedisGuard) Acquire(ctx context.Context, key string) (func(), error) {
	k := g.prefix + key
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, k, token, g.ttl).Result()
	if err != nil {
		g.logger.Warn("submission guard unavailable, continuing without lock", "key", key, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, domain.Transient("acquire "+key, ErrInFlight)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, g.client, []string{k}, token).Err(); err != nil {
			g.logger.Warn("failed to release submission guard", "key", key, "error", err)
		}
	}, nil
}

// Noop never blocks.
type Noop struct{}

// Acquire always succeeds.
func (Noop) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
