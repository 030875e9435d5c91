package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// Producer publishes progression events to the event queue
type Producer struct {
	conn    *Connection
	logger  *slog.Logger
	timeout time.Duration
}

// NewProducer creates a new queue producer
func NewProducer(conn *Connection, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{conn: conn, logger: logger, timeout: 5 * time.Second}
}

// Publish sends a single event. It satisfies progress.EventPublisher.
func (p *Producer) Publish(ctx context.Context, ev domain.Event) error {
	env, err := NewEnvelope(ev)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.conn.PublishEnvelope(ctx, EventQueueName, env); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", env.Type, err)
	}

	p.logger.Debug("published event",
		"event_id", env.ID,
		"type", env.Type,
		"user_id", env.UserID,
	)

	return nil
}
