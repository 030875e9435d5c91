package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// EventHandler processes one decoded event
type EventHandler = domain.EventHandler

// Consumer consumes progression events and dispatches them by type
type Consumer struct {
	conn       *Connection
	logger     *slog.Logger
	workers    int
	prefetch   int
	timeout    time.Duration
	handlers   map[string]EventHandler
	handlersMu sync.RWMutex

	runMu      sync.Mutex // guards ctx, stopped and wg.Add against Stop
	ctx        context.Context
	cancelFunc context.CancelFunc
	stopped    bool
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers        int           // Number of concurrent workers
	Prefetch       int           // Prefetch count per worker
	HandlerTimeout time.Duration // Upper bound for a single handler call
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:        3,
		Prefetch:       1, // Process one at a time per worker for fairness
		HandlerTimeout: 30 * time.Second,
	}
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
		timeout:  cfg.HandlerTimeout,
		handlers: make(map[string]EventHandler),
	}
}

// Subscribe registers the handler for an event type, replacing any previous one
func (c *Consumer) Subscribe(eventType string, handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[eventType] = handler
}

func (c *Consumer) handler(eventType string) EventHandler {
	c.handlersMu.RLock()
	defer c.handlersMu.RUnlock()
	return c.handlers[eventType]
}

// Start begins consuming messages. After the connection recovers from a
// broker failure the consumer subscribes again on the new channel.
func (c *Consumer) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	c.ctx, c.cancelFunc = context.WithCancel(ctx)
	if err := c.consume(); err != nil {
		return err
	}
	c.conn.OnReconnect(c.resume)

	c.logger.Info("starting event consumer", "workers", c.workers, "prefetch", c.prefetch)
	return nil
}

// consume opens a delivery stream on the current channel and starts the
// workers that drain it. Callers hold runMu.
func (c *Consumer) consume() error {
	ch := c.conn.Channel()

	if err := ch.Qos(c.prefetch*c.workers, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		EventQueueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual ack for reliability)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(c.ctx, i, msgs)
	}
	return nil
}

// resume re-subscribes after a reconnection.
func (c *Consumer) resume() {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.stopped || c.ctx.Err() != nil {
		return
	}
	if err := c.consume(); err != nil {
		c.logger.Error("failed to resume consuming after reconnect", "error", err)
		return
	}
	c.logger.Info("resumed event consumer after reconnect", "workers", c.workers)
}

// worker processes messages from the queue
func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("message channel closed", "worker_id", id)
				return
			}

			c.processMessage(ctx, id, msg)
		}
	}
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeRequeue
	outcomeDeadLetter
)

// settle decides what happens to a delivery after its handler ran.
// Transient failures get one redelivery before being dead-lettered.
func settle(err error, redelivered bool) outcome {
	switch {
	case err == nil:
		return outcomeAck
	case domain.IsRetryable(err) && !redelivered:
		return outcomeRequeue
	default:
		return outcomeDeadLetter
	}
}

// processMessage handles a single message
func (c *Consumer) processMessage(ctx context.Context, workerID int, msg amqp.Delivery) {
	start := time.Now()
	log := c.logger.With("worker_id", workerID, "message_id", msg.MessageId)

	var env Envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		log.Error("failed to unmarshal envelope", "error", err)
		_ = msg.Reject(false)
		return
	}
	ev, err := env.Decode()
	if err != nil {
		log.Error("failed to decode event", "type", env.Type, "error", err)
		_ = msg.Reject(false)
		return
	}

	handle := c.handler(env.Type)
	if handle == nil {
		_ = msg.Ack(false)
		return
	}

	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	err = handle(hctx, ev)
	cancel()

	switch settle(err, msg.Redelivered) {
	case outcomeAck:
		log.Debug("event handled", "type", env.Type, "duration", time.Since(start))
		if err := msg.Ack(false); err != nil {
			log.Error("failed to ack message", "error", err)
		}
	case outcomeRequeue:
		log.Warn("event handler failed, requeueing", "type", env.Type, "error", err)
		_ = msg.Nack(false, true)
	case outcomeDeadLetter:
		log.Error("event handler failed, dead-lettering", "type", env.Type, "error", err)
		_ = msg.Reject(false)
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	c.runMu.Lock()
	c.stopped = true
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.runMu.Unlock()

	c.wg.Wait()
	c.logger.Info("consumer stopped")
}
