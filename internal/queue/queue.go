package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// Queue names
const (
	EventQueueName      = "vibecheck.events"
	DeadLetterQueueName = "vibecheck.events.dead"
)

var errConnectionClosed = errors.New("queue: connection closed")

// Envelope is the wire form of a progression event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	UserID     string          `json:"user_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEnvelope wraps a domain event for publishing.
func NewEnvelope(ev domain.Event) (*Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", ev.EventType(), err)
	}
	return &Envelope{
		ID:         ev.EventID().String(),
		Type:       ev.EventType(),
		UserID:     ev.UserID(),
		OccurredAt: ev.OccurredAt().UTC(),
		Payload:    payload,
	}, nil
}

// Decode unmarshals the payload into the concrete event type named by Type.
func (e *Envelope) Decode() (domain.Event, error) {
	var (
		ev  domain.Event
		err error
	)
	switch e.Type {
	case domain.EventUserEnrolled:
		var v domain.UserEnrolledEvent
		err = json.Unmarshal(e.Payload, &v)
		ev = v
	case domain.EventChallengeCompleted:
		var v domain.ChallengeCompletedEvent
		err = json.Unmarshal(e.Payload, &v)
		ev = v
	case domain.EventAchievementUnlocked:
		var v domain.AchievementUnlockedEvent
		err = json.Unmarshal(e.Payload, &v)
		ev = v
	case domain.EventLevelReached:
		var v domain.LevelReachedEvent
		err = json.Unmarshal(e.Payload, &v)
		ev = v
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return ev, nil
}

// Connection manages the RabbitMQ connection with automatic reconnection
type Connection struct {
	url        string
	logger     *slog.Logger
	conn       *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	closed     bool
	reconnects int
	hooks      []func()
}

// NewConnection creates a new RabbitMQ connection
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:    url,
		logger: logger,
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// connect establishes connection and channel
func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnectionClosed
	}

	var err error
	c.conn, err = amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := declareQueues(c.channel); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	go c.handleReconnect(c.conn)

	c.logger.Info("connected to RabbitMQ", "url", sanitizeURL(c.url))
	return nil
}

// declareQueues creates the event queue and its dead-letter queue.
// Rejected deliveries on the event queue are routed to the dead-letter queue.
func declareQueues(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}

	_, err = ch.QueueDeclare(
		EventQueueName,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DeadLetterQueueName,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare event queue: %w", err)
	}

	return nil
}

// handleReconnect listens for connection close and reconnects until it
// succeeds or the connection is closed deliberately.
func (c *Connection) handleReconnect(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || err == nil {
		return // Normal close
	}

	c.logger.Warn("RabbitMQ connection closed, attempting to reconnect", "error", err)

	for attempt := 0; ; attempt++ {
		time.Sleep(reconnectBackoff(attempt))
		if c.isClosed() {
			return
		}

		c.mu.Lock()
		c.reconnects++
		c.mu.Unlock()

		if err := c.connect(); err != nil {
			if errors.Is(err, errConnectionClosed) {
				return
			}
			c.logger.Error("reconnection failed", "error", err, "attempt", attempt+1)
			continue
		}

		c.logger.Info("reconnected to RabbitMQ", "attempts", attempt+1)
		c.reconnected()
		return
	}
}

// OnReconnect registers fn to run after every successful reconnection.
// Consumers use it to re-declare their subscriptions on the new channel.
func (c *Connection) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *Connection) reconnected() {
	c.mu.RLock()
	hooks := append([]func(){}, c.hooks...)
	c.mu.RUnlock()
	for _, fn := range hooks {
		fn()
	}
}

// Reconnects returns how many reconnection attempts have been made.
func (c *Connection) Reconnects() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnects
}

func (c *Connection) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// reconnectBackoff doubles from one second and caps at thirty.
func reconnectBackoff(attempt int) time.Duration {
	backoff := time.Duration(1<<attempt) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// Channel returns the current channel (thread-safe)
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishEnvelope publishes an envelope to a queue as a persistent message.
func (c *Connection) PublishEnvelope(ctx context.Context, queue string, env *Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch := c.Channel()
	if ch == nil || ch.IsClosed() {
		return domain.Transient("publish", amqp.ErrClosed)
	}

	err = ch.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    env.ID,
			Type:         env.Type,
			Timestamp:    env.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return domain.Transient("publish", err)
	}
	return nil
}

// sanitizeURL removes the password from a broker URL for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<invalid url>"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
