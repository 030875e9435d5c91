package domain

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Event Interface and Base Event
// -----------------------------------------------------------------------------

// Event types emitted after a progression change commits.
const (
	EventUserEnrolled        = "user.enrolled"
	EventChallengeCompleted  = "challenge.completed"
	EventAchievementUnlocked = "achievement.unlocked"
	EventLevelReached        = "level.reached"
)

// Event represents a domain event
type Event interface {
	// EventID returns the unique identifier for this event
	EventID() uuid.UUID
	// EventType returns the type name of this event
	EventType() string
	// OccurredAt returns when this event occurred
	OccurredAt() time.Time
	// UserID returns the learner the event is about
	UserID() string
}

// BaseEvent provides common event fields
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	User      string    `json:"user_id"`
}

// NewBaseEvent creates a new BaseEvent
func NewBaseEvent(eventType, userID string, at time.Time) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: at,
		User:      userID,
	}
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) UserID() string        { return e.User }

// -----------------------------------------------------------------------------
// Event Handler and Dispatcher
// -----------------------------------------------------------------------------

// EventHandler processes domain events
type EventHandler func(ctx context.Context, event Event) error

// EventDispatcher manages in-process event subscriptions. It publishes
// synchronously and is the fallback when no broker is configured.
type EventDispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type
func (d *EventDispatcher) Subscribe(eventType string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// Publish runs every matching handler and joins their errors. A failing
// handler does not stop the others.
func (d *EventDispatcher) Publish(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]EventHandler(nil), d.handlers[event.EventType()]...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// -----------------------------------------------------------------------------
// Progression Events
// -----------------------------------------------------------------------------

// UserEnrolledEvent is published when a learner account is created
type UserEnrolledEvent struct {
	BaseEvent
	Email string `json:"email"`
	Name  string `json:"name"`
}

// NewUserEnrolledEvent creates a UserEnrolledEvent
func NewUserEnrolledEvent(user *UserProgress, at time.Time) UserEnrolledEvent {
	return UserEnrolledEvent{
		BaseEvent: NewBaseEvent(EventUserEnrolled, user.UserID, at),
		Email:     user.Email,
		Name:      user.Name,
	}
}

// ChallengeCompletedEvent is published on the first completion of a challenge
type ChallengeCompletedEvent struct {
	BaseEvent
	ChallengeID string `json:"challenge_id"`
	XPAwarded   int    `json:"xp_awarded"`
	Score       int    `json:"score"`
	NewXP       int    `json:"new_xp"`
}

// NewChallengeCompletedEvent creates a ChallengeCompletedEvent
func NewChallengeCompletedEvent(userID, challengeID string, xpAwarded, score, newXP int, at time.Time) ChallengeCompletedEvent {
	return ChallengeCompletedEvent{
		BaseEvent:   NewBaseEvent(EventChallengeCompleted, userID, at),
		ChallengeID: challengeID,
		XPAwarded:   xpAwarded,
		Score:       score,
		NewXP:       newXP,
	}
}

// AchievementUnlockedEvent is published for every newly persisted achievement
type AchievementUnlockedEvent struct {
	BaseEvent
	AchievementID string `json:"achievement_id"`
	XPBonus       int    `json:"xp_bonus"`
}

// NewAchievementUnlockedEvent creates an AchievementUnlockedEvent
func NewAchievementUnlockedEvent(userID, achievementID string, bonus int, at time.Time) AchievementUnlockedEvent {
	return AchievementUnlockedEvent{
		BaseEvent:     NewBaseEvent(EventAchievementUnlocked, userID, at),
		AchievementID: achievementID,
		XPBonus:       bonus,
	}
}

// LevelReachedEvent is published when a completion moves a learner up
type LevelReachedEvent struct {
	BaseEvent
	FromLevel int    `json:"from_level"`
	ToLevel   int    `json:"to_level"`
	LevelName string `json:"level_name"`
	Email     string `json:"email"`
}

// NewLevelReachedEvent creates a LevelReachedEvent
func NewLevelReachedEvent(user *UserProgress, from int, name string, at time.Time) LevelReachedEvent {
	return LevelReachedEvent{
		BaseEvent: NewBaseEvent(EventLevelReached, user.UserID, at),
		FromLevel: from,
		ToLevel:   user.Level,
		LevelName: name,
		Email:     user.Email,
	}
}
