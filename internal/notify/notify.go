// Package notify delivers learner-facing emails for progression events.
// Delivery is fire-and-forget from the progression side: events arrive from
// the queue after the change has committed.
package notify

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/felixgeelhaar/vibecheck/internal/domain"
)

// Message is a rendered email.
type Message struct {
	To      string
	Name    string
	Subject string
	Text    string
	HTML    string
}

// Notifier sends a rendered message.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	Logger *slog.Logger
}

// Send logs the message.
func (n LogNotifier) Send(_ context.Context, msg Message) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Handler returns a queue handler that emails learners about enrollment and
// level changes. Events without an address are skipped.
func Handler(n Notifier, logger *slog.Logger) func(context.Context, domain.Event) error {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, ev domain.Event) error {
		msg, ok, err := Render(ev)
		if err != nil {
			return fmt.Errorf("render %s for %s: %w", ev.EventType(), ev.UserID(), err)
		}
		if !ok {
			return nil
		}
		if msg.To == "" {
			logger.Debug("skipping notification without address", "type", ev.EventType(), "user_id", ev.UserID())
			return nil
		}
		if err := n.Send(ctx, msg); err != nil {
			return fmt.Errorf("notify %s for %s: %w", ev.EventType(), ev.UserID(), err)
		}
		return nil
	}
}

// Render builds the message for an event. The second result is false for
// events that do not produce an email. Learner-supplied values are escaped in
// the HTML body.
func Render(ev domain.Event) (Message, bool, error) {
	switch e := ev.(type) {
	case domain.UserEnrolledEvent:
		name := displayName(e.Name)
		body, err := renderHTML(welcomeHTML, struct{ Name string }{name})
		if err != nil {
			return Message{}, false, err
		}
		return Message{
			To:      e.Email,
			Name:    e.Name,
			Subject: "Welcome to VibeCheck",
			Text: fmt.Sprintf("Hi %s,\n\nYour account is ready. Start with a difficulty 1 challenge and "+
				"earn your first XP.\n\nHappy building,\nVibeCheck", name),
			HTML: body,
		}, true, nil
	case domain.LevelReachedEvent:
		body, err := renderHTML(levelHTML, e)
		if err != nil {
			return Message{}, false, err
		}
		return Message{
			To:      e.Email,
			Subject: fmt.Sprintf("You reached level %d: %s", e.ToLevel, e.LevelName),
			Text: fmt.Sprintf("Hi there,\n\nYou moved from level %d to level %d and are now a %s.\n\n"+
				"New challenges are unlocked.\n\nVibeCheck", e.FromLevel, e.ToLevel, e.LevelName),
			HTML: body,
		}, true, nil
	default:
		return Message{}, false, nil
	}
}

func displayName(name string) string {
	if name == "" {
		return "there"
	}
	return name
}

func renderHTML(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}

var welcomeHTML = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<h1>Welcome to VibeCheck</h1>
<p>Hi {{.Name}},</p>
<p>Your account is ready. Start with a difficulty 1 challenge and earn your first XP.</p>
</body></html>`))

var levelHTML = template.Must(template.New("level").Parse(`<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #333;">
<h1>Level {{.ToLevel}}: {{.LevelName}}</h1>
<p>You moved up from level {{.FromLevel}}. New challenges are unlocked.</p>
</body></html>`))
