// Package notify renders and delivers the deferred welcome messages
// enqueued by the enrolment cascade. Rendering happens at delivery time,
// not grant time, so a job for a rule or user that has since vanished is
// dropped instead of delivered stale.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"

	"github.com/coursekit/enrolflow/internal/enrol/domain"
	"github.com/coursekit/enrolflow/internal/enrol/storage"
	apperrors "github.com/coursekit/enrolflow/internal/platform/errors"
)

// Message is one rendered notification ready for delivery.
type Message struct {
	To      string
	Subject string
	Body    string
}

// MessageTransport delivers rendered messages. Implementations should
// return an error for transient failures so the queue retries the job.
type MessageTransport interface {
	Send(ctx context.Context, message Message) error
}

// Renderer resolves a job's referents, renders the template, and hands
// the result to the transport.
type Renderer struct {
	rules     storage.RuleStore
	users     storage.UserDirectory
	units     storage.UnitDirectory
	transport MessageTransport
}

// NewRenderer creates a renderer over the given stores and transport.
func NewRenderer(rules storage.RuleStore, users storage.UserDirectory, units storage.UnitDirectory, transport MessageTransport) *Renderer {
	return &Renderer{
		rules:     rules,
		users:     users,
		units:     units,
		transport: transport,
	}
}

// Execute renders and sends one notification job. A job whose rule, user,
// or unit no longer exists is dropped with a nil return so the queue acks
// it; transport failures are returned so the queue retries.
func (r *Renderer) Execute(ctx context.Context, job domain.NotificationJob) error {
	if r == nil || r.transport == nil {
		return fmt.Errorf("transport is not configured")
	}

	rule, err := r.rules.GetRule(ctx, job.RuleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("notification %s: rule %s vanished, dropping", job.ID, job.RuleID)
			return nil
		}
		return fmt.Errorf("resolve rule %s: %w", job.RuleID, err)
	}

	user, err := r.users.GetUser(ctx, job.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("notification %s: user %s vanished, dropping", job.ID, job.UserID)
			return nil
		}
		return fmt.Errorf("resolve user %s: %w", job.UserID, err)
	}

	target, err := r.units.GetUnit(ctx, job.TargetUnitID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("notification %s: unit %s vanished, dropping", job.ID, job.TargetUnitID)
			return nil
		}
		return fmt.Errorf("resolve unit %s: %w", job.TargetUnitID, err)
	}

	// The source unit can legitimately be gone by delivery time; the
	// message still makes sense without its name.
	completedName := ""
	if source, err := r.units.GetUnit(ctx, job.SourceUnitID); err == nil {
		completedName = source.Name
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("resolve unit %s: %w", job.SourceUnitID, err)
	}

	vars := map[string]string{
		"fullname":      html.EscapeString(user.FullName()),
		"firstname":     html.EscapeString(user.FirstName),
		"lastname":      html.EscapeString(user.LastName),
		"coursename":    html.EscapeString(target.Name),
		"completedname": html.EscapeString(completedName),
	}

	body := rule.Template
	if body == "" {
		body = defaultTemplate(user.Locale).Body
	}

	message := Message{
		To:      user.Email,
		Subject: render(defaultTemplate(user.Locale).Subject, vars),
		Body:    render(body, vars),
	}
	if err := r.transport.Send(ctx, message); err != nil {
		return apperrors.Wrap(apperrors.CodeNotificationTransport, "send notification", err)
	}
	return nil
}
