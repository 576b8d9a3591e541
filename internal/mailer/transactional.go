package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
)

// ImmediateEmail is a transactional email such as a password reset or a test send.
type ImmediateEmail struct {
	To             string            `validate:"required,email"`
	ToName         string            `validate:"max=200"`
	TemplateName   string            `validate:"required"`
	Context        map[string]string
	EmailType      EmailType         `validate:"required"`
	IdempotencyKey string            `validate:"max=200"`
}

// ScheduleImmediateEmail enqueues a system email due now, ahead of event and campaign mail.
// Only requests with an IdempotencyKey are deduplicated.
func (s *Scheduler) ScheduleImmediateEmail(ctx context.Context, req ImmediateEmail) (*ScheduleResult, error) {
	if req.EmailType == "" {
		req.EmailType = EmailTypeSystem
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}
	if !req.EmailType.IsTransactional() {
		return nil, fmt.Errorf("%w: email type %q is not transactional", ErrInvalidEmail, req.EmailType)
	}

	tmpl, err := s.templates.ByName(ctx, req.TemplateName)
	if err != nil {
		return nil, err
	}

	vars := make(map[string]string, len(req.Context)+2)
	maps.Copy(vars, req.Context)
	if _, ok := vars["recipient_email"]; !ok {
		vars["recipient_email"] = req.To
	}
	if _, ok := vars["recipient_name"]; !ok {
		vars["recipient_name"] = req.ToName
	}

	content, err := s.renderer.Render(tmpl, vars)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", req.TemplateName, err)
	}

	item := &QueueItem{
		RecipientEmail: req.To,
		RecipientName:  req.ToName,
		Subject:        content.Subject,
		HTMLBody:       content.HTML,
		TextBody:       content.Text,
		EmailType:      req.EmailType,
		Priority:       PrioritySystem,
		ScheduledAt:    s.clock.Now(),
		TemplateID:     &tmpl.ID,
		Context:        vars,
	}

	key := SystemDedupKey(req.TemplateName, strings.ToLower(req.To), req.IdempotencyKey)
	inserted, reason, err := s.enqueuer.Enqueue(ctx, item, key)
	if err != nil {
		return nil, err
	}

	if !inserted {
		slog.Info("system email already queued", "template", req.TemplateName, "reason", reason)
		return &ScheduleResult{Duplicates: 1, Message: "email already queued"}, nil
	}

	slog.Info("system email queued",
		"item_id", item.ID,
		"template", req.TemplateName,
		"email_type", req.EmailType,
	)
	return &ScheduleResult{Enqueued: 1, Message: "email queued"}, nil
}
