package mailer

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/bissquit/clubmail/internal/domain"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Built-in template names.
const (
	TemplateEventReminder24h  = "event_reminder_24h"
	TemplateEventReminder1h   = "event_reminder_1h"
	TemplateEventReminder5min = "event_reminder_5min"
	TemplatePasswordReset     = "password_reset"
	TemplateAdminNotification = "admin_notification"
	TemplateTestEmail         = "test_email"
)

const builtinIDPrefix = "builtin:"

var builtinTemplateNames = []string{
	TemplateEventReminder24h,
	TemplateEventReminder1h,
	TemplateEventReminder5min,
	TemplatePasswordReset,
	TemplateAdminNotification,
	TemplateTestEmail,
}

// TemplateSource looks templates up in the repository and falls back to the built-in set
// when a named template has not been customised.
type TemplateSource struct {
	repo     TemplateRepository
	builtins map[string]*domain.EmailTemplate
}

// NewTemplateSource loads the built-in templates. repo may be nil.
func NewTemplateSource(repo TemplateRepository) (*TemplateSource, error) {
	builtins := make(map[string]*domain.EmailTemplate, len(builtinTemplateNames))
	for _, name := range builtinTemplateNames {
		filename := fmt.Sprintf("templates/%s.tmpl", name)
		content, err := templatesFS.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", filename, err)
		}
		tmpl, err := parseTemplateFile(name, string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", filename, err)
		}
		builtins[name] = tmpl
	}

	return &TemplateSource{repo: repo, builtins: builtins}, nil
}

// ByName returns the stored template with this name, or the built-in one.
func (s *TemplateSource) ByName(ctx context.Context, name string) (*domain.EmailTemplate, error) {
	if s.repo != nil {
		tmpl, err := s.repo.GetTemplateByName(ctx, name)
		if err == nil {
			return tmpl, nil
		}
		if !errors.Is(err, ErrTemplateNotFound) {
			return nil, err
		}
	}

	if tmpl, ok := s.builtins[name]; ok {
		return tmpl, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
}

// ByID returns a stored template, or a built-in one for ids with the builtin prefix.
func (s *TemplateSource) ByID(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	if name, ok := strings.CutPrefix(id, builtinIDPrefix); ok {
		if tmpl, ok := s.builtins[name]; ok {
			return tmpl, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	if s.repo == nil {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return s.repo.GetTemplate(ctx, id)
}

// parseTemplateFile splits a built-in file into its "--- subject", "--- html" and "--- text" sections.
func parseTemplateFile(name, content string) (*domain.EmailTemplate, error) {
	sections := make(map[string]*strings.Builder)
	var current *strings.Builder

	for _, line := range strings.Split(content, "\n") {
		if header, ok := strings.CutPrefix(line, "--- "); ok {
			key := strings.TrimSpace(header)
			current = &strings.Builder{}
			sections[key] = current
			continue
		}
		if current != nil {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}

	for _, key := range []string{"subject", "html", "text"} {
		if _, ok := sections[key]; !ok {
			return nil, fmt.Errorf("missing %q section", key)
		}
	}

	return &domain.EmailTemplate{
		ID:          builtinIDPrefix + name,
		Name:        name,
		Subject:     strings.TrimSpace(sections["subject"].String()),
		HTMLContent: strings.TrimSpace(sections["html"].String()),
		TextContent: strings.TrimSpace(sections["text"].String()),
	}, nil
}
