package mailer

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/bissquit/clubmail/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func defaultValue(def, value string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

var funcMap = map[string]any{
	"title":   titleCase,
	"upper":   strings.ToUpper,
	"lower":   strings.ToLower,
	"default": defaultValue,
}

// TemplateRenderer renders stored templates with text/template and html/template.
// Placeholders use Go template syntax over the variable map, e.g. {{.participant_name}}.
// Unknown variables render as empty strings.
type TemplateRenderer struct{}

// NewTemplateRenderer creates a renderer.
func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{}
}

// Render renders subject, HTML and text parts of a template.
func (r *TemplateRenderer) Render(tmpl *domain.EmailTemplate, vars map[string]string) (Content, error) {
	if vars == nil {
		vars = map[string]string{}
	}

	subject, err := renderText(tmpl.Name+":subject", tmpl.Subject, vars)
	if err != nil {
		return Content{}, err
	}

	text, err := renderText(tmpl.Name+":text", tmpl.TextContent, vars)
	if err != nil {
		return Content{}, err
	}

	html, err := renderHTML(tmpl.Name+":html", tmpl.HTMLContent, vars)
	if err != nil {
		return Content{}, err
	}

	return Content{
		Subject: strings.TrimSpace(subject),
		HTML:    strings.TrimSpace(html),
		Text:    strings.TrimSpace(text),
	}, nil
}

func renderText(name, src string, vars map[string]string) (string, error) {
	if src == "" {
		return "", nil
	}
	t, err := texttemplate.New(name).Funcs(funcMap).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderHTML(name, src string, vars map[string]string) (string, error) {
	if src == "" {
		return "", nil
	}
	t, err := htmltemplate.New(name).Funcs(funcMap).Option("missingkey=zero").Parse(src)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("execute template %s: %w", name, err)
	}
	return buf.String(), nil
}
