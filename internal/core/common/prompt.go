package common

import (
	"fmt"
	"strings"
	"text/template"
)

// Prompt is a parsed prompt template.
type Prompt struct {
	name string
	tmpl *template.Template
}

// NewPrompt parses src; parse errors surface at startup rather than mid-turn.
func NewPrompt(name, src string) (*Prompt, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s prompt: %w", name, err)
	}
	return &Prompt{name: name, tmpl: tmpl}, nil
}

// MustPrompt is NewPrompt for built-in templates.
func MustPrompt(name, src string) *Prompt {
	p, err := NewPrompt(name, src)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Prompt) Render(data any) (string, error) {
	var b strings.Builder
	if err := p.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", p.name, err)
	}
	return b.String(), nil
}

// OrDefault returns fallback when s is blank.
func OrDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
