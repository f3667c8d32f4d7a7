package workflow

import (
	"fmt"
	"strings"
	"sync"
	"text/template"
)

const defaultTutorPrompt = `You are {{.Name}}, a patient tutor helping a learner with {{.Subject}}. ` +
	`Answer clearly, check understanding with a short follow-up question, ` +
	`and keep replies focused on {{.Subject}}.`

const ericaPrompt = `You are {{.Name}}, a friendly and encouraging tutor specialising in {{.Subject}}. ` +
	`Explain ideas step by step using everyday examples, avoid jargon unless you define it, ` +
	`and end with one question that helps the learner practise.`

type promptData struct {
	Name    string
	Subject string
}

// Prompts renders system prompts keyed by agent name. Unknown agents use
// the default tutor template.
type Prompts struct {
	mu       sync.RWMutex
	byAgent  map[string]*template.Template
	fallback *template.Template
}

// DefaultPrompts returns the built-in prompt set.
func DefaultPrompts() *Prompts {
	p := &Prompts{
		byAgent:  make(map[string]*template.Template),
		fallback: template.Must(template.New("default").Parse(defaultTutorPrompt)),
	}
	if err := p.Register("Erica", ericaPrompt); err != nil {
		panic(err)
	}
	return p
}

// Register adds or replaces the template for agentName.
func (p *Prompts) Register(agentName, text string) error {
	tmpl, err := template.New(agentName).Option("missingkey=error").Parse(text)
	if err != nil {
		return fmt.Errorf("parse prompt for %q: %w", agentName, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byAgent[promptKey(agentName)] = tmpl
	return nil
}

// Render builds the system prompt for agentName teaching subject.
func (p *Prompts) Render(agentName, subject string) (string, error) {
	p.mu.RLock()
	tmpl, ok := p.byAgent[promptKey(agentName)]
	if !ok {
		tmpl = p.fallback
	}
	p.mu.RUnlock()

	var b strings.Builder
	if err := tmpl.Execute(&b, promptData{Name: agentName, Subject: subject}); err != nil {
		return "", fmt.Errorf("render prompt for %q: %w", agentName, err)
	}
	return b.String(), nil
}

func promptKey(agentName string) string {
	return strings.ToLower(strings.TrimSpace(agentName))
}
