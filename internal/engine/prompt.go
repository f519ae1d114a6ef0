package engine

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"ImpactScanner/internal/config"
	"ImpactScanner/internal/domain"
)

// DefaultSystemPrompt frames every engine as a market analyst returning JSON.
const DefaultSystemPrompt = "You are a financial analyst. Assess how news affects equity markets and answer with a single JSON object only."

// DefaultTemplate asks for the fields the repairer understands.
const DefaultTemplate = `Analyze the market impact of this news item.
Respond with one JSON object: {"title": string, "impactScore": number between 0 and 10, "rationale": string, "relatedEntities": [string]}.

Title: {{.Title}}
Source: {{.Source}}
Published: {{.Published}}
Summary: {{.Summary}}
Link: {{.URL}}`

// Prompt renders an engine's instruction template for one item.
type Prompt struct {
	tmpl *template.Template
}

type promptData struct {
	Title     string
	Summary   string
	Source    string
	URL       string
	ID        string
	Published string
}

// NewPrompt parses text, falling back to DefaultTemplate when empty. The
// template is test-rendered so unknown fields fail at startup.
func NewPrompt(text string) (*Prompt, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultTemplate
	}

	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}

	p := &Prompt{tmpl: tmpl}
	if _, err := p.Render(domain.NewsItem{Title: "probe", PublishedAt: time.Unix(0, 0)}); err != nil {
		return nil, err
	}
	return p, nil
}

// Render formats the item fields into the template.
func (p *Prompt) Render(item domain.NewsItem) (string, error) {
	data := promptData{
		Title:   item.Title,
		Summary: item.Summary,
		Source:  item.Source,
		URL:     item.URL,
		ID:      item.ID,
	}
	if !item.PublishedAt.IsZero() {
		data.Published = item.PublishedAt.UTC().Format(time.RFC1123)
	}

	var b strings.Builder
	if err := p.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return b.String(), nil
}

// SystemPrompt returns the configured system prompt or the default one.
func SystemPrompt(cfg config.EngineConfig) string {
	if prompt := strings.TrimSpace(cfg.SystemPrompt); prompt != "" {
		return prompt
	}
	return DefaultSystemPrompt
}
