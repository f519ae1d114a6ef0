package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"ImpactScanner/internal/config"
	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/engine"
	"ImpactScanner/internal/ports"
)

const (
	defaultClaudeTimeout   = 30 * time.Second
	defaultClaudeMaxTokens = 1024
)

// ClaudeClient implements ports.Engine on the Anthropic Messages API.
type ClaudeClient struct {
	id           string
	model        string
	systemPrompt string
	temperature  float64
	maxTokens    int64
	client       *anthropic.Client
}

var _ ports.Engine = (*ClaudeClient)(nil)

// NewClaudeClient creates a client. SDK retries are disabled; the fallback
// chain decides what happens after a failure.
func NewClaudeClient(cfg config.EngineConfig) (*ClaudeClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s has no api key", engine.ErrNotConfigured, cfg.ID)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("claude engine %s: model is required", cfg.ID)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: timeoutOrDefault(cfg.Timeout.D(), defaultClaudeTimeout)}),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithBaseURL(cfg.Endpoint))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultClaudeMaxTokens
	}

	return &ClaudeClient{
		id:           cfg.ID,
		model:        cfg.Model,
		systemPrompt: engine.SystemPrompt(cfg),
		temperature:  cfg.Temperature,
		maxTokens:    maxTokens,
		client:       &client,
	}, nil
}

// ID returns the configured engine identifier.
func (c *ClaudeClient) ID() string {
	return c.id
}

// Invoke sends a single Messages request.
func (c *ClaudeClient) Invoke(ctx context.Context, prompt string, _ domain.NewsItem) (domain.ProviderResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		System:      []anthropic.TextBlockParam{{Text: c.systemPrompt}},
		Temperature: anthropic.Float(c.temperature),
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return classifyClaudeError(c.id, err), nil
	}

	if string(msg.StopReason) == "refusal" {
		return domain.Refused("refusal"), nil
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return domain.TransportError(fmt.Errorf("%s: empty completion (stop_reason=%s)", c.id, msg.StopReason)), nil
	}
	return domain.Success(text), nil
}

func classifyClaudeError(engineID string, err error) domain.ProviderResponse {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return transportFailure(engineID, err)
	}

	if apiErr.StatusCode == http.StatusTooManyRequests {
		var hint time.Duration
		if apiErr.Response != nil {
			hint = retryAfter(apiErr.Response.Header, time.Now())
		}
		return domain.RateLimited(hint)
	}
	return domain.TransportError(fmt.Errorf("%s: status %d: %w", engineID, apiErr.StatusCode, err))
}
