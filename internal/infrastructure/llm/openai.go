package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ImpactScanner/internal/config"
	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/engine"
	"ImpactScanner/internal/ports"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1/chat/completions"
	defaultOpenAITimeout  = 30 * time.Second
)

// OpenAIClient implements ports.Engine backed by OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	id           string
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	temperature  float64
	maxTokens    int
	httpClient   *http.Client
}

var _ ports.Engine = (*OpenAIClient)(nil)

// NewOpenAIClient builds a client from configuration. The key is only
// required when talking to the hosted OpenAI API.
func NewOpenAIClient(cfg config.EngineConfig) (*OpenAIClient, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai engine %s: model is required", cfg.ID)
	}
	if cfg.APIKey == "" && isHostedOpenAI(endpoint) {
		return nil, fmt.Errorf("%w: %s has no api key", engine.ErrNotConfigured, cfg.ID)
	}

	return &OpenAIClient{
		id:           cfg.ID,
		endpoint:     endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: engine.SystemPrompt(cfg),
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		httpClient: &http.Client{
			Timeout: timeoutOrDefault(cfg.Timeout.D(), defaultOpenAITimeout),
		},
	}, nil
}

// ID returns the configured engine identifier.
func (c *OpenAIClient) ID() string {
	return c.id
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		FinishReason string `json:"finish_reason"`
		Message      struct {
			Content *string `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Invoke posts one chat completion request and classifies the outcome.
func (c *OpenAIClient) Invoke(ctx context.Context, prompt string, _ domain.NewsItem) (domain.ProviderResponse, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: c.systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportFailure(c.id, err), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.classifyError(resp), nil
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.ProviderResponse{}, fmt.Errorf("decode chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return domain.TransportError(fmt.Errorf("%s: response has no choices", c.id)), nil
	}

	choice := decoded.Choices[0]
	if refusal := deref(choice.Message.Refusal); refusal != "" {
		return domain.Refused(refusal), nil
	}
	if choice.FinishReason == "content_filter" {
		return domain.Refused("content_filter"), nil
	}

	content := strings.TrimSpace(deref(choice.Message.Content))
	if content == "" {
		return domain.TransportError(fmt.Errorf("%s: empty completion (finish_reason=%s)", c.id, choice.FinishReason)), nil
	}
	return domain.Success(content), nil
}

func (c *OpenAIClient) classifyError(resp *http.Response) domain.ProviderResponse {
	raw := readErrorBody(resp.Body)

	var apiErr chatError
	_ = json.Unmarshal([]byte(raw), &apiErr)
	code := apiErr.Error.Code
	if code == "" {
		code = apiErr.Error.Type
	}

	switch {
	case code == "insufficient_quota":
		// billing exhaustion does not clear with backoff
		return domain.TransportError(fmt.Errorf("%s: %s", c.id, apiErr.Error.Message))
	case resp.StatusCode == http.StatusTooManyRequests:
		hint := retryAfter(resp.Header, time.Now())
		if hint == 0 {
			hint = retryDelayFromText(apiErr.Error.Message)
		}
		return domain.RateLimited(hint)
	case resp.StatusCode == http.StatusBadRequest && (strings.Contains(code, "content_policy") || strings.Contains(code, "content_filter")):
		return domain.Refused(apiErr.Error.Message)
	default:
		return domain.TransportError(fmt.Errorf("%s returned %s: %s", c.id, resp.Status, raw))
	}
}

func isHostedOpenAI(endpoint string) bool {
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return true
	}
	return strings.HasSuffix(parsed.Hostname(), "openai.com")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
