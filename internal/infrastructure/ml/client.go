package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ImpactScanner/internal/config"
	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/engine"
	"ImpactScanner/internal/ports"
)

const (
	defaultEndpoint = "http://localhost:11434/api/generate"
	defaultTimeout  = 2 * time.Minute
)

// Client talks to a self-hosted Ollama-compatible model server.
type Client struct {
	id           string
	endpoint     string
	model        string
	apiKey       string
	systemPrompt string
	temperature  float64
	maxTokens    int
	http         *http.Client
}

var _ ports.Engine = (*Client)(nil)

// NewClient creates a reusable HTTP client for the local engine.
func NewClient(cfg config.EngineConfig) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("local engine %s: model is required", cfg.ID)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	timeout := cfg.Timeout.D()
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		id:           cfg.ID,
		endpoint:     endpoint,
		model:        cfg.Model,
		apiKey:       cfg.APIKey,
		systemPrompt: engine.SystemPrompt(cfg),
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		http:         &http.Client{Timeout: timeout},
	}, nil
}

// Register adds the "local" kind to reg.
func Register(reg *engine.Registry) {
	reg.Register("local", func(cfg config.EngineConfig) (ports.Engine, error) {
		client, err := NewClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
}

// ID returns the configured engine identifier.
func (c *Client) ID() string {
	return c.id
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Stream  bool            `json:"stream"`
	Format  string          `json:"format,omitempty"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response   string `json:"response"`
	Done       bool   `json:"done"`
	DoneReason string `json:"done_reason"`
}

// statusError carries a non-200 reply so Invoke can classify it.
type statusError struct {
	code   int
	status string
	header http.Header
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %s: %s", e.status, e.body)
}

// Invoke sends one non-streaming generate request.
func (c *Client) Invoke(ctx context.Context, prompt string, _ domain.NewsItem) (domain.ProviderResponse, error) {
	payload := generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		System:  c.systemPrompt,
		Stream:  false,
		Format:  "json",
		Options: generateOptions{Temperature: c.temperature, NumPredict: c.maxTokens},
	}

	var resp generateResponse
	err := c.post(ctx, payload, &resp)

	var statusErr *statusError
	switch {
	case errors.As(err, &statusErr):
		return classifyStatus(c.id, statusErr), nil
	case errors.Is(err, errDecode):
		return domain.ProviderResponse{}, err
	case err != nil:
		return domain.TransportError(fmt.Errorf("%s: %w", c.id, err)), nil
	}

	text := strings.TrimSpace(resp.Response)
	if text == "" {
		return domain.TransportError(fmt.Errorf("%s: empty completion (done_reason=%s)", c.id, resp.DoneReason)), nil
	}
	return domain.Success(text), nil
}

func classifyStatus(engineID string, err *statusError) domain.ProviderResponse {
	switch err.code {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return domain.RateLimited(retryAfter(err.header))
	default:
		return domain.TransportError(fmt.Errorf("%s: %w", engineID, err))
	}
}

var errDecode = errors.New("decode response")

func (c *Client) post(ctx context.Context, payload any, v any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return &statusError{
			code:   resp.StatusCode,
			status: resp.Status,
			header: resp.Header,
			body:   strings.TrimSpace(string(snippet)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("%w: %v", errDecode, err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}

func retryAfter(h http.Header) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After")))
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
