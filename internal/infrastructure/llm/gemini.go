package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"ImpactScanner/internal/config"
	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/engine"
	"ImpactScanner/internal/ports"
)

const defaultGeminiTimeout = 30 * time.Second

// finish reasons that mean the candidate was withheld on policy grounds
var geminiRefusals = map[string]bool{
	"SAFETY":             true,
	"RECITATION":         true,
	"BLOCKLIST":          true,
	"PROHIBITED_CONTENT": true,
	"SPII":               true,
	"IMAGE_SAFETY":       true,
}

// GeminiClient implements ports.Engine on the Google GenAI SDK.
type GeminiClient struct {
	id           string
	model        string
	systemPrompt string
	temperature  float32
	maxTokens    int32
	client       *genai.Client
}

var _ ports.Engine = (*GeminiClient)(nil)

// NewGeminiClient creates a Gemini API client. Endpoint overrides the SDK base URL.
func NewGeminiClient(ctx context.Context, cfg config.EngineConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: %s has no api key", engine.ErrNotConfigured, cfg.ID)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini engine %s: model is required", cfg.ID)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeoutOrDefault(cfg.Timeout.D(), defaultGeminiTimeout)},
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiClient{
		id:           cfg.ID,
		model:        cfg.Model,
		systemPrompt: engine.SystemPrompt(cfg),
		temperature:  float32(cfg.Temperature),
		maxTokens:    int32(cfg.MaxTokens),
		client:       client,
	}, nil
}

// ID returns the configured engine identifier.
func (g *GeminiClient) ID() string {
	return g.id
}

// Invoke sends a single generateContent request.
func (g *GeminiClient) Invoke(ctx context.Context, prompt string, _ domain.NewsItem) (domain.ProviderResponse, error) {
	genConfig := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.temperature),
		SystemInstruction: genai.NewContentFromText(g.systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	if g.maxTokens > 0 {
		genConfig.MaxOutputTokens = g.maxTokens
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, genConfig)
	if err != nil {
		return classifyGeminiError(g.id, err), nil
	}
	return classifyGeminiResponse(g.id, resp), nil
}

func classifyGeminiError(engineID string, err error) domain.ProviderResponse {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED":
			return domain.RateLimited(retryDelayFromText(apiErr.Message))
		case apiErr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(apiErr.Message), "safety"):
			return domain.Refused(apiErr.Message)
		default:
			return domain.TransportError(fmt.Errorf("%s: %w", engineID, err))
		}
	}
	if isRateLimitMessage(err.Error()) {
		return domain.RateLimited(retryDelayFromText(err.Error()))
	}
	return transportFailure(engineID, err)
}

func classifyGeminiResponse(engineID string, resp *genai.GenerateContentResponse) domain.ProviderResponse {
	if resp == nil {
		return domain.TransportError(fmt.Errorf("%s: nil response", engineID))
	}
	if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
		reason := string(fb.BlockReason)
		if fb.BlockReasonMessage != "" {
			reason += ": " + fb.BlockReasonMessage
		}
		return domain.Refused(reason)
	}
	if len(resp.Candidates) == 0 {
		return domain.TransportError(fmt.Errorf("%s: response has no candidates", engineID))
	}

	candidate := resp.Candidates[0]
	finish := string(candidate.FinishReason)
	if geminiRefusals[finish] {
		return domain.Refused(finish)
	}

	var b strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return domain.TransportError(fmt.Errorf("%s: empty completion (finish_reason=%s)", engineID, finish))
	}
	return domain.Success(text)
}

// isRateLimitMessage catches quota errors that were not surfaced as APIError.
func isRateLimitMessage(msg string) bool {
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "RESOURCE_EXHAUSTED") ||
		strings.Contains(strings.ToLower(msg), "quota")
}
