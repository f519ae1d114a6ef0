package llm

import (
	"context"

	"ImpactScanner/internal/config"
	"ImpactScanner/internal/engine"
	"ImpactScanner/internal/ports"
)

// Register adds the hosted provider kinds to reg.
func Register(reg *engine.Registry) {
	reg.Register("openai", func(cfg config.EngineConfig) (ports.Engine, error) {
		client, err := NewOpenAIClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
	reg.Register("gemini", func(cfg config.EngineConfig) (ports.Engine, error) {
		client, err := NewGeminiClient(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
	reg.Register("claude", func(cfg config.EngineConfig) (ports.Engine, error) {
		client, err := NewClaudeClient(cfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	})
}
