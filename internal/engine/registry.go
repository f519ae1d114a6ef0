package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"ImpactScanner/internal/config"
	"ImpactScanner/internal/ports"
)

var (
	// ErrUnknownKind is returned when no factory is registered for a kind.
	ErrUnknownKind = errors.New("engine kind is not registered")
	// ErrNotConfigured is returned by factories when credentials are missing.
	// Such engines are skipped instead of failing the run.
	ErrNotConfigured = errors.New("engine is not configured")
)

// Factory builds an engine client from its configuration.
type Factory func(cfg config.EngineConfig) (ports.Engine, error)

// Binding is an engine ready for the orchestrator.
type Binding struct {
	Engine   ports.Engine
	Prompt   *Prompt
	Interval time.Duration
}

// ID returns the identifier of the bound engine.
func (b Binding) ID() string {
	return b.Engine.ID()
}

// Registry keeps a mapping from engine kinds to their factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, factory Factory) {
	if r.factories == nil {
		r.factories = map[string]Factory{}
	}
	r.factories[kind] = factory
}

// Resolve returns the factory for kind or ErrUnknownKind.
func (r *Registry) Resolve(kind string) (Factory, error) {
	if factory, ok := r.factories[kind]; ok {
		return factory, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
}

// Kinds lists registered kinds in lexical order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Build turns the ordered engine configs into bindings. Unknown kinds and
// broken prompt templates fail the whole build; engines lacking credentials
// are skipped. An empty result is reported as config.ErrNoEngines.
func (r *Registry) Build(cfgs []config.EngineConfig, logger *slog.Logger) ([]Binding, error) {
	bindings := make([]Binding, 0, len(cfgs))
	for _, cfg := range cfgs {
		factory, err := r.Resolve(cfg.Kind)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", cfg.ID, err)
		}

		prompt, err := NewPrompt(cfg.PromptTemplate)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", cfg.ID, err)
		}

		client, err := factory(cfg)
		if errors.Is(err, ErrNotConfigured) {
			if logger != nil {
				logger.Warn("engine skipped", "engine", cfg.ID, "kind", cfg.Kind, "reason", err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", cfg.ID, err)
		}

		bindings = append(bindings, Binding{
			Engine:   client,
			Prompt:   prompt,
			Interval: cfg.Interval(),
		})
		if logger != nil {
			logger.Debug("engine ready", "engine", cfg.ID, "kind", cfg.Kind, "model", cfg.Model, "interval", cfg.Interval())
		}
	}

	if len(bindings) == 0 {
		return nil, config.ErrNoEngines
	}
	return bindings, nil
}
