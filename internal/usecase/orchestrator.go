package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ImpactScanner/internal/backoff"
	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/engine"
	"ImpactScanner/internal/repair"
)

const (
	defaultAttemptTimeout = time.Minute
	rawTextLogLimit       = 200
)

// OrchestratorConfig bounds the fallback chain for every item.
type OrchestratorConfig struct {
	// MaxFallbackDepth limits how many engines are tried per item; 0 means all.
	MaxFallbackDepth int
	// RateLimitRetries is how many times a rate-limited engine is retried
	// for the same item before the chain advances.
	RateLimitRetries int
	// AttemptTimeout bounds a single engine call, including one that is
	// allowed to finish after the run was cancelled.
	AttemptTimeout time.Duration
	Workers        int
}

// OrchestratorDeps wires engines and the shared backoff state.
type OrchestratorDeps struct {
	Engines []engine.Binding
	Backoff *backoff.Controller
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Stats counts engine attempts made during a run.
type Stats struct {
	Attempts     map[domain.Outcome]int
	ByEngine     map[string]int
	Placeholders int
}

// Orchestrator resolves every news item to exactly one analysis result by
// walking an ordered chain of engines.
type Orchestrator struct {
	engines []engine.Binding
	backoff *backoff.Controller
	logger  *slog.Logger
	now     func() time.Time
	cfg     OrchestratorConfig

	mu    sync.Mutex
	stats Stats
}

// NewOrchestrator registers every engine's spacing interval with the
// backoff controller and returns a ready orchestrator.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	engines := deps.Engines
	if cfg.MaxFallbackDepth > 0 && len(engines) > cfg.MaxFallbackDepth {
		engines = engines[:cfg.MaxFallbackDepth]
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RateLimitRetries < 0 {
		cfg.RateLimitRetries = 0
	}

	ctrl := deps.Backoff
	if ctrl == nil {
		ctrl = backoff.New(backoff.Config{})
	}
	for _, b := range engines {
		ctrl.Register(b.ID(), b.Interval)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		engines: engines,
		backoff: ctrl,
		logger:  logger.With("component", "orchestrator"),
		now:     now,
		cfg:     cfg,
		stats: Stats{
			Attempts: map[domain.Outcome]int{},
			ByEngine: map[string]int{},
		},
	}
}

// AnalyzeAll analyzes items with up to cfg.Workers in flight. The result at
// index i belongs to items[i].
func (o *Orchestrator) AnalyzeAll(ctx context.Context, items []domain.NewsItem) []domain.AnalysisResult {
	results := make([]domain.AnalysisResult, len(items))
	if o.cfg.Workers == 1 {
		for i, item := range items {
			results[i] = o.Analyze(ctx, item)
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i, item := range items {
		g.Go(func() error {
			results[i] = o.Analyze(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Analyze walks the engine chain for one item. It always returns a result:
// once every engine failed, or the context was cancelled, a placeholder.
func (o *Orchestrator) Analyze(ctx context.Context, item domain.NewsItem) domain.AnalysisResult {
	for _, b := range o.engines {
		if ctx.Err() != nil {
			o.logger.Info("run cancelled, skipping remaining engines", "item", item.Key(), "engine", b.ID())
			break
		}
		if result, ok := o.tryEngine(ctx, b, item); ok {
			return result
		}
	}

	o.mu.Lock()
	o.stats.Placeholders++
	o.mu.Unlock()

	o.logger.Warn("fallback chain exhausted", "item", item.Key(), "title", item.Title)
	return domain.Placeholder(item, o.now())
}

// Stats returns a copy of the attempt counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		Attempts:     maps.Clone(o.stats.Attempts),
		ByEngine:     maps.Clone(o.stats.ByEngine),
		Placeholders: o.stats.Placeholders,
	}
}

// tryEngine runs one engine for item, retrying rate limits within budget.
func (o *Orchestrator) tryEngine(ctx context.Context, b engine.Binding, item domain.NewsItem) (domain.AnalysisResult, bool) {
	id := b.ID()

	prompt, err := b.Prompt.Render(item)
	if err != nil {
		o.logger.Error("prompt render failed", "engine", id, "item", item.Key(), "error", err)
		return domain.AnalysisResult{}, false
	}

	for retry := 0; ; retry++ {
		if err := o.backoff.Wait(ctx, id); err != nil {
			o.logger.Warn("spacing wait aborted", "engine", id, "item", item.Key(), "error", err)
			return domain.AnalysisResult{}, false
		}

		resp, attempt := o.invoke(ctx, b, prompt, item)

		switch resp.Outcome {
		case domain.OutcomeSuccess:
			o.backoff.Succeeded(id)

			record, err := repair.Repair(resp.Text)
			if err != nil {
				attempt.Outcome = domain.OutcomeMalformed
				attempt.Err = err
				o.record(attempt, item)
				return domain.AnalysisResult{}, false
			}
			o.record(attempt, item)
			return o.buildResult(item, id, record), true

		case domain.OutcomeRateLimited:
			o.record(attempt, item)
			if retry >= o.cfg.RateLimitRetries || ctx.Err() != nil {
				return domain.AnalysisResult{}, false
			}
			wait, err := o.backoff.RateLimited(ctx, id, resp.RetryAfter)
			if err != nil {
				o.logger.Warn("rate limit backoff aborted", "engine", id, "item", item.Key(), "error", err)
				return domain.AnalysisResult{}, false
			}
			o.logger.Info("retrying after rate limit", "engine", id, "item", item.Key(), "retry", retry+1, "waited", wait)

		default:
			o.record(attempt, item)
			return domain.AnalysisResult{}, false
		}
	}
}

// invoke performs exactly one engine call. A call that has been dispatched
// is not interrupted by run cancellation; AttemptTimeout still bounds it.
func (o *Orchestrator) invoke(ctx context.Context, b engine.Binding, prompt string, item domain.NewsItem) (domain.ProviderResponse, domain.EngineAttempt) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.AttemptTimeout)
	defer cancel()

	started := o.now()
	resp, err := b.Engine.Invoke(callCtx, prompt, item)
	if err != nil {
		resp = domain.TransportError(fmt.Errorf("protocol violation: %w", err))
	}

	attempt := domain.EngineAttempt{
		EngineID: b.ID(),
		Outcome:  resp.Outcome,
		RawText:  resp.Text,
		Err:      resp.Err,
		Duration: o.now().Sub(started),
	}
	if resp.Outcome == domain.OutcomeRefused && resp.Reason != "" {
		attempt.Err = fmt.Errorf("refused: %s", resp.Reason)
	}
	return resp, attempt
}

func (o *Orchestrator) record(attempt domain.EngineAttempt, item domain.NewsItem) {
	o.mu.Lock()
	o.stats.Attempts[attempt.Outcome]++
	o.stats.ByEngine[attempt.EngineID]++
	o.mu.Unlock()

	attrs := []any{
		"engine", attempt.EngineID,
		"outcome", attempt.Outcome.String(),
		"item", item.Key(),
		"duration", attempt.Duration,
	}
	if attempt.Outcome == domain.OutcomeSuccess {
		o.logger.Debug("engine attempt", attrs...)
		return
	}
	if attempt.Err != nil {
		attrs = append(attrs, "error", attempt.Err)
	}
	if attempt.Outcome == domain.OutcomeMalformed {
		attrs = append(attrs, "raw", truncate(attempt.RawText, rawTextLogLimit))
	}
	o.logger.Warn("engine attempt failed", attrs...)
}

func (o *Orchestrator) buildResult(item domain.NewsItem, engineID string, record repair.Record) domain.AnalysisResult {
	title := record.Title
	if title == "" {
		title = item.Title
	}
	return domain.AnalysisResult{
		ItemKey:         item.Key(),
		Title:           title,
		ImpactScore:     record.ImpactScore,
		Rationale:       record.Rationale,
		RelatedEntities: record.RelatedEntities,
		EngineUsed:      engineID,
		Source:          item.Source,
		URL:             item.URL,
		AnalyzedAt:      o.now(),
	}
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}
