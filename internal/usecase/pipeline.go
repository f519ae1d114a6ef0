package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"ImpactScanner/internal/backoff"
	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/engine"
	"ImpactScanner/internal/ports"
	"ImpactScanner/internal/ranking"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// PipelineDeps wires all driven adapters into the analysis pipeline.
type PipelineDeps struct {
	Source     ports.NewsSource
	Repository ports.ResultRepository
	Sinks      []ports.ReportSink
	Engines    []engine.Binding
	// NewBackoff returns fresh backoff state for each run.
	NewBackoff func() *backoff.Controller
	Logger     *slog.Logger
	Clock      func() time.Time
}

// PipelineConfig holds run-level knobs.
type PipelineConfig struct {
	Orchestrator OrchestratorConfig
	Threshold    float64
	MaxItems     int
	Label        string
}

// Pipeline implements the fetch, analyze, rank and deliver workflow.
type Pipeline struct {
	source     ports.NewsSource
	repository ports.ResultRepository
	sinks      []ports.ReportSink
	engines    []engine.Binding
	newBackoff func() *backoff.Controller
	logger     *slog.Logger
	now        func() time.Time
	cfg        PipelineConfig

	running sync.Mutex
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	newBackoff := deps.NewBackoff
	if newBackoff == nil {
		newBackoff = func() *backoff.Controller { return backoff.New(backoff.Config{}) }
	}

	return &Pipeline{
		source:     deps.Source,
		repository: deps.Repository,
		sinks:      deps.Sinks,
		engines:    deps.Engines,
		newBackoff: newBackoff,
		logger:     logger,
		now:        now,
		cfg:        cfg,
	}
}

// Run executes one pipeline pass. Provider and sink failures never fail the
// run; the returned error is reserved for overlapping runs and cancellation
// before any work started.
func (p *Pipeline) Run(ctx context.Context) (domain.Report, error) {
	if !p.running.TryLock() {
		return domain.Report{}, ErrRunInProgress
	}
	defer p.running.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.Report{}, fmt.Errorf("run not started: %w", err)
	}

	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	started := p.now()
	logger.Info("run started", "label", p.cfg.Label, "threshold", p.cfg.Threshold)

	items := p.fetch(ctx, logger)
	if p.cfg.MaxItems > 0 && len(items) > p.cfg.MaxItems {
		logger.Info("limiting items", "fetched", len(items), "max", p.cfg.MaxItems)
		items = items[:p.cfg.MaxItems]
	}
	items = p.skipAnalyzed(ctx, logger, items)

	orchestrator := NewOrchestrator(OrchestratorDeps{
		Engines: p.engines,
		Backoff: p.newBackoff(),
		Logger:  logger,
		Clock:   p.now,
	}, p.cfg.Orchestrator)

	results := orchestrator.AnalyzeAll(ctx, items)

	if p.repository != nil && len(results) > 0 {
		if err := p.repository.SaveResults(ctx, runID, results); err != nil {
			logger.Error("persist results failed", "error", err)
		}
	}

	analyzed, placeholders := ranking.Counts(results)
	report := domain.Report{
		RunID:        runID,
		Label:        p.cfg.Label,
		GeneratedAt:  p.now(),
		Threshold:    p.cfg.Threshold,
		Analyzed:     analyzed,
		Placeholders: placeholders,
		Results:      ranking.FilterAndRank(results, p.cfg.Threshold),
	}

	stats := orchestrator.Stats()
	logger.Info("analysis finished",
		"items", len(items),
		"analyzed", analyzed,
		"placeholders", placeholders,
		"ranked", len(report.Results),
		"attempts", attemptSummary(stats),
		"elapsed", p.now().Sub(started),
	)

	p.deliver(ctx, logger, report)
	return report, nil
}

func (p *Pipeline) fetch(ctx context.Context, logger *slog.Logger) []domain.NewsItem {
	if p.source == nil {
		return nil
	}
	items, err := p.source.Fetch(ctx)
	if err != nil {
		logger.Error("fetch failed, continuing with no items", "error", err)
		return nil
	}
	logger.Info("items fetched", "count", len(items))
	return items
}

func (p *Pipeline) skipAnalyzed(ctx context.Context, logger *slog.Logger, items []domain.NewsItem) []domain.NewsItem {
	if p.repository == nil || len(items) == 0 {
		return items
	}

	keys := make([]string, len(items))
	for i, item := range items {
		keys[i] = item.Key()
	}

	seen, err := p.repository.AlreadyAnalyzed(ctx, keys)
	if err != nil {
		logger.Warn("load analyzed keys failed, analyzing everything", "error", err)
		return items
	}

	fresh := items[:0:0]
	for _, item := range items {
		if seen[item.Key()] {
			continue
		}
		fresh = append(fresh, item)
	}
	if skipped := len(items) - len(fresh); skipped > 0 {
		logger.Info("skipping items analyzed in earlier runs", "skipped", skipped)
	}
	return fresh
}

// deliver hands the report to every sink. Delivery still runs when the run
// context is done so that a cancelled run reports what it has.
func (p *Pipeline) deliver(ctx context.Context, logger *slog.Logger, report domain.Report) {
	deliverCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		deliverCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
	}

	for _, sink := range p.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Deliver(deliverCtx, report); err != nil {
			logger.Error("report delivery failed", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
}

func attemptSummary(stats Stats) map[string]int {
	out := make(map[string]int, len(stats.Attempts))
	for outcome, n := range stats.Attempts {
		out[outcome.String()] = n
	}
	return out
}
