package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ImpactScanner/internal/api"
	"ImpactScanner/internal/backoff"
	"ImpactScanner/internal/config"
	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/engine"
	"ImpactScanner/internal/infrastructure/console"
	"ImpactScanner/internal/infrastructure/llm"
	"ImpactScanner/internal/infrastructure/ml"
	"ImpactScanner/internal/infrastructure/parser"
	"ImpactScanner/internal/infrastructure/scheduler"
	"ImpactScanner/internal/infrastructure/storage"
	"ImpactScanner/internal/infrastructure/telegram"
	"ImpactScanner/internal/logging"
	"ImpactScanner/internal/ports"
	"ImpactScanner/internal/scanner"
	"ImpactScanner/internal/usecase"
	"ImpactScanner/pkg/logger"
)

const feedTimeout = 20 * time.Second

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg     config.Config
	logger  *slog.Logger
	engines []engine.Binding
	repo    *storage.SQLiteRepository
}

// RunOptions selects the news source of a single run.
type RunOptions struct {
	// SnapshotPath reads items from a collected file instead of the live feeds.
	SnapshotPath string
}

// New validates engines and opens storage. Configuration problems are
// returned here, before any item is processed.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}

	engines, err := NewEngineRegistry().Build(cfg.ChainEngines(), baseLogger.With("component", "engines"))
	if err != nil {
		return nil, fmt.Errorf("build engines: %w", err)
	}

	a := &Application{cfg: cfg, logger: baseLogger, engines: engines}

	if cfg.Database.Path != "" {
		repo, err := storage.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open result store: %w", err)
		}
		a.repo = repo
	}
	return a, nil
}

// NewEngineRegistry registers every engine kind the binary supports.
func NewEngineRegistry() *engine.Registry {
	reg := engine.NewRegistry()
	llm.Register(reg)
	ml.Register(reg)
	return reg
}

// Close releases storage.
func (a *Application) Close() error {
	if a.repo == nil {
		return nil
	}
	return a.repo.Close()
}

// Run performs a single pipeline execution and returns its report.
func (a *Application) Run(ctx context.Context, opts RunOptions) (domain.Report, error) {
	source, err := a.source(opts.SnapshotPath)
	if err != nil {
		return domain.Report{}, err
	}
	pipeline := a.pipeline(source, a.sinks(nil))
	return pipeline.Run(ctx)
}

// Collect fetches the live feeds into the configured snapshot file. It
// needs no engines, so it does not go through New.
func Collect(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (domain.Snapshot, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Logging.Level)
	}
	source, err := newLiveSource(cfg, baseLogger)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snapshot := parser.NewSnapshotFile(cfg.Snapshot.Path)
	return usecase.NewCollector(source, snapshot, baseLogger, nil).Collect(ctx)
}

// Serve runs the cron scheduler and the report server until ctx is done.
func (a *Application) Serve(ctx context.Context) error {
	source, err := newLiveSource(a.cfg, a.logger)
	if err != nil {
		return err
	}

	deps := api.ServerDeps{
		IsBusy: func(err error) bool { return errors.Is(err, usecase.ErrRunInProgress) },
		Logger: a.logger,
	}
	if a.repo != nil {
		deps.History = a.repo
	}
	server := api.NewServer(deps, a.cfg.Server.APIKey)

	pipeline := a.pipeline(source, a.sinks(server))
	server.AttachRunner(pipeline)

	driver, err := scheduler.NewCronScheduler(a.cfg.Scheduler.CronExpression,
		scheduler.WithLocation(a.cfg.Scheduler.Location()),
		scheduler.WithLogger(logger.New(a.logger, "cron")),
	)
	if err != nil {
		return err
	}

	jobs := usecase.NewScheduler(driver, pipeline, a.logger)
	if err := jobs.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	a.logger.Info("scheduler started",
		"cron", a.cfg.Scheduler.CronExpression,
		"timezone", a.cfg.Scheduler.Location().String(),
		"next_run", driver.Next(time.Now()),
	)

	serveErr := server.ListenAndServe(ctx, a.cfg.Server.Addr)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := jobs.Stop(stopCtx); err != nil {
		a.logger.Warn("scheduler did not stop cleanly", "error", err)
	}
	return serveErr
}

func (a *Application) pipeline(source ports.NewsSource, sinks []ports.ReportSink) *usecase.Pipeline {
	fallback := a.cfg.Fallback
	newBackoff := func() *backoff.Controller {
		return backoff.New(backoff.Config{
			BaseDelay:   fallback.BaseDelay.D(),
			MaxDelay:    fallback.MaxDelay.D(),
			MaxExponent: fallback.MaxExponent,
			MaxWait:     fallback.MaxWait.D(),
		})
	}

	deps := usecase.PipelineDeps{
		Source:     source,
		Sinks:      sinks,
		Engines:    a.engines,
		NewBackoff: newBackoff,
		Logger:     a.logger.With("component", "pipeline"),
	}
	if a.repo != nil {
		deps.Repository = a.repo
	}

	return usecase.NewPipeline(deps, usecase.PipelineConfig{
		Orchestrator: usecase.OrchestratorConfig{
			MaxFallbackDepth: fallback.MaxDepth,
			RateLimitRetries: fallback.RateLimitRetries,
			AttemptTimeout:   fallback.AttemptTimeout.D(),
			Workers:          fallback.Workers,
		},
		Threshold: a.cfg.Analysis.Threshold,
		MaxItems:  a.cfg.Analysis.MaxItems,
		Label:     a.cfg.Analysis.RunLabel,
	})
}

// sinks returns the report channels. The log sink is used when neither a
// chat channel nor the HTTP server would show the report.
func (a *Application) sinks(server *api.Server) []ports.ReportSink {
	var sinks []ports.ReportSink
	if tg := a.cfg.Notifications.Telegram; tg.Enabled() {
		sinks = append(sinks, telegram.NewNotifier(tg))
	}
	if server != nil {
		sinks = append(sinks, server)
	}
	if len(sinks) == 0 {
		sinks = append(sinks, console.NewLogSink(a.logger))
	}
	return sinks
}

func (a *Application) source(snapshotPath string) (ports.NewsSource, error) {
	if snapshotPath != "" {
		return parser.NewSnapshotFile(snapshotPath), nil
	}
	live, err := newLiveSource(a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	return live, nil
}

func newLiveSource(cfg config.Config, logger *slog.Logger) (*parser.StrategySource, error) {
	client := &http.Client{Timeout: feedTimeout}

	registry := scanner.NewRegistry()
	registry.Register(parser.NewRSSScanner(client))
	registry.Register(parser.NewHTMLScanner(client))

	return parser.NewStrategySource(registry, cfg.Feeds, parser.SourceOptions{
		ExcludeDomains: cfg.Filters.ExcludeDomains,
		MaxAge:         cfg.Filters.MaxAge.D(),
		SummaryLimit:   cfg.Analysis.SummaryLimit,
		UserAgent:      cfg.UserAgent,
	}, logger.With("component", "source"))
}
