package ports

import (
	"context"
	"time"

	"ImpactScanner/internal/domain"
)

// NewsSource yields the news items for one run. An empty slice is valid.
type NewsSource interface {
	Fetch(ctx context.Context) ([]domain.NewsItem, error)
}

// Engine wraps one inference endpoint. Invoke performs exactly one call and
// never retries. Expected failures come back as a ProviderResponse; the error
// is reserved for protocol violations such as an undecodable envelope.
type Engine interface {
	ID() string
	Invoke(ctx context.Context, prompt string, item domain.NewsItem) (domain.ProviderResponse, error)
}

// ResultRepository persists analysis results for deduplication and history.
type ResultRepository interface {
	AlreadyAnalyzed(ctx context.Context, keys []string) (map[string]bool, error)
	SaveResults(ctx context.Context, runID string, results []domain.AnalysisResult) error
}

// ReportSink delivers a ranked report to a human-facing channel.
type ReportSink interface {
	Deliver(ctx context.Context, report domain.Report) error
}

// SnapshotWriter stores a collected batch for a later analysis run.
type SnapshotWriter interface {
	WriteSnapshot(ctx context.Context, snapshot domain.Snapshot) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
