package console

import (
	"context"
	"log/slog"
	"strings"

	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/ports"
)

// LogSink writes the ranked report through slog. It is the sink of last
// resort when no chat channel is configured.
type LogSink struct {
	logger *slog.Logger
}

var _ ports.ReportSink = (*LogSink)(nil)

// NewLogSink builds a sink logging at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "report")}
}

// Deliver logs a header line followed by one line per ranked result.
func (s *LogSink) Deliver(ctx context.Context, report domain.Report) error {
	s.logger.InfoContext(ctx, "report",
		"run_id", report.RunID,
		"label", report.Label,
		"analyzed", report.Analyzed,
		"placeholders", report.Placeholders,
		"ranked", len(report.Results),
		"threshold", report.Threshold,
	)
	if len(report.Results) == 0 {
		s.logger.InfoContext(ctx, "no qualifying items")
		return nil
	}

	for i, res := range report.Results {
		s.logger.InfoContext(ctx, "ranked item",
			"rank", i+1,
			"score", res.ImpactScore,
			"title", res.Title,
			"engine", res.EngineUsed,
			"entities", strings.Join(res.RelatedEntities, ","),
			"url", res.URL,
		)
	}
	return nil
}
