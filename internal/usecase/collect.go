package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/ports"
)

// Collector fetches the live feeds and stores them for a later analysis run.
type Collector struct {
	source ports.NewsSource
	writer ports.SnapshotWriter
	logger *slog.Logger
	now    func() time.Time
}

// NewCollector wires a source to a snapshot writer.
func NewCollector(source ports.NewsSource, writer ports.SnapshotWriter, logger *slog.Logger, clock func() time.Time) *Collector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if clock == nil {
		clock = time.Now
	}
	return &Collector{source: source, writer: writer, logger: logger.With("component", "collector"), now: clock}
}

// Collect writes one snapshot. Unlike a run, a failing source fails the
// collection so that a good snapshot is never replaced by an empty one.
func (c *Collector) Collect(ctx context.Context) (domain.Snapshot, error) {
	items, err := c.source.Fetch(ctx)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("fetch news: %w", err)
	}
	if items == nil {
		items = []domain.NewsItem{}
	}

	snapshot := domain.Snapshot{CollectedAt: c.now().UTC(), Items: items}
	if err := c.writer.WriteSnapshot(ctx, snapshot); err != nil {
		return domain.Snapshot{}, fmt.Errorf("write snapshot: %w", err)
	}

	c.logger.Info("snapshot written", "items", len(items))
	return snapshot, nil
}
