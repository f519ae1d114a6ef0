package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"ImpactScanner/internal/config"
	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/ports"
	"ImpactScanner/internal/scanner"
)

// SourceOptions tunes how StrategySource cleans and filters items.
type SourceOptions struct {
	ExcludeDomains []string
	MaxAge         time.Duration
	SummaryLimit   int
	UserAgent      string
	Clock          func() time.Time
}

// StrategySource implements NewsSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	feeds    []config.FeedConfig
	opts     SourceOptions
	logger   *slog.Logger
}

var _ ports.NewsSource = (*StrategySource)(nil)

// NewStrategySource wires the scanner registry with config-defined feeds.
// A feed whose kind has no registered scanner is a configuration error.
func NewStrategySource(reg *scanner.Registry, feeds []config.FeedConfig, opts SourceOptions, log *slog.Logger) (*StrategySource, error) {
	if reg == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}
	for _, feed := range feeds {
		if _, err := reg.Resolve(feed.Kind); err != nil {
			return nil, fmt.Errorf("feed %s: %w", feed.Name, err)
		}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &StrategySource{
		registry: reg,
		feeds:    feeds,
		opts:     opts,
		logger:   log,
	}, nil
}

// Fetch iterates over configured feeds and executes their scanners. A failing
// feed is logged and skipped; an error is returned only when every feed failed.
func (s *StrategySource) Fetch(ctx context.Context) ([]domain.NewsItem, error) {
	s.debug("fetch feeds", "feeds", len(s.feeds))

	var (
		aggregated []domain.NewsItem
		failures   []error
		seen       = map[string]struct{}{}
		now        = s.opts.Clock()
	)

	for _, feed := range s.feeds {
		if err := ctx.Err(); err != nil {
			return aggregated, err
		}

		strategy, err := s.registry.Resolve(feed.Kind)
		if err != nil {
			failures = append(failures, fmt.Errorf("feed %s: %w", feed.Name, err))
			continue
		}

		results, err := strategy.Scan(ctx, scanner.Request{
			FeedName:  feed.Name,
			URL:       feed.URL,
			Limit:     feed.Limit,
			UserAgent: s.opts.UserAgent,
			Options:   feed.Options,
		})
		if err != nil {
			s.warn("feed failed", "feed", feed.Name, "error", err)
			failures = append(failures, fmt.Errorf("scan feed %s: %w", feed.Name, err))
			continue
		}

		kept := 0
		for _, item := range results {
			item, ok := s.normalize(item, feed.Name, now)
			if !ok {
				continue
			}
			if _, dup := seen[item.Key()]; dup {
				continue
			}
			seen[item.Key()] = struct{}{}
			aggregated = append(aggregated, item)
			kept++
		}
		s.debug("feed produced items", "feed", feed.Name, "scanned", len(results), "kept", kept)
	}

	s.debug("strategy source done", "total_items", len(aggregated))
	if len(failures) > 0 && len(failures) == len(s.feeds) {
		return nil, errors.Join(failures...)
	}
	return aggregated, nil
}

func (s *StrategySource) normalize(item domain.NewsItem, feedName string, now time.Time) (domain.NewsItem, bool) {
	item.Title = cleanText(item.Title)
	item.Summary = truncateRunes(cleanText(item.Summary), s.opts.SummaryLimit)
	item.URL = strings.TrimSpace(item.URL)
	if item.Source == "" {
		item.Source = feedName
	}

	if item.Title == "" || item.Key() == "" {
		return item, false
	}
	if s.excluded(item.URL) {
		s.debug("item dropped by domain filter", "url", item.URL)
		return item, false
	}
	if s.opts.MaxAge > 0 && !item.PublishedAt.IsZero() && now.Sub(item.PublishedAt) > s.opts.MaxAge {
		s.debug("item dropped as stale", "url", item.URL, "published", item.PublishedAt)
		return item, false
	}
	return item, true
}

func (s *StrategySource) excluded(link string) bool {
	if len(s.opts.ExcludeDomains) == 0 || link == "" {
		return false
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, domainName := range s.opts.ExcludeDomains {
		d := strings.ToLower(strings.TrimSpace(domainName))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
