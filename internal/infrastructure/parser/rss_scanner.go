package parser

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/scanner"
)

const defaultUserAgent = "ImpactScanner/1.0"

// RSSScanner reads RSS and Atom feeds.
type RSSScanner struct {
	client *http.Client
}

// NewRSSScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewRSSScanner(client *http.Client) *RSSScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &RSSScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (s *RSSScanner) Name() string {
	return "rss"
}

// Scan downloads the feed and returns up to req.Limit entries in feed order.
func (s *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.NewsItem, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent(req))
	httpReq.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned %s", req.FeedName, resp.Status)
	}

	// each call gets its own parser; gofeed.Parser is not safe for concurrent use
	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	entries := feed.Items
	if req.Limit > 0 && len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	items := make([]domain.NewsItem, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		items = append(items, toNewsItem(entry, req.FeedName))
	}
	return items, nil
}

func toNewsItem(entry *gofeed.Item, feedName string) domain.NewsItem {
	link := strings.TrimSpace(entry.Link)

	id := strings.TrimSpace(entry.GUID)
	if id == "" && link != "" {
		id = fmt.Sprintf("%x", sha256.Sum256([]byte(link)))[:16]
	}

	var published time.Time
	switch {
	case entry.PublishedParsed != nil:
		published = entry.PublishedParsed.UTC()
	case entry.UpdatedParsed != nil:
		published = entry.UpdatedParsed.UTC()
	}

	summary := entry.Description
	if strings.TrimSpace(summary) == "" {
		summary = entry.Content
	}

	return domain.NewsItem{
		ID:          id,
		Title:       entry.Title,
		Summary:     summary,
		Source:      feedName,
		PublishedAt: published,
		URL:         link,
	}
}

func userAgent(req scanner.Request) string {
	if req.UserAgent != "" {
		return req.UserAgent
	}
	return defaultUserAgent
}
