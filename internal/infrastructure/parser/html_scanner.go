package parser

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"ImpactScanner/internal/domain"
	"ImpactScanner/internal/scanner"
)

// Default selectors used when a feed does not configure its own.
const (
	defaultItemSelector    = "article"
	defaultTitleSelector   = "h1, h2, h3"
	defaultLinkSelector    = "a[href]"
	defaultSummarySelector = "p"
	defaultDateSelector    = "time"
)

var (
	dateExpr    = regexp.MustCompile(`\d{1,2} [A-Za-z]{3,9} \d{4}`)
	dateLayouts = []string{
		time.RFC3339,
		time.RFC1123Z,
		time.RFC1123,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
		"January 2, 2006",
		"Jan 2, 2006",
	}
)

// HTMLScanner extracts news items from listing pages using CSS selectors
// configured per feed: item, title, link, summary and date.
type HTMLScanner struct {
	client *http.Client
}

// NewHTMLScanner wires an HTTP client; a nil client gets a 20s timeout.
func NewHTMLScanner(client *http.Client) *HTMLScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTMLScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (h *HTMLScanner) Name() string {
	return "html"
}

// Scan fetches the listing page and returns up to req.Limit entries.
func (h *HTMLScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.NewsItem, error) {
	base, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %s: %w", req.URL, err)
	}

	doc, err := h.fetchDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	var items []domain.NewsItem
	seen := map[string]struct{}{}
	doc.Find(req.Option("item", defaultItemSelector)).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		item, ok := parseEntry(sel, base, req)
		if !ok {
			return true
		}
		if _, dup := seen[item.Key()]; dup {
			return true
		}
		seen[item.Key()] = struct{}{}
		items = append(items, item)
		return req.Limit <= 0 || len(items) < req.Limit
	})

	return items, nil
}

func (h *HTMLScanner) fetchDocument(ctx context.Context, req scanner.Request) (*goquery.Document, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent(req))

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("page %s returned %s", req.FeedName, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func parseEntry(sel *goquery.Selection, base *url.URL, req scanner.Request) (domain.NewsItem, bool) {
	title := strings.TrimSpace(sel.Find(req.Option("title", defaultTitleSelector)).First().Text())

	linkSel := sel.Find(req.Option("link", defaultLinkSelector)).First()
	href, _ := linkSel.Attr("href")
	if href == "" {
		// the item element itself may be the anchor
		href, _ = sel.Attr("href")
	}
	if title == "" {
		title = strings.TrimSpace(linkSel.Text())
	}
	if title == "" || href == "" {
		return domain.NewsItem{}, false
	}

	link := resolveLink(base, href)
	summary := strings.TrimSpace(sel.Find(req.Option("summary", defaultSummarySelector)).First().Text())

	return domain.NewsItem{
		ID:          fmt.Sprintf("%x", sha256.Sum256([]byte(link)))[:16],
		Title:       title,
		Summary:     summary,
		Source:      req.FeedName,
		PublishedAt: parseDate(sel.Find(req.Option("date", defaultDateSelector)).First()),
		URL:         link,
	}, true
}

func resolveLink(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// parseDate reads the datetime attribute first, then the element text.
// Unknown formats yield the zero time.
func parseDate(sel *goquery.Selection) time.Time {
	candidates := make([]string, 0, 2)
	if attr, ok := sel.Attr("datetime"); ok {
		candidates = append(candidates, strings.TrimSpace(attr))
	}
	candidates = append(candidates, strings.TrimSpace(sel.Text()))

	for _, text := range candidates {
		if text == "" {
			continue
		}
		for _, layout := range dateLayouts {
			if parsed, err := time.Parse(layout, text); err == nil {
				return parsed.UTC()
			}
		}
		if match := dateExpr.FindString(text); match != "" {
			for _, layout := range []string{"2 Jan 2006", "2 January 2006"} {
				if parsed, err := time.Parse(layout, match); err == nil {
					return parsed
				}
			}
		}
	}
	return time.Time{}
}
