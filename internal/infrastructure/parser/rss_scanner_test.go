package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ImpactScanner/internal/scanner"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Business</title>
    <item>
      <title>Chip export curbs widen</title>
      <link>https://news.example.org/chips</link>
      <guid>chips-2026-01-09</guid>
      <description><![CDATA[<p>New limits on <b>advanced</b> semiconductors.</p>]]></description>
      <pubDate>Fri, 09 Jan 2026 07:30:00 GMT</pubDate>
    </item>
    <item>
      <title>Fed minutes released</title>
      <link>https://news.example.org/fed</link>
      <description>Officials split on cuts.</description>
    </item>
    <item>
      <title>Third</title>
      <link>https://news.example.org/third</link>
    </item>
  </channel>
</rss>`

func TestRSSScannerScan(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(sampleRSS))
	}))
	defer server.Close()

	sc := NewRSSScanner(server.Client())
	items, err := sc.Scan(context.Background(), scanner.Request{FeedName: "NYTimes_Biz", URL: server.URL, Limit: 2})
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	first := items[0]
	if first.ID != "chips-2026-01-09" {
		t.Fatalf("unexpected id: %s", first.ID)
	}
	if first.Source != "NYTimes_Biz" {
		t.Fatalf("unexpected source: %s", first.Source)
	}
	want := time.Date(2026, time.January, 9, 7, 30, 0, 0, time.UTC)
	if !first.PublishedAt.Equal(want) {
		t.Fatalf("unexpected published date: %v", first.PublishedAt)
	}

	second := items[1]
	if len(second.ID) != 16 {
		t.Fatalf("expected hashed id for guid-less entry, got %q", second.ID)
	}
	if !second.PublishedAt.IsZero() {
		t.Fatalf("expected zero published date, got %v", second.PublishedAt)
	}
	if second.Summary != "Officials split on cuts." {
		t.Fatalf("unexpected summary: %s", second.Summary)
	}
}

func TestRSSScannerRejectsGarbage(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("definitely not a feed"))
	}))
	defer server.Close()

	if _, err := NewRSSScanner(server.Client()).Scan(context.Background(), scanner.Request{FeedName: "x", URL: server.URL}); err == nil {
		t.Fatal("expected parse error")
	}
}
