package domain

import "time"

// PlaceholderEngine marks results synthesized after every engine failed.
const PlaceholderEngine = "fallback"

// PlaceholderRationale is the rationale carried by placeholder results.
const PlaceholderRationale = "analysis unavailable"

// NewsItem is a single record yielded by a news source.
type NewsItem struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"url"`
}

// Key identifies the item across runs: the URL when present, the ID otherwise.
func (n NewsItem) Key() string {
	if n.URL != "" {
		return n.URL
	}
	return n.ID
}

// AnalysisResult is the structured impact judgment for one news item.
type AnalysisResult struct {
	ItemKey         string    `json:"item_key"`
	Title           string    `json:"title"`
	ImpactScore     float64   `json:"impact_score"`
	Rationale       string    `json:"rationale"`
	RelatedEntities []string  `json:"related_entities"`
	EngineUsed      string    `json:"engine_used"`
	Source          string    `json:"source,omitempty"`
	URL             string    `json:"url,omitempty"`
	AnalyzedAt      time.Time `json:"analyzed_at"`
}

// IsPlaceholder reports whether no engine produced this result.
func (r AnalysisResult) IsPlaceholder() bool {
	return r.EngineUsed == PlaceholderEngine
}

// Placeholder builds the result substituted when the fallback chain is exhausted.
func Placeholder(item NewsItem, at time.Time) AnalysisResult {
	return AnalysisResult{
		ItemKey:         item.Key(),
		Title:           item.Title,
		ImpactScore:     0,
		Rationale:       PlaceholderRationale,
		RelatedEntities: []string{},
		EngineUsed:      PlaceholderEngine,
		Source:          item.Source,
		URL:             item.URL,
		AnalyzedAt:      at,
	}
}

// Report is the ranked output of one pipeline run.
type Report struct {
	RunID        string           `json:"run_id"`
	Label        string           `json:"label"`
	GeneratedAt  time.Time        `json:"generated_at"`
	Threshold    float64          `json:"threshold"`
	Analyzed     int              `json:"analyzed"`
	Placeholders int              `json:"placeholders"`
	Results      []AnalysisResult `json:"results"`
}

// Snapshot is the on-disk form of a collected batch of news items.
type Snapshot struct {
	CollectedAt time.Time  `json:"collected_at"`
	Items       []NewsItem `json:"articles"`
}
