package ranking

import (
	"cmp"
	"slices"

	"ImpactScanner/internal/domain"
)

// FilterAndRank keeps results scoring strictly above threshold and orders
// them by score, highest first. Equal scores keep their input order.
// The input slice is not modified.
func FilterAndRank(results []domain.AnalysisResult, threshold float64) []domain.AnalysisResult {
	ranked := make([]domain.AnalysisResult, 0, len(results))
	for _, r := range results {
		if r.ImpactScore > threshold {
			ranked = append(ranked, r)
		}
	}

	slices.SortStableFunc(ranked, func(a, b domain.AnalysisResult) int {
		return cmp.Compare(b.ImpactScore, a.ImpactScore)
	})
	return ranked
}

// Counts summarizes a result set for report headers.
func Counts(results []domain.AnalysisResult) (analyzed, placeholders int) {
	for _, r := range results {
		if r.IsPlaceholder() {
			placeholders++
			continue
		}
		analyzed++
	}
	return analyzed, placeholders
}
