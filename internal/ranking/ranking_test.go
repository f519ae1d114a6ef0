package ranking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ImpactScanner/internal/domain"
)

func result(title string, score float64) domain.AnalysisResult {
	return domain.AnalysisResult{Title: title, ImpactScore: score, EngineUsed: "gemini"}
}

func titles(results []domain.AnalysisResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.Title)
	}
	return out
}

func TestFilterAndRank(t *testing.T) {
	t.Parallel()

	input := []domain.AnalysisResult{
		result("a", 3.0),
		result("b", 8.2),
		result("c", 2.0),
		result("d", 5.5),
		result("e", 8.2),
		result("f", 0),
	}

	tests := []struct {
		name      string
		threshold float64
		want      []string
	}{
		{name: "strictly above threshold", threshold: 2.0, want: []string{"b", "e", "d", "a"}},
		{name: "zero drops placeholders", threshold: 0, want: []string{"b", "e", "d", "a", "c"}},
		{name: "nothing qualifies", threshold: 9, want: []string{}},
		{name: "negative keeps all", threshold: -1, want: []string{"b", "e", "d", "a", "c", "f"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, titles(FilterAndRank(input, tt.threshold)))
		})
	}

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, titles(input), "input untouched")
}

func TestFilterAndRankEmpty(t *testing.T) {
	t.Parallel()

	ranked := FilterAndRank(nil, 2)
	assert.NotNil(t, ranked)
	assert.Empty(t, ranked)
}

func TestCounts(t *testing.T) {
	t.Parallel()

	analyzed, placeholders := Counts([]domain.AnalysisResult{
		result("a", 4),
		{Title: "b", EngineUsed: domain.PlaceholderEngine, Rationale: domain.PlaceholderRationale},
		result("c", 1),
	})
	assert.Equal(t, 2, analyzed)
	assert.Equal(t, 1, placeholders)
}
