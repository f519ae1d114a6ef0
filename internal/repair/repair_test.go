package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairStripsFences(t *testing.T) {
	t.Parallel()

	raw := "```json\n{\"title\":\"Chip export curbs\",\"impactScore\": 8.2,\"rationale\":\"Semiconductor supply shock\",\"relatedEntities\":[\"NVDA\",\"TSMC\"]}\n```"

	rec, err := Repair(raw)
	require.NoError(t, err)

	assert.Equal(t, "Chip export curbs", rec.Title)
	assert.InDelta(t, 8.2, rec.ImpactScore, 1e-9)
	assert.Equal(t, "Semiconductor supply shock", rec.Rationale)
	assert.Equal(t, []string{"NVDA", "TSMC"}, rec.RelatedEntities)
}

func TestRepairIgnoresSurroundingProse(t *testing.T) {
	t.Parallel()

	raw := `Sure [1]! Here is the analysis you asked for:
{"title": "Fed holds rates", "impactScore": 6, "rationale": "Markets priced it {mostly} in"}
Let me know if you need anything else }`

	rec, err := Repair(raw)
	require.NoError(t, err)
	assert.Equal(t, "Fed holds rates", rec.Title)
	assert.InDelta(t, 6.0, rec.ImpactScore, 1e-9)
	assert.Equal(t, "Markets priced it {mostly} in", rec.Rationale)
}

func TestRepairDefaultsOptionalFields(t *testing.T) {
	t.Parallel()

	rec, err := Repair(`{"rationale":"Minor earnings beat"}`)
	require.NoError(t, err)

	assert.Empty(t, rec.Title)
	assert.Zero(t, rec.ImpactScore)
	assert.NotNil(t, rec.RelatedEntities)
	assert.Empty(t, rec.RelatedEntities)
}

func TestRepairClosesTruncatedDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		raw       string
		rationale string
		entities  []string
	}{
		{
			name:      "inside string",
			raw:       `{"title":"Oil spike","impactScore":7,"rationale":"Supply cut by OPEC`,
			rationale: "Supply cut by OPEC",
			entities:  []string{},
		},
		{
			name:      "inside array",
			raw:       `{"rationale":"Bank failure","impactScore":9,"relatedEntities":["SIVB","FRC"`,
			rationale: "Bank failure",
			entities:  []string{"SIVB", "FRC"},
		},
		{
			name:      "dangling key",
			raw:       `{"rationale":"Strike ends","impactScore":4,"relatedEnt`,
			rationale: "Strike ends",
			entities:  []string{},
		},
		{
			name:      "dangling value",
			raw:       "```json\n{\"rationale\":\"Tariff pause\",\"impactScore\":",
			rationale: "Tariff pause",
			entities:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := Repair(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.rationale, rec.Rationale)
			assert.Equal(t, tt.entities, rec.RelatedEntities)
		})
	}
}

func TestRepairFieldAliases(t *testing.T) {
	t.Parallel()

	raw := `{
  "headline": "Yen slides",
  "impact_score": "7/10",
  "essence": {"subtext": "Carry trade unwinds"},
  "map": {"stocks": "TM, SONY ,,HMC"}
}`

	rec, err := Repair(raw)
	require.NoError(t, err)

	assert.Equal(t, "Yen slides", rec.Title)
	assert.InDelta(t, 7.0, rec.ImpactScore, 1e-9)
	assert.Equal(t, "Carry trade unwinds", rec.Rationale)
	assert.Equal(t, []string{"TM", "SONY", "HMC"}, rec.RelatedEntities)
}

func TestRepairEntityObjects(t *testing.T) {
	t.Parallel()

	rec, err := Repair(`{"reason":"Merger","entities":[{"name":"Acme"},{"ticker":"XYZ"},42,"  "]}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme", "XYZ"}, rec.RelatedEntities)
}

func TestRepairTopLevelArray(t *testing.T) {
	t.Parallel()

	rec, err := Repair(`[1, {"title":"Gold record","score":5.5,"analysis":"Safe haven demand"}]`)
	require.NoError(t, err)
	assert.Equal(t, "Gold record", rec.Title)
	assert.InDelta(t, 5.5, rec.ImpactScore, 1e-9)
}

func TestRepairClampsScore(t *testing.T) {
	t.Parallel()

	high, err := Repair(`{"rationale":"x","impactScore":14}`)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, high.ImpactScore, 1e-9)

	low, err := Repair(`{"rationale":"x","impactScore":-3}`)
	require.NoError(t, err)
	assert.Zero(t, low.ImpactScore)

	scaled, err := Repair(`{"rationale":"x","impactScore":"3 / 5"}`)
	require.NoError(t, err)
	assert.InDelta(t, 6.0, scaled.ImpactScore, 1e-9)
}

func TestRepairDropsReasoningBlock(t *testing.T) {
	t.Parallel()

	rec, err := Repair("<think>maybe {\"rationale\":\"draft\"}</think>{\"rationale\":\"final\",\"impactScore\":3}")
	require.NoError(t, err)
	assert.Equal(t, "final", rec.Rationale)
}

func TestRepairFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		raw   string
		want  error
		field string
	}{
		{name: "empty", raw: "", want: ErrNoStructure},
		{name: "plain prose", raw: "I cannot help with that request.", want: ErrNoStructure},
		{name: "broken json", raw: `{"rationale": "x" "impactScore": 3}`, want: ErrInvalidJSON},
		{name: "array of scalars", raw: `[1, 2, 3]`, want: ErrInvalidJSON},
		{name: "missing rationale", raw: `{"title":"t","impactScore":3}`, want: ErrMissingField, field: "rationale"},
		{name: "blank rationale", raw: `{"rationale":"   "}`, want: ErrMissingField, field: "rationale"},
		{name: "non numeric score", raw: `{"rationale":"x","impactScore":"high"}`, want: ErrInvalidField, field: "impactScore"},
		{name: "boolean score", raw: `{"rationale":"x","impactScore":true}`, want: ErrInvalidField, field: "impactScore"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Repair(tt.raw)
			require.ErrorIs(t, err, tt.want)

			var repairErr *Error
			require.ErrorAs(t, err, &repairErr)
			assert.Equal(t, tt.field, repairErr.Field)
		})
	}
}

func TestRepairIsDeterministic(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"```json\n{\"title\":\"A\",\"impactScore\":8.2,\"rationale\":\"r\",\"relatedEntities\":[\"X\"]}\n```",
		`{"rationale":"cut off","relatedEntities":["A","B`,
		`nothing here`,
	}

	for _, raw := range inputs {
		first, firstErr := Repair(raw)
		second, secondErr := Repair(raw)
		assert.Equal(t, first, second)
		assert.Equal(t, firstErr, secondErr)
	}
}

func TestExtractReturnsDocument(t *testing.T) {
	t.Parallel()

	doc, err := Extract("noise ```json\n{\"a\":{\"b\":[1,2]}}\n``` trailing")
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":[1,2]}}`, doc)
}
