package aitasks

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"intakeflow/internal/counties"
	"intakeflow/internal/evidence"
)

func evJSON() string {
	return `[{"source_type":"message","source_id":"msg-1","path_or_span":"chars 10-40","snippet":"the other driver ran the light"}]`
}

func TestTaskItemsStructural(t *testing.T) {
	t.Run("non-object fails", func(t *testing.T) {
		_, err := taskItems(json.RawMessage(`["not","an","object"]`), "flags")
		require.Error(t, err)
	})

	t.Run("missing key fails", func(t *testing.T) {
		_, err := taskItems(json.RawMessage(`{"other":[]}`), "flags")
		require.Error(t, err)
	})

	t.Run("non-array value degrades to empty list", func(t *testing.T) {
		items, err := taskItems(json.RawMessage(`{"flags":"oops"}`), "flags")
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("valid array passes through", func(t *testing.T) {
		items, err := taskItems(json.RawMessage(`{"flags":[{"a":1},{"b":2}]}`), "flags")
		require.NoError(t, err)
		assert.Len(t, items, 2)
	})
}

func TestValidateExtractions(t *testing.T) {
	raw := json.RawMessage(`{"extractions":[
		{"field_key":"claimant.full_name","value":"Jane Doe","evidence":` + evJSON() + `},
		{"field_key":"not.on.allowlist","value":"x","evidence":` + evJSON() + `},
		{"field_key":"incident.county","value":null,"evidence":` + evJSON() + `},
		{"field_key":"incident.date","value":"2025-06-01","evidence":[]},
		{"field_key":"claimant.phone","value":"555-0100","evidence":[{"source_type":"bogus","source_id":"f","path_or_span":"p"}]}
	]}`)

	out, err := validateExtractions(raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "claimant.full_name", out[0].FieldKey)
	assert.Equal(t, "Jane Doe", out[0].Value)
}

func TestValidateKeepsItemsWithOverlongSnippets(t *testing.T) {
	long := strings.Repeat("a", 250)
	raw := json.RawMessage(`{"extractions":[
		{"field_key":"claimant.full_name","value":"Jane Doe","evidence":[
			{"source_type":"message","source_id":"msg-1","path_or_span":"chars 0-250","snippet":"` + long + `"}
		]}
	]}`)

	out, err := validateExtractions(raw)
	require.NoError(t, err)
	require.Len(t, out, 1, "a long quote must be trimmed, not cost the item")
	require.Len(t, out[0].Evidence, 1)
	assert.Len(t, out[0].Evidence[0].Snippet, evidence.MaxSnippetLen)
}

func TestValidateFlagsTruncatesAbsentFlagSnippets(t *testing.T) {
	long := strings.Repeat("b", 300)
	raw := json.RawMessage(`{"flags":[
		{"flag_present":false,"label":"statute_risk","evidence":[
			{"source_type":"field","source_id":"intake-1","path_or_span":"$.incident.date","snippet":"` + long + `"}
		]}
	]}`)

	out, err := validateFlags(raw, FlagCategoryRisk)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Len(t, out[0].Evidence[0].Snippet, evidence.MaxSnippetLen)
}

func TestValidateFlagsEvidenceGate(t *testing.T) {
	raw := json.RawMessage(`{"flags":[
		{"flag_present":true,"label":"prior_attorney","detail":"mentioned a prior lawyer","evidence":` + evJSON() + `},
		{"flag_present":true,"label":"no_proof","detail":"asserted without citation"},
		{"flag_present":false,"label":"statute_risk"},
		{"flag_present":true,"label":"","evidence":` + evJSON() + `}
	]}`)

	out, err := validateFlags(raw, FlagCategoryRisk)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "prior_attorney", out[0].Label)
	assert.True(t, out[0].FlagPresent)
	assert.Equal(t, FlagCategoryRisk, out[0].Category)

	// An absent flag asserts nothing and needs no evidence.
	assert.Equal(t, "statute_risk", out[1].Label)
	assert.False(t, out[1].FlagPresent)
	assert.Equal(t, FlagCategoryRisk, out[1].Category)
}

func TestValidateFlagsForcesCategory(t *testing.T) {
	raw := json.RawMessage(`{"flags":[
		{"flag_present":true,"label":"er_visit_pending","category":"risk","evidence":` + evJSON() + `}
	]}`)
	out, err := validateFlags(raw, FlagCategoryUrgency)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, FlagCategoryUrgency, out[0].Category)
}

func TestValidateInconsistencies(t *testing.T) {
	raw := json.RawMessage(`{"inconsistencies":[
		{"description":"incident date differs between form and messages","field_paths":["incident.date"],"evidence":` + evJSON() + `},
		{"description":"","evidence":` + evJSON() + `},
		{"description":"no proof given"}
	]}`)
	out, err := validateInconsistencies(raw)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, []string{"incident.date"}, out[0].FieldPaths)
}

func TestValidateCountyMentionsCanonicalizes(t *testing.T) {
	table, err := counties.Default()
	require.NoError(t, err)

	raw := json.RawMessage(`{"mentions":[
		{"raw_text":"ben  hill","canonical":"Wrong County","evidence":` + evJSON() + `},
		{"raw_text":"Atlantis","canonical":"Fulton","evidence":` + evJSON() + `},
		{"raw_text":"","evidence":` + evJSON() + `}
	]}`)

	out, err := validateCountyMentions(raw, table)
	require.NoError(t, err)
	require.Len(t, out, 2)

	// The model's canonical field is never trusted.
	assert.Equal(t, "Ben Hill", out[0].Canonical)
	assert.Equal(t, "", out[1].Canonical)
	assert.Equal(t, "Atlantis", out[1].RawText)
}

func TestValidateDocumentClassifications(t *testing.T) {
	known := map[string]bool{"doc-1": true, "doc-2": true}
	raw := json.RawMessage(`{"classifications":[
		{"document_id":"doc-1","category":"police_report","confidence":0.9,"evidence":` + evJSON() + `},
		{"document_id":"doc-9","category":"photo","evidence":` + evJSON() + `},
		{"document_id":"doc-2","category":"tax_return","evidence":` + evJSON() + `},
		{"document_id":"doc-2","category":"photo"}
	]}`)

	out, err := validateDocumentClassifications(raw, known)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "doc-1", out[0].DocumentID)
	assert.Equal(t, "police_report", out[0].Category)
}

func TestValidateReviewAttention(t *testing.T) {
	raw := json.RawMessage(`{"attention":[
		{"topic":"statute deadline","priority":"high","reason":"incident 23 months ago","evidence":` + evJSON() + `},
		{"topic":"missing insurer info","priority":"","evidence":` + evJSON() + `},
		{"topic":"odd priority","priority":"urgent","evidence":` + evJSON() + `},
		{"topic":"","priority":"low","evidence":` + evJSON() + `}
	]}`)

	out, err := validateReviewAttention(raw)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "high", out[0].Priority)
	assert.Equal(t, "medium", out[1].Priority)
}
