package aitasks

import (
	"encoding/json"
	"fmt"
	"strings"

	"intakeflow/internal/counties"
	"intakeflow/internal/evidence"
)

// Validation is two-phase. Phase one is structural and can fail the task: the
// top-level value must be a JSON object carrying the task's array key. Phase
// two filters items one by one and can never fail the task: an item with a
// wrong shape, a non-null claim without evidence, or an out-of-allowlist
// value is silently dropped. One bad item must not sink a useful response.

// taskItems performs the structural phase. A key that is present but not an
// array degrades to an empty list rather than failing the task.
func taskItems(raw json.RawMessage, key string) ([]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("top-level value is not an object: %w", err)
	}
	entry, ok := top[key]
	if !ok {
		return nil, fmt.Errorf("missing %q key", key)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(entry, &items); err != nil {
		return []json.RawMessage{}, nil
	}
	return items, nil
}

// evidenceOK sanitizes model-supplied pointers, then applies the contract.
// Snippet length is capped, not judged: the model never sees the limit, so an
// over-long quote is trimmed rather than costing the whole item.
func evidenceOK(pointers []evidence.Pointer) bool {
	evidence.TruncateSnippets(pointers)
	return evidence.ValidateAll(pointers) == nil
}

func validateExtractions(raw json.RawMessage) ([]Extraction, error) {
	items, err := taskItems(raw, "extractions")
	if err != nil {
		return nil, err
	}
	allowed := map[string]bool{}
	for _, k := range ExtractionFieldAllowlist {
		allowed[k] = true
	}

	out := []Extraction{}
	for _, item := range items {
		var ex Extraction
		if err := json.Unmarshal(item, &ex); err != nil {
			continue
		}
		if !allowed[ex.FieldKey] {
			continue
		}
		if ex.Value == nil {
			continue
		}
		if !evidenceOK(ex.Evidence) {
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

func validateFlags(raw json.RawMessage, category string) ([]Flag, error) {
	items, err := taskItems(raw, "flags")
	if err != nil {
		return nil, err
	}
	out := []Flag{}
	for _, item := range items {
		var f Flag
		if err := json.Unmarshal(item, &f); err != nil {
			continue
		}
		if strings.TrimSpace(f.Label) == "" {
			continue
		}
		// A present flag asserts something and must prove it; an absent
		// flag asserts nothing and may stand alone.
		evidence.TruncateSnippets(f.Evidence)
		if f.FlagPresent && !evidenceOK(f.Evidence) {
			continue
		}
		f.Category = category
		out = append(out, f)
	}
	return out, nil
}

func validateInconsistencies(raw json.RawMessage) ([]Inconsistency, error) {
	items, err := taskItems(raw, "inconsistencies")
	if err != nil {
		return nil, err
	}
	out := []Inconsistency{}
	for _, item := range items {
		var inc Inconsistency
		if err := json.Unmarshal(item, &inc); err != nil {
			continue
		}
		if strings.TrimSpace(inc.Description) == "" {
			continue
		}
		if !evidenceOK(inc.Evidence) {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

func validateCountyMentions(raw json.RawMessage, table *counties.Table) ([]CountyMention, error) {
	items, err := taskItems(raw, "mentions")
	if err != nil {
		return nil, err
	}
	out := []CountyMention{}
	for _, item := range items {
		var m CountyMention
		if err := json.Unmarshal(item, &m); err != nil {
			continue
		}
		if strings.TrimSpace(m.RawText) == "" {
			continue
		}
		if !evidenceOK(m.Evidence) {
			continue
		}
		// Canonicalize against the reference table rather than trusting
		// the model's canonical field.
		if match, ok := table.Lookup(m.RawText); ok {
			m.Canonical = match.County.Name
		} else {
			m.Canonical = ""
		}
		out = append(out, m)
	}
	return out, nil
}

func validateDocumentClassifications(raw json.RawMessage, knownDocs map[string]bool) ([]DocumentClassification, error) {
	items, err := taskItems(raw, "classifications")
	if err != nil {
		return nil, err
	}
	allowed := map[string]bool{}
	for _, c := range DocumentCategories {
		allowed[c] = true
	}

	out := []DocumentClassification{}
	for _, item := range items {
		var dc DocumentClassification
		if err := json.Unmarshal(item, &dc); err != nil {
			continue
		}
		if !knownDocs[dc.DocumentID] || !allowed[dc.Category] {
			continue
		}
		if !evidenceOK(dc.Evidence) {
			continue
		}
		out = append(out, dc)
	}
	return out, nil
}

var reviewPriorities = map[string]bool{"high": true, "medium": true, "low": true}

func validateReviewAttention(raw json.RawMessage) ([]ReviewAttentionItem, error) {
	items, err := taskItems(raw, "attention")
	if err != nil {
		return nil, err
	}
	out := []ReviewAttentionItem{}
	for _, item := range items {
		var ra ReviewAttentionItem
		if err := json.Unmarshal(item, &ra); err != nil {
			continue
		}
		if strings.TrimSpace(ra.Topic) == "" {
			continue
		}
		if ra.Priority == "" {
			ra.Priority = "medium"
		}
		if !reviewPriorities[ra.Priority] {
			continue
		}
		if !evidenceOK(ra.Evidence) {
			continue
		}
		out = append(out, ra)
	}
	return out, nil
}
