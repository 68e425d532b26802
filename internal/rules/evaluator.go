package rules

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"intakeflow/internal/counties"
	"intakeflow/internal/fieldpath"
)

// Evaluate runs every catalog rule against payload. Pure: no I/O, no clock,
// no randomness; identical inputs produce identical results. Rules run in
// catalog order and never see each other's output.
func Evaluate(payload map[string]interface{}, cat *Catalog, table *counties.Table, evaluatedAt time.Time) Result {
	res := Result{
		RulesetVersion:        cat.RulesetVersion,
		EvaluatedAt:           evaluatedAt,
		RequiredFieldsMissing: []string{},
		Blocks:                []Finding{},
		Warnings:              []Finding{},
		Normalizations:        map[string]Normalization{},
		RuleEvaluations:       make([]Evaluation, 0, len(cat.Rules)),
	}

	seenMissing := map[string]bool{}

	for _, rule := range cat.Rules {
		eval := Evaluation{
			RuleID:         rule.RuleID,
			Severity:       rule.Severity,
			RulesetVersion: cat.RulesetVersion,
			EvaluatedAt:    evaluatedAt,
		}

		if !applies(payload, rule.AppliesWhen) {
			eval.Passed = true
			eval.Evidence = map[string]interface{}{"skipped": true}
			res.RuleEvaluations = append(res.RuleEvaluations, eval)
			continue
		}

		verdict := dispatch(payload, rule, table)
		eval.Passed = verdict.passed
		eval.Evidence = verdict.evidence
		eval.Message = verdict.message
		res.RuleEvaluations = append(res.RuleEvaluations, eval)

		if verdict.normalization != nil {
			// Last csv_lookup rule targeting a path wins.
			res.Normalizations[verdict.normalization.FieldPath] = *verdict.normalization
		}

		if verdict.passed {
			continue
		}

		finding := Finding{
			RuleID:   rule.RuleID,
			Severity: rule.Severity,
			Message:  verdict.message,
			Evidence: verdict.evidence,
		}
		switch rule.Severity {
		case SeverityBlock:
			res.Blocks = append(res.Blocks, finding)
			for _, p := range verdict.missingPaths {
				if !seenMissing[p] {
					seenMissing[p] = true
					res.RequiredFieldsMissing = append(res.RequiredFieldsMissing, p)
				}
			}
		default:
			res.Warnings = append(res.Warnings, finding)
		}
	}

	return res
}

type verdict struct {
	passed        bool
	evidence      map[string]interface{}
	message       string
	missingPaths  []string
	normalization *Normalization
}

func dispatch(payload map[string]interface{}, rule Rule, table *counties.Table) verdict {
	switch rule.Strategy.Type {
	case StrategyMissingOrNull:
		return evalMissingOrNull(payload, rule)
	case StrategyCSVLookup:
		return evalCSVLookup(payload, rule, table)
	case StrategyEnumMembership:
		return evalEnumMembership(payload, rule)
	case StrategyTypeCheck:
		return evalTypeCheck(payload, rule)
	case StrategyDateOrder:
		return evalDateOrder(payload, rule)
	}
	// Unreachable for validated catalogs.
	return verdict{passed: true, evidence: map[string]interface{}{"unknown_strategy": string(rule.Strategy.Type)}}
}

func evalMissingOrNull(payload map[string]interface{}, rule Rule) verdict {
	var missing []string
	for _, path := range rule.Strategy.Paths {
		if pathMissing(payload, path) {
			missing = append(missing, path)
		}
	}
	if len(missing) == 0 {
		return verdict{passed: true, evidence: map[string]interface{}{"checked_paths": rule.Strategy.Paths}}
	}
	return verdict{
		passed:       false,
		evidence:     map[string]interface{}{"missing_paths": missing},
		message:      renderMessage(rule.MessageTemplate, strings.Join(missing, ", "), ""),
		missingPaths: missing,
	}
}

func evalCSVLookup(payload map[string]interface{}, rule Rule, table *counties.Table) verdict {
	values := resolvePresent(payload, rule.Strategy.Path)
	if len(values) == 0 {
		// Absence is not this rule's concern; a presence rule covers it.
		return verdict{passed: true, evidence: map[string]interface{}{"input_absent": true}}
	}

	raw := fmt.Sprintf("%v", values[0])
	match, ok := table.Lookup(raw)
	if !ok {
		return verdict{
			passed: false,
			evidence: map[string]interface{}{
				"attempted_value": raw,
				"lookup_source":   table.Source(),
			},
			message: renderMessage(rule.MessageTemplate, rule.Strategy.Path, raw),
		}
	}

	return verdict{
		passed: true,
		evidence: map[string]interface{}{
			"raw_value":      raw,
			"canonical":      match.County.Name,
			"match_strategy": string(match.Strategy),
		},
		normalization: &Normalization{
			FieldPath:     rule.Strategy.Path,
			RawValue:      raw,
			Normalized:    match.County.Name,
			MatchStrategy: string(match.Strategy),
			Source:        table.Source(),
		},
	}
}

func evalEnumMembership(payload map[string]interface{}, rule Rule) verdict {
	allowed := map[string]bool{}
	for _, a := range rule.Strategy.Allowed {
		allowed[a] = true
	}

	var invalid []interface{}
	for _, v := range resolvePresent(payload, rule.Strategy.Path) {
		s, ok := v.(string)
		if !ok || !allowed[s] {
			invalid = append(invalid, v)
		}
	}
	if len(invalid) == 0 {
		return verdict{passed: true, evidence: map[string]interface{}{"allowed": rule.Strategy.Allowed}}
	}
	return verdict{
		passed: false,
		evidence: map[string]interface{}{
			"invalid_values": invalid,
			"allowed":        rule.Strategy.Allowed,
		},
		message: renderMessage(rule.MessageTemplate, rule.Strategy.Path, fmt.Sprintf("%v", invalid)),
	}
}

func evalTypeCheck(payload map[string]interface{}, rule Rule) verdict {
	var invalid []interface{}
	for _, v := range resolvePresent(payload, rule.Strategy.Path) {
		if !satisfiesType(v, rule.Strategy.Expected) {
			invalid = append(invalid, v)
		}
	}
	if len(invalid) == 0 {
		return verdict{passed: true, evidence: map[string]interface{}{"expected": rule.Strategy.Expected}}
	}
	return verdict{
		passed: false,
		evidence: map[string]interface{}{
			"invalid_values": invalid,
			"expected":       rule.Strategy.Expected,
		},
		message: renderMessage(rule.MessageTemplate, rule.Strategy.Path, fmt.Sprintf("%v", invalid)),
	}
}

func evalDateOrder(payload map[string]interface{}, rule Rule) verdict {
	left, lok := firstDate(payload, rule.Strategy.LeftPath)
	right, rok := firstDate(payload, rule.Strategy.RightPath)
	if !lok || !rok {
		// Ordering rules never block on absence or unparseable endpoints.
		return verdict{passed: true, evidence: map[string]interface{}{"endpoints_incomplete": true}}
	}

	var ordered bool
	switch rule.Strategy.Operator {
	case "<":
		ordered = left.Before(right)
	case "<=":
		ordered = !left.After(right)
	case ">":
		ordered = left.After(right)
	case ">=":
		ordered = !left.Before(right)
	}

	ev := map[string]interface{}{
		"left":     left.Format("2006-01-02"),
		"right":    right.Format("2006-01-02"),
		"operator": rule.Strategy.Operator,
	}
	if ordered {
		return verdict{passed: true, evidence: ev}
	}
	return verdict{
		passed:   false,
		evidence: ev,
		message:  renderMessage(rule.MessageTemplate, rule.Strategy.LeftPath, rule.Strategy.Operator),
	}
}

// applies evaluates the applies_when conjunction. An empty clause always
// applies.
func applies(payload map[string]interface{}, conds []Condition) bool {
	for _, cond := range conds {
		values := resolvePresent(payload, cond.Path)

		if cond.Exists != nil {
			if (len(values) > 0) != *cond.Exists {
				return false
			}
		}
		if cond.Equals != nil {
			if !anyEquals(values, cond.Equals) {
				return false
			}
		}
		for _, cmp := range []struct {
			bound *float64
			ok    func(v, b float64) bool
		}{
			{cond.GT, func(v, b float64) bool { return v > b }},
			{cond.GTE, func(v, b float64) bool { return v >= b }},
			{cond.LT, func(v, b float64) bool { return v < b }},
			{cond.LTE, func(v, b float64) bool { return v <= b }},
		} {
			if cmp.bound == nil {
				continue
			}
			satisfied := false
			for _, v := range values {
				if n, ok := v.(float64); ok && cmp.ok(n, *cmp.bound) {
					satisfied = true
					break
				}
			}
			if !satisfied {
				return false
			}
		}
	}
	return true
}

func anyEquals(values []interface{}, want interface{}) bool {
	for _, v := range values {
		if reflect.DeepEqual(v, want) {
			return true
		}
	}
	return false
}

// isMissing is the shared emptiness definition: nil, empty string, empty
// array, or an array whose every element is itself missing. The recursion is
// what lets a repeatable section with zero entries, or all-blank entries,
// count as not yet provided.
func isMissing(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []interface{}:
		for _, elem := range val {
			if !isMissing(elem) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// resolvePresent resolves a pre-validated path and filters out missing values.
func resolvePresent(payload map[string]interface{}, path string) []interface{} {
	resolved, err := fieldpath.Resolve(payload, path)
	if err != nil {
		return nil
	}
	var out []interface{}
	for _, v := range resolved {
		if !isMissing(v) {
			out = append(out, v)
		}
	}
	return out
}

// pathMissing reports whether a path has no non-missing value at all.
func pathMissing(payload map[string]interface{}, path string) bool {
	return len(resolvePresent(payload, path)) == 0
}

func satisfiesType(v interface{}, expected string) bool {
	switch expected {
	case "number":
		n, ok := v.(float64)
		return ok && !math.IsInf(n, 0) && !math.IsNaN(n)
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "date":
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, ok = parseDate(s)
		return ok
	}
	return false
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006"}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func firstDate(payload map[string]interface{}, path string) (time.Time, bool) {
	for _, v := range resolvePresent(payload, path) {
		if s, ok := v.(string); ok {
			if t, ok := parseDate(s); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// renderMessage fills the two placeholders message templates may carry.
func renderMessage(template, path, value string) string {
	msg := strings.ReplaceAll(template, "{path}", path)
	return strings.ReplaceAll(msg, "{value}", value)
}
