// Package rules implements the intake rule engine: a declarative catalog of
// validation rules evaluated against a submitted intake payload, producing
// blocking and warning findings, field normalizations, and a full per-rule
// trace persisted as a versioned evaluation record.
package rules

import (
	"time"
)

// Severity routes a failed rule to blocks or warnings.
type Severity string

const (
	SeverityBlock   Severity = "block"
	SeverityWarning Severity = "warning"
)

// StrategyType discriminates the evidence-strategy union.
type StrategyType string

const (
	StrategyMissingOrNull  StrategyType = "missing_or_null"
	StrategyCSVLookup      StrategyType = "csv_lookup"
	StrategyEnumMembership StrategyType = "enum_membership"
	StrategyTypeCheck      StrategyType = "type_check"
	StrategyDateOrder      StrategyType = "date_order"
)

// Condition is one conjunct of a rule's applies_when clause. At least one of
// Exists, Equals, or a numeric comparator must be set.
type Condition struct {
	Path   string      `json:"path"`
	Exists *bool       `json:"exists,omitempty"`
	Equals interface{} `json:"equals,omitempty"`
	GT     *float64    `json:"gt,omitempty"`
	GTE    *float64    `json:"gte,omitempty"`
	LT     *float64    `json:"lt,omitempty"`
	LTE    *float64    `json:"lte,omitempty"`
}

// Strategy is the evidence strategy of one rule. Exactly one variant's fields
// are populated; the catalog validator enforces the closed key set per
// variant before a strategy ever reaches the evaluator.
type Strategy struct {
	Type StrategyType `json:"type"`

	// missing_or_null
	Paths []string `json:"paths,omitempty"`

	// csv_lookup, enum_membership, type_check
	Path string `json:"path,omitempty"`

	// enum_membership
	Allowed []string `json:"allowed,omitempty"`

	// type_check: number | boolean | date
	Expected string `json:"expected,omitempty"`

	// date_order: operator is one of < <= > >=
	LeftPath  string `json:"left_path,omitempty"`
	RightPath string `json:"right_path,omitempty"`
	Operator  string `json:"operator,omitempty"`
}

// Rule is one declarative catalog entry.
type Rule struct {
	RuleID          string      `json:"rule_id"`
	Severity        Severity    `json:"severity"`
	AppliesWhen     []Condition `json:"applies_when,omitempty"`
	FieldPaths      []string    `json:"field_paths,omitempty"`
	MessageTemplate string      `json:"message_template"`
	Strategy        Strategy    `json:"evidence_strategy"`
}

// Catalog is a parsed, validated rule catalog document.
type Catalog struct {
	RulesetVersion string `json:"ruleset_version"`
	Rules          []Rule `json:"rules"`
}

// Evaluation is the per-rule trace entry recorded for every rule, pass or
// fail. Evidence is arbitrary structured data proving the verdict.
type Evaluation struct {
	RuleID         string                 `json:"rule_id"`
	Severity       Severity               `json:"severity"`
	Passed         bool                   `json:"passed"`
	Evidence       map[string]interface{} `json:"evidence,omitempty"`
	Message        string                 `json:"message,omitempty"`
	RulesetVersion string                 `json:"ruleset_version"`
	EvaluatedAt    time.Time              `json:"evaluated_at"`
}

// Finding is a failed rule routed by severity.
type Finding struct {
	RuleID   string                 `json:"rule_id"`
	Severity Severity               `json:"severity"`
	Message  string                 `json:"message"`
	Evidence map[string]interface{} `json:"evidence,omitempty"`
}

// Normalization records a successful reference-table match for one field.
type Normalization struct {
	FieldPath     string `json:"field_path"`
	RawValue      string `json:"raw_value"`
	Normalized    string `json:"normalized"`
	MatchStrategy string `json:"match_strategy"`
	Source        string `json:"source"`
}

// Result aggregates one evaluation of one payload under one ruleset version.
// Deterministic given (payload, catalog, reference table, evaluatedAt).
type Result struct {
	RulesetVersion        string                   `json:"ruleset_version"`
	EvaluatedAt           time.Time                `json:"evaluated_at"`
	RequiredFieldsMissing []string                 `json:"required_fields_missing"`
	Blocks                []Finding                `json:"blocks"`
	Warnings              []Finding                `json:"warnings"`
	Normalizations        map[string]Normalization `json:"normalizations"`
	RuleEvaluations       []Evaluation             `json:"rule_evaluations"`
}

// RunRecord is a persisted, versioned evaluation. One row per
// (intake, ruleset version); Version increases monotonically per intake.
// Written reports whether this call created the row (false on idempotent
// replay) and is never persisted.
type RunRecord struct {
	ID             string    `json:"id"`
	IntakeID       string    `json:"intake_id"`
	Version        int       `json:"version"`
	RulesetVersion string    `json:"ruleset_version"`
	Result         Result    `json:"result"`
	EvaluatedAt    time.Time `json:"evaluated_at"`
	Written        bool      `json:"-"`
}
