// Package snapshot defines the immutable point-in-time views handed to the AI
// task orchestrator: the intake's structured and narrative data, and the prior
// rule-engine run. Loaders are external collaborators; the orchestrator never
// mutates what they return.
package snapshot

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means the requested intake or rule run does not exist.
	ErrNotFound = errors.New("snapshot source not found")
	// ErrNotSubmitted means the intake exists but was never submitted.
	ErrNotSubmitted = errors.New("intake not submitted")
	// ErrMissingRulesEngine means the WF3 run exists but carries no
	// rules-engine result.
	ErrMissingRulesEngine = errors.New("rule evaluation result missing")
)

// Message is one entry of the ordered client/firm transcript.
type Message struct {
	ID     string    `json:"id"`
	Role   string    `json:"role"`
	Body   string    `json:"body"`
	SentAt time.Time `json:"sent_at"`
}

// Document is uploaded-file metadata; contents live in object storage.
type Document struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Category    string `json:"category,omitempty"`
}

// Intake is the read-only intake view consumed by AI tasks.
type Intake struct {
	IntakeID  string                 `json:"intake_id"`
	FirmID    string                 `json:"firm_id"`
	Fields    map[string]interface{} `json:"fields"`
	Narrative map[string]string      `json:"narrative"`
	Messages  []Message              `json:"messages"`
	Documents []Document             `json:"documents"`
}

// RuleOutcome is the per-rule pass/fail carried over from WF3.
type RuleOutcome struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// WF3 is the prior rule-evaluation view consumed by AI tasks.
type WF3 struct {
	RunID                 string        `json:"run_id"`
	IntakeID              string        `json:"intake_id"`
	RulesetVersion        string        `json:"ruleset_version"`
	RequiredFieldsMissing []string      `json:"required_fields_missing"`
	RuleOutcomes          []RuleOutcome `json:"rule_outcomes"`
}

// IntakeLoader loads intake snapshots. Fails ErrNotFound or ErrNotSubmitted.
type IntakeLoader interface {
	LoadIntake(ctx context.Context, intakeID string) (*Intake, error)
}

// WF3Loader loads rule-run snapshots. Fails ErrNotFound or
// ErrMissingRulesEngine.
type WF3Loader interface {
	LoadWF3(ctx context.Context, runID string) (*WF3, error)
}
