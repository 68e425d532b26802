package aitasks

import (
	"encoding/json"
	"time"

	"intakeflow/internal/evidence"
	"intakeflow/internal/usage"
)

// TaskStatus is the per-task outcome.
type TaskStatus string

const (
	TaskSuccess TaskStatus = "SUCCESS"
	TaskFailed  TaskStatus = "FAILED"
)

// RunStatus aggregates task outcomes.
type RunStatus string

const (
	RunSuccess RunStatus = "SUCCESS"
	RunPartial RunStatus = "PARTIAL"
	RunFail    RunStatus = "FAIL"
)

// Extraction is one validated structured-field claim.
type Extraction struct {
	FieldKey   string             `json:"field_key"`
	Value      interface{}        `json:"value"`
	Confidence float64            `json:"confidence,omitempty"`
	Evidence   []evidence.Pointer `json:"evidence"`
}

// Flag is one validated signal from a flag-scan task.
type Flag struct {
	Category    string             `json:"category"`
	FlagPresent bool               `json:"flag_present"`
	Label       string             `json:"label"`
	Detail      string             `json:"detail,omitempty"`
	Evidence    []evidence.Pointer `json:"evidence,omitempty"`
}

// Inconsistency is one validated contradiction.
type Inconsistency struct {
	Description string             `json:"description"`
	FieldPaths  []string           `json:"field_paths,omitempty"`
	Evidence    []evidence.Pointer `json:"evidence"`
}

// CountyMention is one validated county reference found in free text.
type CountyMention struct {
	RawText   string             `json:"raw_text"`
	Canonical string             `json:"canonical,omitempty"`
	Evidence  []evidence.Pointer `json:"evidence"`
}

// DocumentClassification labels one uploaded document.
type DocumentClassification struct {
	DocumentID string             `json:"document_id"`
	Category   string             `json:"category"`
	Confidence float64            `json:"confidence,omitempty"`
	Evidence   []evidence.Pointer `json:"evidence"`
}

// ReviewAttentionItem is one entry of the human-reviewer summary.
type ReviewAttentionItem struct {
	Topic    string             `json:"topic"`
	Priority string             `json:"priority"`
	Reason   string             `json:"reason,omitempty"`
	Evidence []evidence.Pointer `json:"evidence"`
}

// TaskResult is the raw per-task trace entry.
type TaskResult struct {
	TaskID   TaskID          `json:"task_id"`
	PromptID string          `json:"prompt_id"`
	Status   TaskStatus      `json:"status"`
	Output   json.RawMessage `json:"output,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// RunLog is the immutable audit record of one orchestration run.
type RunLog struct {
	RunID               string                `json:"run_id"`
	IntakeID            string                `json:"intake_id"`
	WF3RunID            string                `json:"wf3_run_id"`
	StartedAt           time.Time             `json:"started_at"`
	EndedAt             time.Time             `json:"ended_at"`
	Status              RunStatus             `json:"status"`
	PromptBundleVersion string                `json:"prompt_bundle_version"`
	InputHash           string                `json:"input_hash"`
	TaskStatuses        map[TaskID]TaskStatus `json:"task_statuses"`
	Usage               usage.Summary         `json:"usage"`
}

// RunOutput is the union of every task's validated payload plus the raw
// per-task trace. Every list item independently satisfies the evidence
// contract; invalid items were dropped before the output was assembled.
type RunOutput struct {
	Extractions             []Extraction             `json:"extractions"`
	Flags                   map[string][]Flag        `json:"flags"`
	Inconsistencies         []Inconsistency          `json:"inconsistencies"`
	CountyMentions          []CountyMention          `json:"county_mentions"`
	DocumentClassifications []DocumentClassification `json:"document_classifications"`
	ReviewAttention         []ReviewAttentionItem    `json:"review_attention"`
	TaskResults             []TaskResult             `json:"task_results"`
}

// NewRunOutput initializes the empty output aggregate.
func NewRunOutput() *RunOutput {
	return &RunOutput{
		Extractions:             []Extraction{},
		Flags:                   map[string][]Flag{},
		Inconsistencies:         []Inconsistency{},
		CountyMentions:          []CountyMention{},
		DocumentClassifications: []DocumentClassification{},
		ReviewAttention:         []ReviewAttentionItem{},
	}
}

// RunRecord is what the store persists: log plus output, keyed by run id,
// unique per (intake, input hash).
type RunRecord struct {
	Log    RunLog    `json:"log"`
	Output RunOutput `json:"output"`
}
