// Package aitasks runs the fixed sequence of LLM-backed enrichment tasks over
// a submitted intake and its rule-engine result. Prompts are baked into the
// binary; the bundle version and a digest of the templates feed the run's
// idempotency hash, so editing a prompt naturally produces a fresh run.
package aitasks

import (
	"embed"
	"fmt"
	"sort"
	"sync"

	"intakeflow/internal/canonical"
)

//go:embed prompts/*.md
var promptFiles embed.FS

// PromptBundleVersion is stamped into every run log.
const PromptBundleVersion = "pb-2025-07"

// TaskID identifies one catalog task.
type TaskID string

const (
	TaskFieldExtraction        TaskID = "field_extraction"
	TaskRiskFlagScan           TaskID = "risk_flag_scan"
	TaskUrgencyFlagScan        TaskID = "urgency_flag_scan"
	TaskCompletenessFlagScan   TaskID = "completeness_flag_scan"
	TaskConsistencyCheck       TaskID = "consistency_check"
	TaskCountyMentionScan      TaskID = "county_mention_scan"
	TaskDocumentClassification TaskID = "document_classification"
	TaskReviewAttentionSummary TaskID = "review_attention_summary"
)

// Flag categories produced by the three flag-scan tasks.
const (
	FlagCategoryRisk         = "risk"
	FlagCategoryUrgency      = "urgency"
	FlagCategoryCompleteness = "completeness"
)

// Task declares one catalog entry: its prompt and the top-level array key its
// output must carry.
type Task struct {
	ID        TaskID
	PromptID  string
	OutputKey string
}

// Catalog returns the fixed task sequence. Order is a correctness
// requirement: the review-attention summary consumes every earlier task's
// validated output.
func Catalog() []Task {
	return []Task{
		{ID: TaskFieldExtraction, PromptID: "field_extraction_v1", OutputKey: "extractions"},
		{ID: TaskRiskFlagScan, PromptID: "risk_flag_scan_v1", OutputKey: "flags"},
		{ID: TaskUrgencyFlagScan, PromptID: "urgency_flag_scan_v1", OutputKey: "flags"},
		{ID: TaskCompletenessFlagScan, PromptID: "completeness_flag_scan_v1", OutputKey: "flags"},
		{ID: TaskConsistencyCheck, PromptID: "consistency_check_v1", OutputKey: "inconsistencies"},
		{ID: TaskCountyMentionScan, PromptID: "county_mention_scan_v1", OutputKey: "mentions"},
		{ID: TaskDocumentClassification, PromptID: "document_classification_v1", OutputKey: "classifications"},
		{ID: TaskReviewAttentionSummary, PromptID: "review_attention_summary_v1", OutputKey: "attention"},
	}
}

// ExtractionFieldAllowlist is the closed set of field keys the extraction
// task may emit. Out-of-list items are dropped during validation.
var ExtractionFieldAllowlist = []string{
	"claimant.full_name",
	"claimant.date_of_birth",
	"claimant.phone",
	"claimant.employer",
	"incident.date",
	"incident.county",
	"incident.description",
	"incident.police_report_number",
	"injuries.summary",
	"medical.providers",
	"insurance.carrier",
	"insurance.policy_number",
	"insurance.claim_number",
	"damages.estimate",
}

// DocumentCategories is the closed classification set.
var DocumentCategories = []string{
	"medical_record",
	"police_report",
	"insurance_correspondence",
	"bill_or_invoice",
	"photo",
	"legal_filing",
	"other",
}

var (
	promptOnce sync.Once
	promptMap  map[TaskID]string
	promptHash string
	promptErr  error
)

func loadPrompts() {
	promptMap = make(map[TaskID]string)
	var names []string
	entries, err := promptFiles.ReadDir("prompts")
	if err != nil {
		promptErr = fmt.Errorf("aitasks: read embedded prompts: %w", err)
		return
	}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var digestInput []byte
	for _, name := range names {
		data, err := promptFiles.ReadFile("prompts/" + name)
		if err != nil {
			promptErr = fmt.Errorf("aitasks: read prompt %s: %w", name, err)
			return
		}
		id := TaskID(name[:len(name)-len(".md")])
		promptMap[id] = string(data)
		digestInput = append(digestInput, []byte(name)...)
		digestInput = append(digestInput, 0)
		digestInput = append(digestInput, data...)
	}
	promptHash = canonical.HashBytes(digestInput)

	for _, task := range Catalog() {
		if _, ok := promptMap[task.ID]; !ok {
			promptErr = fmt.Errorf("aitasks: no embedded prompt for task %s", task.ID)
			return
		}
	}
}

// SystemPrompt returns the embedded template for a task.
func SystemPrompt(id TaskID) (string, error) {
	promptOnce.Do(loadPrompts)
	if promptErr != nil {
		return "", promptErr
	}
	p, ok := promptMap[id]
	if !ok {
		return "", fmt.Errorf("aitasks: unknown task %s", id)
	}
	return p, nil
}

// PromptsHash digests every embedded template; part of the run input hash.
func PromptsHash() (string, error) {
	promptOnce.Do(loadPrompts)
	return promptHash, promptErr
}

// flagCategoryFor maps a flag-scan task to its category.
func flagCategoryFor(id TaskID) string {
	switch id {
	case TaskRiskFlagScan:
		return FlagCategoryRisk
	case TaskUrgencyFlagScan:
		return FlagCategoryUrgency
	case TaskCompletenessFlagScan:
		return FlagCategoryCompleteness
	}
	return ""
}
