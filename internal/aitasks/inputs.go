package aitasks

import (
	"encoding/json"
	"fmt"

	"intakeflow/internal/snapshot"
)

// buildInput assembles the user prompt for one task: a JSON document carrying
// the task-specific subset of the two snapshots plus whatever reference data
// the task needs. The review-attention summary additionally receives every
// earlier task's validated output, which is why tasks run strictly in order.
func buildInput(task Task, in *snapshot.Intake, wf3 *snapshot.WF3, countyNames []string, acc *RunOutput) (string, error) {
	var input interface{}

	switch task.ID {
	case TaskFieldExtraction:
		input = struct {
			Fields        map[string]interface{} `json:"fields"`
			Narrative     map[string]string      `json:"narrative"`
			Messages      []snapshot.Message     `json:"messages"`
			AllowedFields []string               `json:"allowed_field_keys"`
		}{in.Fields, in.Narrative, in.Messages, ExtractionFieldAllowlist}

	case TaskRiskFlagScan, TaskUrgencyFlagScan:
		input = struct {
			Fields    map[string]interface{} `json:"fields"`
			Narrative map[string]string      `json:"narrative"`
			Messages  []snapshot.Message     `json:"messages"`
		}{in.Fields, in.Narrative, in.Messages}

	case TaskCompletenessFlagScan:
		input = struct {
			Fields                map[string]interface{} `json:"fields"`
			Narrative             map[string]string      `json:"narrative"`
			RequiredFieldsMissing []string               `json:"required_fields_missing"`
			RuleOutcomes          []snapshot.RuleOutcome `json:"rule_outcomes"`
		}{in.Fields, in.Narrative, wf3.RequiredFieldsMissing, wf3.RuleOutcomes}

	case TaskConsistencyCheck:
		input = struct {
			Fields       map[string]interface{} `json:"fields"`
			Narrative    map[string]string      `json:"narrative"`
			Messages     []snapshot.Message     `json:"messages"`
			RuleOutcomes []snapshot.RuleOutcome `json:"rule_outcomes"`
		}{in.Fields, in.Narrative, in.Messages, wf3.RuleOutcomes}

	case TaskCountyMentionScan:
		input = struct {
			Narrative map[string]string  `json:"narrative"`
			Messages  []snapshot.Message `json:"messages"`
			Counties  []string           `json:"canonical_counties"`
		}{in.Narrative, in.Messages, countyNames}

	case TaskDocumentClassification:
		input = struct {
			Documents  []snapshot.Document `json:"documents"`
			Categories []string            `json:"allowed_categories"`
		}{in.Documents, DocumentCategories}

	case TaskReviewAttentionSummary:
		input = struct {
			Extractions             []Extraction             `json:"extractions"`
			Flags                   map[string][]Flag        `json:"flags"`
			Inconsistencies         []Inconsistency          `json:"inconsistencies"`
			CountyMentions          []CountyMention          `json:"county_mentions"`
			DocumentClassifications []DocumentClassification `json:"document_classifications"`
			RequiredFieldsMissing   []string                 `json:"required_fields_missing"`
		}{acc.Extractions, acc.Flags, acc.Inconsistencies, acc.CountyMentions, acc.DocumentClassifications, wf3.RequiredFieldsMissing}

	default:
		return "", fmt.Errorf("aitasks: no input builder for task %s", task.ID)
	}

	data, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("aitasks: marshal input for %s: %w", task.ID, err)
	}
	return string(data), nil
}
