package aitasks

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogOrderFixed(t *testing.T) {
	got := make([]TaskID, 0, 8)
	for _, task := range Catalog() {
		got = append(got, task.ID)
	}
	assert.Equal(t, []TaskID{
		TaskFieldExtraction,
		TaskRiskFlagScan,
		TaskUrgencyFlagScan,
		TaskCompletenessFlagScan,
		TaskConsistencyCheck,
		TaskCountyMentionScan,
		TaskDocumentClassification,
		TaskReviewAttentionSummary,
	}, got)
}

func TestEmbeddedPromptsCoverCatalog(t *testing.T) {
	for _, task := range Catalog() {
		p, err := SystemPrompt(task.ID)
		require.NoError(t, err, "task %s", task.ID)
		assert.NotEmpty(t, p)
		assert.True(t, strings.Contains(p, task.OutputKey),
			"prompt for %s should name its output key %q", task.ID, task.OutputKey)
	}
}

func TestSystemPromptUnknownTask(t *testing.T) {
	_, err := SystemPrompt(TaskID("nonsense"))
	require.Error(t, err)
}

func TestPromptsHashStable(t *testing.T) {
	h1, err := PromptsHash()
	require.NoError(t, err)
	h2, err := PromptsHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestFlagCategoryMapping(t *testing.T) {
	assert.Equal(t, FlagCategoryRisk, flagCategoryFor(TaskRiskFlagScan))
	assert.Equal(t, FlagCategoryUrgency, flagCategoryFor(TaskUrgencyFlagScan))
	assert.Equal(t, FlagCategoryCompleteness, flagCategoryFor(TaskCompletenessFlagScan))
	assert.Equal(t, "", flagCategoryFor(TaskFieldExtraction))
}
