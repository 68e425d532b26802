package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"intakeflow/internal/aitasks"
	"intakeflow/internal/evidence"
	"intakeflow/internal/rules"
	"intakeflow/internal/snapshot"
)

// Compile-time wiring checks for the collaborator interfaces.
var (
	_ rules.IntakeStore     = (*Store)(nil)
	_ rules.RunStore        = (*RuleRuns)(nil)
	_ aitasks.RunStore      = (*AIRuns)(nil)
	_ aitasks.SideStore     = (*Store)(nil)
	_ snapshot.IntakeLoader = (*Store)(nil)
	_ snapshot.WF3Loader    = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "intakeflow.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedIntake(t *testing.T, s *Store, id, status string) {
	t.Helper()
	err := s.UpsertIntake(context.Background(), &rules.Intake{
		ID:     id,
		FirmID: "firm-1",
		Status: status,
		Payload: map[string]interface{}{
			"fields": map[string]interface{}{
				"incident": map[string]interface{}{"date": "2025-06-01", "county": "Fulton"},
			},
			"narrative": map[string]interface{}{"incident": "Rear-ended at a red light."},
			"messages": []interface{}{
				map[string]interface{}{"id": "msg-1", "role": "client", "body": "hello"},
			},
			"documents": []interface{}{
				map[string]interface{}{"id": "doc-1", "file_name": "report.pdf"},
			},
		},
	})
	require.NoError(t, err)
}

func TestIntakeRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	seedIntake(t, s, "intake-1", rules.StatusSubmitted)

	in, err := s.GetIntake(ctx, "intake-1")
	require.NoError(t, err)
	assert.Equal(t, "firm-1", in.FirmID)
	// The rule engine sees the envelope's fields member, so rule paths
	// resolve without a "fields." prefix.
	incident, ok := in.Payload["incident"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Fulton", incident["county"])

	snap, err := s.LoadIntake(ctx, "intake-1")
	require.NoError(t, err)
	assert.Equal(t, "intake-1", snap.IntakeID)
	assert.Equal(t, "firm-1", snap.FirmID)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "msg-1", snap.Messages[0].ID)
	require.Len(t, snap.Documents, 1)
	assert.Equal(t, "report.pdf", snap.Documents[0].FileName)

	_, err = s.GetIntake(ctx, "nope")
	require.ErrorIs(t, err, rules.ErrNotFound)
	_, err = s.LoadIntake(ctx, "nope")
	require.ErrorIs(t, err, snapshot.ErrNotFound)
}

func TestLoadIntakeRejectsUnsubmitted(t *testing.T) {
	s := openTestStore(t)
	seedIntake(t, s, "intake-draft", "draft")

	_, err := s.LoadIntake(context.Background(), "intake-draft")
	require.ErrorIs(t, err, snapshot.ErrNotSubmitted)
}

func testResult(version string) rules.Result {
	return rules.Result{
		RulesetVersion:        version,
		EvaluatedAt:           time.Date(2025, 8, 15, 10, 0, 0, 0, time.UTC),
		RequiredFieldsMissing: []string{"incident.date"},
		Blocks: []rules.Finding{
			{RuleID: "incident_date_required", Severity: rules.SeverityBlock, Message: "incident.date is required"},
		},
		Warnings:       []rules.Finding{},
		Normalizations: map[string]rules.Normalization{},
		RuleEvaluations: []rules.Evaluation{
			{RuleID: "incident_date_required", Severity: rules.SeverityBlock, Passed: false, RulesetVersion: version},
		},
	}
}

func TestRuleRunVersioningAndConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runs := s.RuleRuns()

	first := &rules.RunRecord{
		ID: "run-1", IntakeID: "intake-1", RulesetVersion: "2025-07-01",
		Result: testResult("2025-07-01"), EvaluatedAt: time.Now().UTC(),
	}
	require.NoError(t, runs.InsertRun(ctx, first))
	assert.Equal(t, 1, first.Version)

	second := &rules.RunRecord{
		ID: "run-2", IntakeID: "intake-1", RulesetVersion: "2025-08-01",
		Result: testResult("2025-08-01"), EvaluatedAt: time.Now().UTC(),
	}
	require.NoError(t, runs.InsertRun(ctx, second))
	assert.Equal(t, 2, second.Version)

	dup := &rules.RunRecord{
		ID: "run-3", IntakeID: "intake-1", RulesetVersion: "2025-07-01",
		Result: testResult("2025-07-01"), EvaluatedAt: time.Now().UTC(),
	}
	require.ErrorIs(t, runs.InsertRun(ctx, dup), rules.ErrConflict)

	found, err := runs.FindRun(ctx, "intake-1", "2025-07-01")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "run-1", found.ID)
	assert.Equal(t, []string{"incident.date"}, found.Result.RequiredFieldsMissing)

	missing, err := runs.FindRun(ctx, "intake-1", "1999-01-01")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertRunRetriesTakenVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runs := s.RuleRuns()

	first := &rules.RunRecord{
		ID: "run-1", IntakeID: "intake-1", RulesetVersion: "2025-07-01",
		Result: testResult("2025-07-01"), EvaluatedAt: time.Now().UTC(),
	}
	require.NoError(t, runs.InsertRun(ctx, first))
	require.Equal(t, 1, first.Version)

	// A writer holding a stale version number hits the (intake_id, version)
	// constraint, which is contention, not a duplicate run.
	stale := &rules.RunRecord{
		ID: "run-2", IntakeID: "intake-1", RulesetVersion: "2025-08-01",
		Result: testResult("2025-08-01"), EvaluatedAt: time.Now().UTC(),
	}
	err := runs.insertVersioned(ctx, stale, 1, `{}`)
	require.ErrorIs(t, err, errVersionTaken)
	require.NotErrorIs(t, err, rules.ErrConflict)

	// InsertRun recovers by allocating the next free version.
	require.NoError(t, runs.InsertRun(ctx, stale))
	assert.Equal(t, 2, stale.Version)
}

func TestLoadWF3(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &rules.RunRecord{
		ID: "run-1", IntakeID: "intake-1", RulesetVersion: "2025-07-01",
		Result: testResult("2025-07-01"), EvaluatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.RuleRuns().InsertRun(ctx, rec))

	wf3, err := s.LoadWF3(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", wf3.RunID)
	assert.Equal(t, "intake-1", wf3.IntakeID)
	assert.Equal(t, []string{"incident.date"}, wf3.RequiredFieldsMissing)
	require.Len(t, wf3.RuleOutcomes, 1)
	assert.Equal(t, "incident_date_required", wf3.RuleOutcomes[0].RuleID)
	assert.False(t, wf3.RuleOutcomes[0].Passed)

	_, err = s.LoadWF3(ctx, "nope")
	require.ErrorIs(t, err, snapshot.ErrNotFound)
}

func testAIRun(runID, intakeID, hash string) *aitasks.RunRecord {
	out := aitasks.NewRunOutput()
	return &aitasks.RunRecord{
		Log: aitasks.RunLog{
			RunID: runID, IntakeID: intakeID, WF3RunID: "wf3-1",
			StartedAt: time.Now().UTC(), EndedAt: time.Now().UTC(),
			Status: aitasks.RunSuccess, InputHash: hash,
			TaskStatuses: map[aitasks.TaskID]aitasks.TaskStatus{},
		},
		Output: *out,
	}
}

func TestAIRunInsertAndConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runs := s.AIRuns()

	require.NoError(t, runs.InsertRun(ctx, testAIRun("ai-1", "intake-1", "hash-a")))

	found, err := runs.FindRunByHash(ctx, "intake-1", "hash-a")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "ai-1", found.Log.RunID)
	assert.Equal(t, aitasks.RunSuccess, found.Log.Status)

	err = runs.InsertRun(ctx, testAIRun("ai-2", "intake-1", "hash-a"))
	require.ErrorIs(t, err, aitasks.ErrRunExists)

	none, err := runs.FindRunByHash(ctx, "intake-1", "hash-b")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestFlagInsertIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	flag := aitasks.Flag{
		Category: "risk", FlagPresent: true, Label: "prior_attorney",
		Detail:   "client mentioned a prior lawyer",
		Evidence: []evidence.Pointer{evidence.New(evidence.SourceMessage, "msg-1", "chars 0-20", "prior lawyer")},
	}
	require.NoError(t, s.InsertFlag(ctx, "ai-1", "intake-1", flag))
	require.NoError(t, s.InsertFlag(ctx, "ai-1", "intake-1", flag))

	flags, err := s.FlagsForIntake(ctx, "intake-1")
	require.NoError(t, err)
	require.Len(t, flags, 1)
	assert.Equal(t, "prior_attorney", flags[0].Label)
	require.Len(t, flags[0].Evidence, 1)
	assert.Equal(t, "msg-1", flags[0].Evidence[0].SourceID)
}

func TestMergeDocumentClassificationUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ev := []evidence.Pointer{evidence.New(evidence.SourceDocument, "doc-1", "file_name", "report.pdf")}
	require.NoError(t, s.MergeDocumentClassification(ctx, "intake-1",
		aitasks.DocumentClassification{DocumentID: "doc-1", Category: "other", Evidence: ev}))
	require.NoError(t, s.MergeDocumentClassification(ctx, "intake-1",
		aitasks.DocumentClassification{DocumentID: "doc-1", Category: "police_report", Confidence: 0.9, Evidence: ev}))

	category, err := s.DocumentCategory(ctx, "intake-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "police_report", category)
}

func TestMonthlySpendAccumulates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	spend, err := s.MonthlySpend(ctx, "2025-08")
	require.NoError(t, err)
	assert.Zero(t, spend)

	require.NoError(t, s.AddMonthlySpend(ctx, "2025-08", 1.25))
	require.NoError(t, s.AddMonthlySpend(ctx, "2025-08", 0.75))
	require.NoError(t, s.AddMonthlySpend(ctx, "2025-09", 3.00))

	spend, err = s.MonthlySpend(ctx, "2025-08")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, spend, 1e-9)

	spend, err = s.MonthlySpend(ctx, "2025-09")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, spend, 1e-9)
}
