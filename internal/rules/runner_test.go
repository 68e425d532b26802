package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIntakeStore struct {
	intakes map[string]*Intake
}

func (s *fakeIntakeStore) GetIntake(_ context.Context, id string) (*Intake, error) {
	intake, ok := s.intakes[id]
	if !ok {
		return nil, fmt.Errorf("intake %s: %w", id, ErrNotFound)
	}
	return intake, nil
}

type fakeRunStore struct {
	mu      sync.Mutex
	runs    []*RunRecord
	inserts int
}

func (s *fakeRunStore) FindRun(_ context.Context, intakeID, rulesetVersion string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.runs {
		if rec.IntakeID == intakeID && rec.RulesetVersion == rulesetVersion {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeRunStore) InsertRun(_ context.Context, rec *RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxVersion := 0
	for _, existing := range s.runs {
		if existing.IntakeID == rec.IntakeID {
			if existing.RulesetVersion == rec.RulesetVersion {
				return ErrConflict
			}
			if existing.Version > maxVersion {
				maxVersion = existing.Version
			}
		}
	}
	rec.Version = maxVersion + 1
	cp := *rec
	s.runs = append(s.runs, &cp)
	s.inserts++
	return nil
}

func writeCatalog(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))
	return path
}

func submittedIntake(id, firm string) *Intake {
	return &Intake{
		ID:     id,
		FirmID: firm,
		Status: StatusSubmitted,
		Payload: map[string]interface{}{
			"claimant": map[string]interface{}{"name": "J. Doe"},
			"incident": map[string]interface{}{"county": "Fulton"},
		},
	}
}

func TestRunnerPersistsOnceAndReplays(t *testing.T) {
	intakes := &fakeIntakeStore{intakes: map[string]*Intake{"in_1": submittedIntake("in_1", "firm_1")}}
	runs := &fakeRunStore{}
	runner := NewRunner(intakes, runs, writeCatalog(t, validCatalog),
		WithClock(func() time.Time { return evalAt }))

	first, err := runner.Run(context.Background(), "in_1", "firm_1")
	require.NoError(t, err)
	assert.True(t, first.Written)
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "2025-07-01", first.RulesetVersion)

	second, err := runner.Run(context.Background(), "in_1", "firm_1")
	require.NoError(t, err)
	assert.False(t, second.Written)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, runs.inserts, "exactly one persisted write")
}

func TestRunnerNewRulesetVersionCreatesNewRow(t *testing.T) {
	intakes := &fakeIntakeStore{intakes: map[string]*Intake{"in_1": submittedIntake("in_1", "firm_1")}}
	runs := &fakeRunStore{}
	path := writeCatalog(t, validCatalog)
	runner := NewRunner(intakes, runs, path)

	first, err := runner.Run(context.Background(), "in_1", "")
	require.NoError(t, err)

	updated := `{"ruleset_version": "2025-08-01", "rules": []}`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))
	Invalidate(path)

	second, err := runner.Run(context.Background(), "in_1", "")
	require.NoError(t, err)
	assert.True(t, second.Written)
	assert.Equal(t, first.Version+1, second.Version)
	assert.Equal(t, 2, runs.inserts)
}

func TestRunnerPreconditions(t *testing.T) {
	draft := submittedIntake("in_draft", "firm_1")
	draft.Status = "draft"
	intakes := &fakeIntakeStore{intakes: map[string]*Intake{
		"in_draft": draft,
		"in_1":     submittedIntake("in_1", "firm_1"),
	}}
	runner := NewRunner(intakes, &fakeRunStore{}, writeCatalog(t, validCatalog))

	_, err := runner.Run(context.Background(), "in_missing", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = runner.Run(context.Background(), "in_draft", "")
	assert.ErrorIs(t, err, ErrNotSubmitted)

	_, err = runner.Run(context.Background(), "in_1", "firm_2")
	assert.ErrorIs(t, err, ErrFirmMismatch)

	// Empty firm id skips the ownership check.
	_, err = runner.Run(context.Background(), "in_1", "")
	assert.NoError(t, err)
}

func TestRunnerBrokenCatalogIsFatal(t *testing.T) {
	intakes := &fakeIntakeStore{intakes: map[string]*Intake{"in_1": submittedIntake("in_1", "firm_1")}}
	runs := &fakeRunStore{}
	runner := NewRunner(intakes, runs, writeCatalog(t, `{"rules": "nope"}`))

	_, err := runner.Run(context.Background(), "in_1", "")
	require.Error(t, err)
	assert.Equal(t, 0, runs.inserts, "no partial record on catalog failure")
}

func TestRunnerConflictRecoversExistingRecord(t *testing.T) {
	intakes := &fakeIntakeStore{intakes: map[string]*Intake{"in_1": submittedIntake("in_1", "firm_1")}}
	runs := &conflictingRunStore{}
	runner := NewRunner(intakes, runs, writeCatalog(t, validCatalog))

	rec, err := runner.Run(context.Background(), "in_1", "")
	require.NoError(t, err)
	assert.False(t, rec.Written)
	assert.Equal(t, "winner", rec.ID)
}

// conflictingRunStore simulates losing an insert race: the first FindRun sees
// nothing, the insert conflicts, and the re-query finds the winner's row.
type conflictingRunStore struct {
	finds int
}

func (s *conflictingRunStore) FindRun(_ context.Context, intakeID, rulesetVersion string) (*RunRecord, error) {
	s.finds++
	if s.finds == 1 {
		return nil, nil
	}
	return &RunRecord{ID: "winner", IntakeID: intakeID, Version: 1, RulesetVersion: rulesetVersion}, nil
}

func (s *conflictingRunStore) InsertRun(_ context.Context, _ *RunRecord) error {
	return ErrConflict
}
