package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"intakeflow/internal/rules"
	"intakeflow/internal/snapshot"
)

// RuleRuns is the rule-evaluation persistence view of a Store.
type RuleRuns struct {
	s *Store
}

// RuleRuns returns the rule-run view.
func (s *Store) RuleRuns() *RuleRuns {
	return &RuleRuns{s: s}
}

// FindRun returns the evaluation record for (intake, ruleset version), or
// (nil, nil) when none exists.
func (r *RuleRuns) FindRun(ctx context.Context, intakeID, rulesetVersion string) (*rules.RunRecord, error) {
	row := r.s.db.QueryRowContext(ctx, `
		SELECT id, intake_id, version, ruleset_version, result, evaluated_at
		FROM rule_runs WHERE intake_id = ? AND ruleset_version = ?`,
		intakeID, rulesetVersion)
	return scanRuleRun(row)
}

// GetRuleRun returns one evaluation record by id, or (nil, nil).
func (s *Store) GetRuleRun(ctx context.Context, runID string) (*rules.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, intake_id, version, ruleset_version, result, evaluated_at
		FROM rule_runs WHERE id = ?`, runID)
	return scanRuleRun(row)
}

func scanRuleRun(row *sql.Row) (*rules.RunRecord, error) {
	var rec rules.RunRecord
	var result string
	err := row.Scan(&rec.ID, &rec.IntakeID, &rec.Version, &rec.RulesetVersion, &result, &rec.EvaluatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan rule run: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &rec.Result); err != nil {
		return nil, fmt.Errorf("decode rule run %s result: %w", rec.ID, err)
	}
	return &rec, nil
}

// errVersionTaken marks an insert that lost the race for a per-intake version
// number. Unlike a ruleset conflict, a taken version is retryable: reread the
// max and try the next one.
var errVersionTaken = errors.New("rule run version already taken")

const insertRunAttempts = 5

// InsertRun persists a new evaluation record, assigning the next per-intake
// version inside the insert transaction. A concurrent insert can take the
// chosen version first; that is retried with a fresh version rather than
// reported as a conflict. Returns rules.ErrConflict only when a record for
// the same (intake, ruleset version) already exists.
func (r *RuleRuns) InsertRun(ctx context.Context, rec *rules.RunRecord) error {
	result, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("marshal evaluation result: %w", err)
	}

	for attempt := 0; attempt < insertRunAttempts; attempt++ {
		version, err := r.nextVersion(ctx, rec.IntakeID)
		if err != nil {
			return err
		}
		err = r.insertVersioned(ctx, rec, version, string(result))
		if errors.Is(err, errVersionTaken) {
			continue
		}
		if err != nil {
			return err
		}
		rec.Version = version
		return nil
	}
	return fmt.Errorf("insert rule run for intake %s: version contention persisted after %d attempts",
		rec.IntakeID, insertRunAttempts)
}

func (r *RuleRuns) nextVersion(ctx context.Context, intakeID string) (int, error) {
	var version int
	if err := r.s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) + 1 FROM rule_runs WHERE intake_id = ?",
		intakeID,
	).Scan(&version); err != nil {
		return 0, fmt.Errorf("next version for intake %s: %w", intakeID, err)
	}
	return version, nil
}

func (r *RuleRuns) insertVersioned(ctx context.Context, rec *rules.RunRecord, version int, result string) error {
	_, err := r.s.db.ExecContext(ctx, `
		INSERT INTO rule_runs (id, intake_id, version, ruleset_version, result, evaluated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.IntakeID, version, rec.RulesetVersion, result, rec.EvaluatedAt)
	if err == nil {
		return nil
	}
	// Two unique constraints can fire here and they mean different things:
	// a taken (intake_id, version) pair is allocation contention, while a
	// taken (intake_id, ruleset_version) pair is a genuine duplicate run.
	if uniqueViolationOn(err, "rule_runs.version") {
		return fmt.Errorf("intake %s version %d: %w", rec.IntakeID, version, errVersionTaken)
	}
	if isUniqueViolation(err) {
		return fmt.Errorf("intake %s ruleset %s: %w", rec.IntakeID, rec.RulesetVersion, rules.ErrConflict)
	}
	return fmt.Errorf("insert rule run: %w", err)
}

// LoadWF3 builds the AI-task view of a rule evaluation run.
func (s *Store) LoadWF3(ctx context.Context, runID string) (*snapshot.WF3, error) {
	rec, err := s.GetRuleRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("rule run %s: %w", runID, snapshot.ErrNotFound)
	}
	if rec.Result.RulesetVersion == "" {
		return nil, fmt.Errorf("rule run %s: %w", runID, snapshot.ErrMissingRulesEngine)
	}

	outcomes := make([]snapshot.RuleOutcome, 0, len(rec.Result.RuleEvaluations))
	for _, ev := range rec.Result.RuleEvaluations {
		outcomes = append(outcomes, snapshot.RuleOutcome{
			RuleID:   ev.RuleID,
			Severity: string(ev.Severity),
			Passed:   ev.Passed,
			Message:  ev.Message,
		})
	}
	missing := rec.Result.RequiredFieldsMissing
	if missing == nil {
		missing = []string{}
	}
	return &snapshot.WF3{
		RunID:                 rec.ID,
		IntakeID:              rec.IntakeID,
		RulesetVersion:        rec.RulesetVersion,
		RequiredFieldsMissing: missing,
		RuleOutcomes:          outcomes,
	}, nil
}
