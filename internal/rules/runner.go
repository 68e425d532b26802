package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intakeflow/internal/counties"
)

var (
	// ErrNotFound means the intake does not exist.
	ErrNotFound = errors.New("intake not found")
	// ErrNotSubmitted means the intake is not in the submitted state.
	ErrNotSubmitted = errors.New("intake not submitted")
	// ErrFirmMismatch means the caller's firm does not own the intake.
	ErrFirmMismatch = errors.New("intake belongs to a different firm")
	// ErrConflict is returned by stores when an insert hits a uniqueness
	// constraint. The runner treats it as "someone else already wrote this".
	ErrConflict = errors.New("evaluation already exists")
)

// StatusSubmitted is the only intake state the rule engine accepts.
const StatusSubmitted = "submitted"

// Intake is the view of an intake the rule engine needs.
type Intake struct {
	ID      string
	FirmID  string
	Status  string
	Payload map[string]interface{}
}

// IntakeStore loads intakes. Returns ErrNotFound for unknown ids.
type IntakeStore interface {
	GetIntake(ctx context.Context, intakeID string) (*Intake, error)
}

// RunStore persists versioned evaluation records. FindRun returns (nil, nil)
// when no record exists. InsertRun assigns the next per-intake version
// atomically and returns ErrConflict if a record for the same
// (intake, ruleset version) already exists.
type RunStore interface {
	FindRun(ctx context.Context, intakeID, rulesetVersion string) (*RunRecord, error)
	InsertRun(ctx context.Context, rec *RunRecord) error
}

// Runner ties catalog loading, reference data, evaluation, and persistence
// together, enforcing idempotency per (intake, ruleset version).
type Runner struct {
	intakes     IntakeStore
	runs        RunStore
	catalogPath string
	table       *counties.Table
	logger      *zap.Logger
	now         func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithCountyTable overrides the embedded reference table.
func WithCountyTable(table *counties.Table) RunnerOption {
	return func(r *Runner) { r.table = table }
}

// WithClock overrides the evaluation timestamp source.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// NewRunner builds a Runner for the given catalog path.
func NewRunner(intakes IntakeStore, runs RunStore, catalogPath string, opts ...RunnerOption) *Runner {
	r := &Runner{
		intakes:     intakes,
		runs:        runs,
		catalogPath: catalogPath,
		logger:      zap.NewNop(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run evaluates the intake against the current catalog version. A second call
// under the same ruleset version returns the persisted record unchanged with
// Written=false and performs no evaluation or write. firmID may be empty to
// skip the ownership check.
func (r *Runner) Run(ctx context.Context, intakeID, firmID string) (*RunRecord, error) {
	intake, err := r.intakes.GetIntake(ctx, intakeID)
	if err != nil {
		return nil, err
	}
	if intake.Status != StatusSubmitted {
		return nil, fmt.Errorf("intake %s: %w", intakeID, ErrNotSubmitted)
	}
	if firmID != "" && intake.FirmID != firmID {
		return nil, fmt.Errorf("intake %s: %w", intakeID, ErrFirmMismatch)
	}

	// A broken catalog or missing reference table aborts the run; it must
	// never silently validate everything as passing.
	cat, err := Load(r.catalogPath)
	if err != nil {
		return nil, err
	}
	table := r.table
	if table == nil {
		table, err = counties.Default()
		if err != nil {
			return nil, err
		}
	}

	if existing, err := r.runs.FindRun(ctx, intakeID, cat.RulesetVersion); err != nil {
		return nil, fmt.Errorf("lookup existing evaluation: %w", err)
	} else if existing != nil {
		r.logger.Debug("rule run replayed",
			zap.String("intake_id", intakeID),
			zap.String("ruleset_version", cat.RulesetVersion),
			zap.Int("version", existing.Version))
		existing.Written = false
		return existing, nil
	}

	evaluatedAt := r.now().UTC()
	result := Evaluate(intake.Payload, cat, table, evaluatedAt)

	rec := &RunRecord{
		ID:             uuid.NewString(),
		IntakeID:       intakeID,
		RulesetVersion: cat.RulesetVersion,
		Result:         result,
		EvaluatedAt:    evaluatedAt,
	}

	if err := r.runs.InsertRun(ctx, rec); err != nil {
		if errors.Is(err, ErrConflict) {
			// Lost a race with a concurrent identical run.
			existing, ferr := r.runs.FindRun(ctx, intakeID, cat.RulesetVersion)
			if ferr != nil {
				return nil, fmt.Errorf("re-query after conflict: %w", ferr)
			}
			if existing == nil {
				return nil, fmt.Errorf("conflict on insert but no record found for intake %s", intakeID)
			}
			existing.Written = false
			return existing, nil
		}
		return nil, fmt.Errorf("persist evaluation: %w", err)
	}

	rec.Written = true
	r.logger.Info("rule run persisted",
		zap.String("intake_id", intakeID),
		zap.String("ruleset_version", cat.RulesetVersion),
		zap.Int("version", rec.Version),
		zap.Int("blocks", len(result.Blocks)),
		zap.Int("warnings", len(result.Warnings)))
	return rec, nil
}
