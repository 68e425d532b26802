package aitasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"intakeflow/internal/canonical"
	"intakeflow/internal/counties"
	"intakeflow/internal/llm"
	"intakeflow/internal/snapshot"
)

// ErrRunExists is returned by stores when an insert hits the
// (intake, input hash) uniqueness constraint; the orchestrator re-queries
// and returns the winner's record.
var ErrRunExists = errors.New("ai run already exists")

// RunStore persists orchestration runs. FindRunByHash returns (nil, nil)
// when no run matches.
type RunStore interface {
	FindRunByHash(ctx context.Context, intakeID, inputHash string) (*RunRecord, error)
	InsertRun(ctx context.Context, rec *RunRecord) error
}

// SideStore receives best-effort derived records and spend accounting.
// Failures here never fail a run.
type SideStore interface {
	InsertFlag(ctx context.Context, runID, intakeID string, f Flag) error
	MergeDocumentClassification(ctx context.Context, intakeID string, dc DocumentClassification) error
	MonthlySpend(ctx context.Context, month string) (float64, error)
	AddMonthlySpend(ctx context.Context, month string, amountUSD float64) error
}

// Orchestrator runs the task catalog over one intake + WF3 snapshot pair.
type Orchestrator struct {
	intakes snapshot.IntakeLoader
	wf3s    snapshot.WF3Loader
	runs    RunStore
	side    SideStore
	client  llm.Client // nil when no provider is configured
	llmCfg  llm.Config
	table   *counties.Table
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithClient sets the LLM backend. Without one, runs persist as FAIL.
func WithClient(client llm.Client, cfg llm.Config) Option {
	return func(o *Orchestrator) { o.client, o.llmCfg = client, cfg }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithCountyTable overrides the embedded reference table.
func WithCountyTable(table *counties.Table) Option {
	return func(o *Orchestrator) { o.table = table }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator overrides run-id generation.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

// New builds an Orchestrator.
func New(intakes snapshot.IntakeLoader, wf3s snapshot.WF3Loader, runs RunStore, side SideStore, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		intakes: intakes,
		wf3s:    wf3s,
		runs:    runs,
		side:    side,
		llmCfg:  llm.DefaultConfig(),
		logger:  zap.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the task sequence for one intake. A second call with an
// identical input hash returns the persisted record without re-executing or
// spending.
func (o *Orchestrator) Run(ctx context.Context, intakeID, wf3RunID string) (*RunRecord, error) {
	in, err := o.intakes.LoadIntake(ctx, intakeID)
	if err != nil {
		return nil, fmt.Errorf("load intake snapshot: %w", err)
	}
	wf3, err := o.wf3s.LoadWF3(ctx, wf3RunID)
	if err != nil {
		return nil, fmt.Errorf("load wf3 snapshot: %w", err)
	}

	table := o.table
	if table == nil {
		table, err = counties.Default()
		if err != nil {
			return nil, err
		}
	}

	inputHash, err := o.inputHash(in, wf3)
	if err != nil {
		return nil, err
	}

	if existing, err := o.runs.FindRunByHash(ctx, intakeID, inputHash); err != nil {
		return nil, fmt.Errorf("lookup existing run: %w", err)
	} else if existing != nil {
		o.logger.Debug("ai run replayed",
			zap.String("intake_id", intakeID),
			zap.String("input_hash", inputHash))
		return existing, nil
	}

	startedAt := o.now().UTC()
	rec := &RunRecord{
		Log: RunLog{
			RunID:               o.newID(),
			IntakeID:            intakeID,
			WF3RunID:            wf3RunID,
			StartedAt:           startedAt,
			PromptBundleVersion: PromptBundleVersion,
			InputHash:           inputHash,
			TaskStatuses:        map[TaskID]TaskStatus{},
		},
		Output: *NewRunOutput(),
	}

	// No provider configured: the orchestrator never fabricates results.
	if o.client == nil {
		rec.Log.Status = RunFail
		rec.Log.EndedAt = o.now().UTC()
		o.logger.Warn("no llm provider configured, persisting failed run",
			zap.String("intake_id", intakeID))
		return o.persist(ctx, rec, intakeID, inputHash)
	}

	month := startedAt.Format("2006-01")
	monthlySpend, err := o.side.MonthlySpend(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("read monthly spend: %w", err)
	}
	provider := llm.NewProvider(o.client, monthlySpend, o.llmCfg, o.logger)

	failed := 0
	for _, task := range Catalog() {
		result := o.runTask(ctx, task, provider, in, wf3, table, &rec.Output)
		rec.Output.TaskResults = append(rec.Output.TaskResults, result)
		rec.Log.TaskStatuses[task.ID] = result.Status
		if result.Status == TaskFailed {
			failed++
		}
	}

	total := len(Catalog())
	switch {
	case failed == 0:
		rec.Log.Status = RunSuccess
	case failed == total:
		rec.Log.Status = RunFail
	default:
		rec.Log.Status = RunPartial
	}
	rec.Log.EndedAt = o.now().UTC()
	rec.Log.Usage = provider.Usage()

	out, err := o.persist(ctx, rec, intakeID, inputHash)
	if err != nil {
		return nil, err
	}

	// Derived side records and spend accounting are best-effort; the run is
	// already durable. Skipped when a concurrent run won the insert, since
	// the winner already applied its own.
	if out.Log.RunID == rec.Log.RunID {
		o.persistSideEffects(ctx, rec, month, provider.RunCost())
	}
	return out, nil
}

func (o *Orchestrator) runTask(ctx context.Context, task Task, provider *llm.Provider,
	in *snapshot.Intake, wf3 *snapshot.WF3, table *counties.Table, acc *RunOutput) TaskResult {

	result := TaskResult{TaskID: task.ID, PromptID: task.PromptID}
	failTask := func(err error) TaskResult {
		result.Status = TaskFailed
		result.Error = err.Error()
		o.logger.Warn("ai task failed",
			zap.String("task_id", string(task.ID)),
			zap.Error(err))
		return result
	}

	systemPrompt, err := SystemPrompt(task.ID)
	if err != nil {
		return failTask(err)
	}
	userPrompt, err := buildInput(task, in, wf3, table.Names(), acc)
	if err != nil {
		return failTask(err)
	}

	raw, err := provider.GenerateJSON(ctx, task.PromptID, systemPrompt, userPrompt)
	if err != nil {
		return failTask(err)
	}

	validated, err := o.validateTask(task, raw, in, table, acc)
	if err != nil {
		return failTask(err)
	}

	result.Status = TaskSuccess
	result.Output = validated
	return result
}

// validateTask applies the task's structural check and item filter, then
// folds the surviving items into the accumulated output. The returned raw
// message is the validated payload recorded in the task trace.
func (o *Orchestrator) validateTask(task Task, raw json.RawMessage,
	in *snapshot.Intake, table *counties.Table, acc *RunOutput) (json.RawMessage, error) {

	switch task.ID {
	case TaskFieldExtraction:
		items, err := validateExtractions(raw)
		if err != nil {
			return nil, err
		}
		acc.Extractions = items
		return json.Marshal(items)

	case TaskRiskFlagScan, TaskUrgencyFlagScan, TaskCompletenessFlagScan:
		category := flagCategoryFor(task.ID)
		items, err := validateFlags(raw, category)
		if err != nil {
			return nil, err
		}
		acc.Flags[category] = items
		return json.Marshal(items)

	case TaskConsistencyCheck:
		items, err := validateInconsistencies(raw)
		if err != nil {
			return nil, err
		}
		acc.Inconsistencies = items
		return json.Marshal(items)

	case TaskCountyMentionScan:
		items, err := validateCountyMentions(raw, table)
		if err != nil {
			return nil, err
		}
		acc.CountyMentions = items
		return json.Marshal(items)

	case TaskDocumentClassification:
		known := make(map[string]bool, len(in.Documents))
		for _, d := range in.Documents {
			known[d.ID] = true
		}
		items, err := validateDocumentClassifications(raw, known)
		if err != nil {
			return nil, err
		}
		acc.DocumentClassifications = items
		return json.Marshal(items)

	case TaskReviewAttentionSummary:
		items, err := validateReviewAttention(raw)
		if err != nil {
			return nil, err
		}
		acc.ReviewAttention = items
		return json.Marshal(items)
	}
	return nil, fmt.Errorf("aitasks: no validator for task %s", task.ID)
}

// inputHash digests everything that determines a run's output: both
// snapshots, the bundle version, the task catalog, and the prompt templates.
// Timestamps and run ids stay out of the hash or idempotency would silently
// break.
func (o *Orchestrator) inputHash(in *snapshot.Intake, wf3 *snapshot.WF3) (string, error) {
	promptsHash, err := PromptsHash()
	if err != nil {
		return "", err
	}
	catalog := Catalog()
	taskList := make([]map[string]interface{}, len(catalog))
	for i, task := range catalog {
		taskList[i] = map[string]interface{}{
			"id":         string(task.ID),
			"prompt_id":  task.PromptID,
			"output_key": task.OutputKey,
		}
	}
	return canonical.Hash(map[string]interface{}{
		"intake":         in,
		"wf3":            wf3,
		"bundle_version": PromptBundleVersion,
		"tasks":          taskList,
		"prompts_hash":   promptsHash,
	})
}

func (o *Orchestrator) persist(ctx context.Context, rec *RunRecord, intakeID, inputHash string) (*RunRecord, error) {
	if err := o.runs.InsertRun(ctx, rec); err != nil {
		if errors.Is(err, ErrRunExists) {
			existing, ferr := o.runs.FindRunByHash(ctx, intakeID, inputHash)
			if ferr != nil {
				return nil, fmt.Errorf("re-query after conflict: %w", ferr)
			}
			if existing == nil {
				return nil, fmt.Errorf("conflict on insert but no run found for intake %s", intakeID)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("persist run: %w", err)
	}
	o.logger.Info("ai run persisted",
		zap.String("run_id", rec.Log.RunID),
		zap.String("intake_id", intakeID),
		zap.String("status", string(rec.Log.Status)),
		zap.Float64("cost_usd", rec.Log.Usage.Total.CostUSD))
	return rec, nil
}

func (o *Orchestrator) persistSideEffects(ctx context.Context, rec *RunRecord, month string, runCost float64) {
	for _, flags := range rec.Output.Flags {
		for _, f := range flags {
			if !f.FlagPresent {
				continue
			}
			if err := o.side.InsertFlag(ctx, rec.Log.RunID, rec.Log.IntakeID, f); err != nil {
				o.logger.Warn("flag persistence failed",
					zap.String("label", f.Label), zap.Error(err))
			}
		}
	}
	for _, dc := range rec.Output.DocumentClassifications {
		if err := o.side.MergeDocumentClassification(ctx, rec.Log.IntakeID, dc); err != nil {
			o.logger.Warn("document classification merge failed",
				zap.String("document_id", dc.DocumentID), zap.Error(err))
		}
	}
	if runCost > 0 {
		if err := o.side.AddMonthlySpend(ctx, month, runCost); err != nil {
			o.logger.Warn("monthly spend update failed", zap.Error(err))
		}
	}
}
