package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"intakeflow/internal/aitasks"
)

// AIRuns is the AI-orchestration persistence view of a Store.
type AIRuns struct {
	s *Store
}

// AIRuns returns the AI-run view.
func (s *Store) AIRuns() *AIRuns {
	return &AIRuns{s: s}
}

// FindRunByHash returns the AI run for (intake, input hash), or (nil, nil).
func (a *AIRuns) FindRunByHash(ctx context.Context, intakeID, inputHash string) (*aitasks.RunRecord, error) {
	var record string
	err := a.s.db.QueryRowContext(ctx,
		"SELECT record FROM ai_runs WHERE intake_id = ? AND input_hash = ?",
		intakeID, inputHash,
	).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find ai run: %w", err)
	}

	var rec aitasks.RunRecord
	if err := json.Unmarshal([]byte(record), &rec); err != nil {
		return nil, fmt.Errorf("decode ai run record: %w", err)
	}
	return &rec, nil
}

// InsertRun persists an AI run record. Returns aitasks.ErrRunExists when a
// run with the same (intake, input hash) is already present.
func (a *AIRuns) InsertRun(ctx context.Context, rec *aitasks.RunRecord) error {
	record, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal ai run record: %w", err)
	}
	_, err = a.s.db.ExecContext(ctx, `
		INSERT INTO ai_runs (run_id, intake_id, wf3_run_id, input_hash, status, record, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Log.RunID, rec.Log.IntakeID, rec.Log.WF3RunID, rec.Log.InputHash,
		string(rec.Log.Status), string(record), rec.Log.StartedAt, rec.Log.EndedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("intake %s hash %s: %w", rec.Log.IntakeID, rec.Log.InputHash, aitasks.ErrRunExists)
		}
		return fmt.Errorf("insert ai run: %w", err)
	}
	return nil
}

// InsertFlag records one present flag from a run. Re-inserting the same
// (run, category, label) is a no-op so retried side persistence stays
// idempotent.
func (s *Store) InsertFlag(ctx context.Context, runID, intakeID string, f aitasks.Flag) error {
	evidence, err := json.Marshal(f.Evidence)
	if err != nil {
		return fmt.Errorf("marshal flag evidence: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intake_flags (run_id, intake_id, category, label, detail, evidence)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, category, label) DO NOTHING`,
		runID, intakeID, f.Category, f.Label, f.Detail, string(evidence))
	if err != nil {
		return fmt.Errorf("insert flag %s/%s: %w", f.Category, f.Label, err)
	}
	return nil
}

// FlagsForIntake lists persisted flags for an intake, newest run first.
func (s *Store) FlagsForIntake(ctx context.Context, intakeID string) ([]aitasks.Flag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, label, detail, evidence FROM intake_flags
		WHERE intake_id = ? ORDER BY id DESC`, intakeID)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	var out []aitasks.Flag
	for rows.Next() {
		var f aitasks.Flag
		var evidence string
		if err := rows.Scan(&f.Category, &f.Label, &f.Detail, &evidence); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		if err := json.Unmarshal([]byte(evidence), &f.Evidence); err != nil {
			return nil, fmt.Errorf("decode flag evidence: %w", err)
		}
		f.FlagPresent = true
		out = append(out, f)
	}
	return out, rows.Err()
}

// MergeDocumentClassification upserts the latest classification for one
// document.
func (s *Store) MergeDocumentClassification(ctx context.Context, intakeID string, dc aitasks.DocumentClassification) error {
	evidence, err := json.Marshal(dc.Evidence)
	if err != nil {
		return fmt.Errorf("marshal classification evidence: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO document_classifications (intake_id, document_id, category, confidence, evidence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(intake_id, document_id) DO UPDATE SET
			category = excluded.category,
			confidence = excluded.confidence,
			evidence = excluded.evidence,
			updated_at = CURRENT_TIMESTAMP`,
		intakeID, dc.DocumentID, dc.Category, dc.Confidence, string(evidence))
	if err != nil {
		return fmt.Errorf("merge classification for %s: %w", dc.DocumentID, err)
	}
	return nil
}

// DocumentCategory returns the stored category for one document, or "".
func (s *Store) DocumentCategory(ctx context.Context, intakeID, documentID string) (string, error) {
	var category string
	err := s.db.QueryRowContext(ctx,
		"SELECT category FROM document_classifications WHERE intake_id = ? AND document_id = ?",
		intakeID, documentID,
	).Scan(&category)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get classification: %w", err)
	}
	return category, nil
}

// MonthlySpend returns the recorded LLM spend for a calendar month
// (format "2006-01").
func (s *Store) MonthlySpend(ctx context.Context, month string) (float64, error) {
	var spend float64
	err := s.db.QueryRowContext(ctx,
		"SELECT spend_usd FROM monthly_usage WHERE month = ?", month,
	).Scan(&spend)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read monthly spend: %w", err)
	}
	return spend, nil
}

// AddMonthlySpend accumulates LLM spend into a calendar month.
func (s *Store) AddMonthlySpend(ctx context.Context, month string, amountUSD float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monthly_usage (month, spend_usd) VALUES (?, ?)
		ON CONFLICT(month) DO UPDATE SET spend_usd = spend_usd + excluded.spend_usd`,
		month, amountUSD)
	if err != nil {
		return fmt.Errorf("add monthly spend: %w", err)
	}
	return nil
}
