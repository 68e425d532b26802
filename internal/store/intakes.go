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

// UpsertIntake writes or replaces an intake row.
func (s *Store) UpsertIntake(ctx context.Context, in *rules.Intake) error {
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return fmt.Errorf("marshal intake payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO intakes (id, firm_id, status, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			firm_id = excluded.firm_id,
			status = excluded.status,
			payload = excluded.payload,
			updated_at = CURRENT_TIMESTAMP`,
		in.ID, in.FirmID, in.Status, string(payload))
	if err != nil {
		return fmt.Errorf("upsert intake %s: %w", in.ID, err)
	}
	return nil
}

// GetIntake loads the rule-engine view of an intake. The stored payload is
// an envelope document; rules evaluate against its "fields" member. An
// envelope without one is treated as a bare fields document.
func (s *Store) GetIntake(ctx context.Context, intakeID string) (*rules.Intake, error) {
	var in rules.Intake
	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, firm_id, status, payload FROM intakes WHERE id = ?", intakeID,
	).Scan(&in.ID, &in.FirmID, &in.Status, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("intake %s: %w", intakeID, rules.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get intake %s: %w", intakeID, err)
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, fmt.Errorf("decode intake %s payload: %w", intakeID, err)
	}
	if fields, ok := envelope["fields"].(map[string]interface{}); ok {
		in.Payload = fields
	} else {
		in.Payload = envelope
	}
	return &in, nil
}

// LoadIntake loads the AI-task view of an intake. The payload document holds
// the fields, narrative, messages, and document metadata; the row's own
// columns supply identity. Non-submitted intakes are refused.
func (s *Store) LoadIntake(ctx context.Context, intakeID string) (*snapshot.Intake, error) {
	var firmID, status, payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT firm_id, status, payload FROM intakes WHERE id = ?", intakeID,
	).Scan(&firmID, &status, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("intake %s: %w", intakeID, snapshot.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load intake %s: %w", intakeID, err)
	}
	if status != rules.StatusSubmitted {
		return nil, fmt.Errorf("intake %s: %w", intakeID, snapshot.ErrNotSubmitted)
	}

	var snap snapshot.Intake
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decode intake %s snapshot: %w", intakeID, err)
	}
	snap.IntakeID = intakeID
	snap.FirmID = firmID
	if snap.Fields == nil {
		snap.Fields = map[string]interface{}{}
	}
	if snap.Narrative == nil {
		snap.Narrative = map[string]string{}
	}
	return &snap, nil
}
