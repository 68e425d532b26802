package store

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// schema is the current full schema, applied idempotently on every open.
// Records are stored as JSON documents with the columns needed for lookups
// and constraints promoted into real columns.
const schema = `
CREATE TABLE IF NOT EXISTS intakes (
	id         TEXT PRIMARY KEY,
	firm_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_intakes_firm ON intakes(firm_id);

CREATE TABLE IF NOT EXISTS rule_runs (
	id              TEXT PRIMARY KEY,
	intake_id       TEXT NOT NULL,
	version         INTEGER NOT NULL,
	ruleset_version TEXT NOT NULL,
	result          TEXT NOT NULL,
	evaluated_at    DATETIME NOT NULL,
	UNIQUE(intake_id, ruleset_version),
	UNIQUE(intake_id, version)
);
CREATE INDEX IF NOT EXISTS idx_rule_runs_intake ON rule_runs(intake_id);

CREATE TABLE IF NOT EXISTS ai_runs (
	run_id     TEXT PRIMARY KEY,
	intake_id  TEXT NOT NULL,
	wf3_run_id TEXT NOT NULL,
	input_hash TEXT NOT NULL,
	status     TEXT NOT NULL,
	record     TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at   DATETIME NOT NULL,
	UNIQUE(intake_id, input_hash)
);
CREATE INDEX IF NOT EXISTS idx_ai_runs_intake ON ai_runs(intake_id);

CREATE TABLE IF NOT EXISTS intake_flags (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT NOT NULL,
	intake_id  TEXT NOT NULL,
	category   TEXT NOT NULL,
	label      TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	evidence   TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(run_id, category, label)
);
CREATE INDEX IF NOT EXISTS idx_flags_intake ON intake_flags(intake_id);

CREATE TABLE IF NOT EXISTS document_classifications (
	intake_id   TEXT NOT NULL,
	document_id TEXT NOT NULL,
	category    TEXT NOT NULL,
	confidence  REAL NOT NULL DEFAULT 0,
	evidence    TEXT NOT NULL DEFAULT '[]',
	updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY(intake_id, document_id)
);

CREATE TABLE IF NOT EXISTS monthly_usage (
	month     TEXT PRIMARY KEY,
	spend_usd REAL NOT NULL DEFAULT 0
);
`

// columnMigration adds a column to a table that predates it. Applied only
// when the table exists and the column does not.
type columnMigration struct {
	table  string
	column string
	def    string
}

var pendingMigrations = []columnMigration{
	{"intake_flags", "detail", "TEXT NOT NULL DEFAULT ''"},
	{"document_classifications", "confidence", "REAL NOT NULL DEFAULT 0"},
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	for _, m := range pendingMigrations {
		if !tableExists(s.db, m.table) || columnExists(s.db, m.table, m.column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
		if _, err := s.db.Exec(query); err != nil {
			s.logger.Warn("column migration failed",
				zap.String("table", m.table),
				zap.String("column", m.column),
				zap.Error(err))
			continue
		}
		s.logger.Info("column migration applied",
			zap.String("table", m.table),
			zap.String("column", m.column))
	}
	return nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid, notnull, pk int
		var name, ctype string
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
