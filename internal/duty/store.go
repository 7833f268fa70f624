package duty

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// DB is the capability surface the engine needs to persist itself. *sql.DB
// and *sql.Tx both satisfy it.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const createKartavyasTable = `
CREATE TABLE IF NOT EXISTS kartavyas (
	id TEXT PRIMARY KEY,
	vasana_id TEXT,
	description TEXT,
	trigger_json TEXT NOT NULL,
	action_json TEXT NOT NULL,
	confidence REAL NOT NULL,
	total_executions INTEGER NOT NULL,
	failure_count INTEGER NOT NULL,
	status TEXT NOT NULL,
	last_executed TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	execution_log_json TEXT
)`

const createProposalsTable = `
CREATE TABLE IF NOT EXISTS niyama_proposals (
	id TEXT PRIMARY KEY,
	vasana_id TEXT,
	trigger_json TEXT NOT NULL,
	action_json TEXT NOT NULL,
	confidence REAL NOT NULL,
	evidence_json TEXT,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

const upsertKartavya = `
INSERT OR REPLACE INTO kartavyas
	(id, vasana_id, description, trigger_json, action_json, confidence,
	 total_executions, failure_count, status, last_executed, created_at,
	 updated_at, execution_log_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const upsertProposal = `
INSERT OR REPLACE INTO niyama_proposals
	(id, vasana_id, trigger_json, action_json, confidence, evidence_json, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Persist creates the tables if missing and upserts every duty and proposal.
// Composite structures are stored as JSON columns.
func (e *Engine) Persist(ctx context.Context, db DB) error {
	if _, err := db.ExecContext(ctx, createKartavyasTable); err != nil {
		return fmt.Errorf("duty: create kartavyas table: %w", err)
	}
	if _, err := db.ExecContext(ctx, createProposalsTable); err != nil {
		return fmt.Errorf("duty: create proposals table: %w", err)
	}

	for _, k := range e.Kartavyas() {
		trigger, err := json.Marshal(k.Trigger)
		if err != nil {
			return fmt.Errorf("duty: marshal trigger for %s: %w", k.ID, err)
		}
		action, err := json.Marshal(k.Action)
		if err != nil {
			return fmt.Errorf("duty: marshal action for %s: %w", k.ID, err)
		}
		log, err := json.Marshal(k.ExecutionLog)
		if err != nil {
			return fmt.Errorf("duty: marshal execution log for %s: %w", k.ID, err)
		}
		if _, err := db.ExecContext(ctx, upsertKartavya,
			k.ID, k.VasanaID, k.Description, string(trigger), string(action),
			k.Confidence, k.TotalExecutions, k.FailureCount, string(k.Status),
			formatTime(k.LastExecuted), formatTime(k.CreatedAt), formatTime(k.UpdatedAt),
			string(log),
		); err != nil {
			return fmt.Errorf("duty: upsert kartavya %s: %w", k.ID, err)
		}
	}

	for _, p := range e.Proposals() {
		trigger, err := json.Marshal(p.Trigger)
		if err != nil {
			return fmt.Errorf("duty: marshal trigger for proposal %s: %w", p.ID, err)
		}
		action, err := json.Marshal(p.Action)
		if err != nil {
			return fmt.Errorf("duty: marshal action for proposal %s: %w", p.ID, err)
		}
		evidence, err := json.Marshal(p.Evidence)
		if err != nil {
			return fmt.Errorf("duty: marshal evidence for proposal %s: %w", p.ID, err)
		}
		if _, err := db.ExecContext(ctx, upsertProposal,
			p.ID, p.VasanaID, string(trigger), string(action), p.Confidence,
			string(evidence), string(p.Status), formatTime(p.CreatedAt),
		); err != nil {
			return fmt.Errorf("duty: upsert proposal %s: %w", p.ID, err)
		}
	}
	return nil
}

// Restore clears the in-memory maps and loads both tables. Rows that fail to
// parse are skipped rather than aborting the load.
func (e *Engine) Restore(ctx context.Context, db DB) error {
	kartavyas := make(map[string]*Kartavya)
	proposals := make(map[string]*Proposal)

	rows, err := db.QueryContext(ctx, `SELECT id, vasana_id, description, trigger_json, action_json,
		confidence, total_executions, failure_count, status, last_executed,
		created_at, updated_at, execution_log_json FROM kartavyas`)
	if err != nil {
		return fmt.Errorf("duty: load kartavyas: %w", err)
	}
	for rows.Next() {
		var (
			k                                       Kartavya
			status                                  string
			triggerJSON, actionJSON                 string
			logJSON, lastExecuted, created, updated sql.NullString
		)
		if err := rows.Scan(&k.ID, &k.VasanaID, &k.Description, &triggerJSON, &actionJSON,
			&k.Confidence, &k.TotalExecutions, &k.FailureCount, &status,
			&lastExecuted, &created, &updated, &logJSON); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(triggerJSON), &k.Trigger); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(actionJSON), &k.Action); err != nil {
			continue
		}
		if logJSON.Valid && logJSON.String != "" {
			if err := json.Unmarshal([]byte(logJSON.String), &k.ExecutionLog); err != nil {
				continue
			}
		}
		// Stored rows bypass the proposal-time clamp; re-apply the floor.
		if k.Trigger.Cooldown < e.cfg.MinCooldown {
			k.Trigger.Cooldown = e.cfg.MinCooldown
		}
		k.Status = Status(status)
		k.LastExecuted = parseTime(lastExecuted)
		k.CreatedAt = parseTime(created)
		k.UpdatedAt = parseTime(updated)
		kartavyas[k.ID] = &k
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("duty: iterate kartavya rows: %w", err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("duty: close kartavya rows: %w", err)
	}

	rows, err = db.QueryContext(ctx, `SELECT id, vasana_id, trigger_json, action_json,
		confidence, evidence_json, status, created_at FROM niyama_proposals`)
	if err != nil {
		return fmt.Errorf("duty: load proposals: %w", err)
	}
	for rows.Next() {
		var (
			p                       Proposal
			status                  string
			triggerJSON, actionJSON string
			evidenceJSON, created   sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.VasanaID, &triggerJSON, &actionJSON,
			&p.Confidence, &evidenceJSON, &status, &created); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(triggerJSON), &p.Trigger); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(actionJSON), &p.Action); err != nil {
			continue
		}
		if evidenceJSON.Valid && evidenceJSON.String != "" {
			if err := json.Unmarshal([]byte(evidenceJSON.String), &p.Evidence); err != nil {
				continue
			}
		}
		if p.Trigger.Cooldown < e.cfg.MinCooldown {
			p.Trigger.Cooldown = e.cfg.MinCooldown
		}
		p.Status = ProposalStatus(status)
		p.CreatedAt = parseTime(created)
		proposals[p.ID] = &p
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("duty: iterate proposal rows: %w", err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("duty: close proposal rows: %w", err)
	}

	e.mu.Lock()
	e.kartavyas = kartavyas
	e.proposals = proposals
	e.mu.Unlock()
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
