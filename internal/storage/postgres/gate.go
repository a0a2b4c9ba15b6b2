package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) CreateGateRule(ctx context.Context, r domain.GateRule) (domain.GateRule, error) {
	if r.ID == "" {
		r.ID = newID()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gate_rules (id, project_id, name, trigger, match_value, required, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, r.ID, r.ProjectID, r.Name, r.Trigger, r.MatchValue, r.Required, r.Active, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return domain.GateRule{}, fmt.Errorf("insert gate rule: %w", err)
	}
	return r, nil
}

const gateRuleSelect = `SELECT id, project_id, name, trigger, match_value, required, active, created_at, updated_at FROM gate_rules`

func scanGateRule(row *sql.Row) (domain.GateRule, error) {
	var r domain.GateRule
	err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Trigger, &r.MatchValue, &r.Required, &r.Active, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GateRule{}, storage.ErrNotFound
	}
	return r, err
}

func (s *Store) GetGateRule(ctx context.Context, id string) (domain.GateRule, error) {
	return scanGateRule(s.db.QueryRowContext(ctx, gateRuleSelect+" WHERE id = $1", id))
}

func (s *Store) ListGateRules(ctx context.Context, projectID string, activeOnly bool) ([]domain.GateRule, error) {
	query := gateRuleSelect + " WHERE project_id = $1"
	if activeOnly {
		query += " AND active"
	}
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.GateRule
	for rows.Next() {
		var r domain.GateRule
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Trigger, &r.MatchValue, &r.Required, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) UpdateGateRule(ctx context.Context, r domain.GateRule) (domain.GateRule, error) {
	r.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE gate_rules SET name = $2, trigger = $3, match_value = $4, required = $5, active = $6, updated_at = $7
		WHERE id = $1
	`, r.ID, r.Name, r.Trigger, r.MatchValue, r.Required, r.Active, r.UpdatedAt)
	if err != nil {
		return domain.GateRule{}, fmt.Errorf("update gate rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.GateRule{}, storage.ErrNotFound
	}
	return s.GetGateRule(ctx, r.ID)
}

func (s *Store) LinkCandidate(ctx context.Context, l domain.GateCandidateLink) (domain.GateCandidateLink, error) {
	if l.ID == "" {
		l.ID = newID()
	}
	l.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gate_candidate_links (id, gate_rule_id, task_id, artifact_id, project_id, gate_task_id, decision_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, l.ID, l.GateRuleID, l.TaskID, l.ArtifactID, l.ProjectID, nullIfEmpty(l.GateTaskID), nullIfEmpty(l.DecisionID), l.CreatedAt)
	if err != nil {
		return domain.GateCandidateLink{}, fmt.Errorf("insert candidate link: %w", err)
	}
	return l, nil
}

const candidateSelect = `SELECT id, gate_rule_id, task_id, artifact_id, project_id, COALESCE(gate_task_id, ''), COALESCE(decision_id, ''), created_at FROM gate_candidate_links`

func (s *Store) ListUnresolvedCandidates(ctx context.Context, gateRuleID string) ([]domain.GateCandidateLink, error) {
	rows, err := s.db.QueryContext(ctx, candidateSelect+" WHERE gate_rule_id = $1 AND decision_id IS NULL", gateRuleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

func (s *Store) ListCandidatesForTask(ctx context.Context, taskID string) ([]domain.GateCandidateLink, error) {
	rows, err := s.db.QueryContext(ctx, candidateSelect+" WHERE task_id = $1", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandidates(rows)
}

func scanCandidates(rows *sql.Rows) ([]domain.GateCandidateLink, error) {
	var out []domain.GateCandidateLink
	for rows.Next() {
		var l domain.GateCandidateLink
		if err := rows.Scan(&l.ID, &l.GateRuleID, &l.TaskID, &l.ArtifactID, &l.ProjectID, &l.GateTaskID, &l.DecisionID, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) RecordDecision(ctx context.Context, d domain.GateDecision, candidateIDs []string) (domain.GateDecision, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.GateDecision{}, fmt.Errorf("begin record decision tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if d.ID == "" {
		d.ID = newID()
	}
	d.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO gate_decisions (id, gate_rule_id, project_id, reviewer, outcome, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, d.ID, d.GateRuleID, d.ProjectID, d.Reviewer, d.Outcome, d.Notes, d.CreatedAt)
	if err != nil {
		return domain.GateDecision{}, fmt.Errorf("insert gate decision: %w", err)
	}
	for _, cid := range candidateIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE gate_candidate_links SET decision_id = $2 WHERE id = $1`, cid, d.ID); err != nil {
			return domain.GateDecision{}, fmt.Errorf("link candidate to decision: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.GateDecision{}, fmt.Errorf("commit record decision tx: %w", err)
	}
	committed = true
	return d, nil
}

func (s *Store) HasApprovedDecision(ctx context.Context, taskID string, gateRuleID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM gate_candidate_links l
			JOIN gate_decisions d ON d.id = l.decision_id
			WHERE l.task_id = $1 AND l.gate_rule_id = $2 AND d.outcome IN ($3, $4)
		)
	`, taskID, gateRuleID, domain.GateApproved, domain.GateApprovedWithRisk).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check approved decision: %w", err)
	}
	return exists, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
