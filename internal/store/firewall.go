package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRule inserts a firewall rule for a project. Uniqueness on
// (project_id, rule_type, value) is enforced by the schema.
func (s *Store) CreateRule(projectID int64, ruleType, value, description string) (*FirewallRule, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO firewall_rules (project_id, rule_type, value, description, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		projectID, ruleType, value, description, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating firewall rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new rule id: %w", err)
	}
	return s.getRule(id)
}

func (s *Store) getRule(id int64) (*FirewallRule, error) {
	var r FirewallRule
	err := s.db.QueryRow(
		`SELECT id, project_id, rule_type, value, description, created_at, updated_at FROM firewall_rules WHERE id = ?`, id,
	).Scan(&r.ID, &r.ProjectID, &r.RuleType, &r.Value, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning firewall rule: %w", err)
	}
	return &r, nil
}

// ListRules returns every firewall rule attached to a project, the data
// source behind the rule cache in spec §4.2.
func (s *Store) ListRules(projectID int64) ([]FirewallRule, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, rule_type, value, description, created_at, updated_at
		 FROM firewall_rules WHERE project_id = ?`, projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing firewall rules: %w", err)
	}
	defer rows.Close()

	var out []FirewallRule
	for rows.Next() {
		var r FirewallRule
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.RuleType, &r.Value, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning firewall rule: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRule removes a firewall rule by id.
func (s *Store) DeleteRule(id int64) error {
	_, err := s.db.Exec(`DELETE FROM firewall_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting firewall rule: %w", err)
	}
	return nil
}
