package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateAccessRequest logs a blocked attempt, per spec §4.3 step 4. No
// deduplication is performed — the spec explicitly leaves coalescing to
// the implementer (spec §9).
func (s *Store) CreateAccessRequest(projectID int64, clientIP, method, path string, ruleID *int64, blockReason string) (*AccessRequest, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO firewall_access_requests
		 (project_id, client_ip, method, path, rule_id, block_reason, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		projectID, clientIP, method, path, ruleID, blockReason, AccessPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating access request: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new access request id: %w", err)
	}
	return s.GetAccessRequest(id)
}

const accessRequestColumns = `id, project_id, client_ip, method, path, rule_id, block_reason, status, approved_until, created_at, updated_at`

// GetAccessRequest returns the access request with the given id.
func (s *Store) GetAccessRequest(id int64) (*AccessRequest, error) {
	return s.scanAccessRequest(s.db.QueryRow(`SELECT `+accessRequestColumns+` FROM firewall_access_requests WHERE id = ?`, id))
}

// ListAccessRequests returns access requests for a project, optionally
// filtered by status, newest first (spec §4.9 list).
func (s *Store) ListAccessRequests(projectID int64, status string) ([]AccessRequest, error) {
	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.Query(`SELECT `+accessRequestColumns+` FROM firewall_access_requests WHERE project_id = ? ORDER BY created_at DESC`, projectID)
	} else {
		rows, err = s.db.Query(`SELECT `+accessRequestColumns+` FROM firewall_access_requests WHERE project_id = ? AND status = ? ORDER BY created_at DESC`, projectID, status)
	}
	if err != nil {
		return nil, fmt.Errorf("listing access requests: %w", err)
	}
	defer rows.Close()

	var out []AccessRequest
	for rows.Next() {
		ar, err := scanAccessRequestRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ar)
	}
	return out, rows.Err()
}

// Approve moves an access request into the approved state for
// duration, per spec §4.9. The current status is not checked: a
// pending, rejected or revoked request becomes approved, and
// re-approving an already-approved request refreshes its window.
func (s *Store) Approve(id int64, duration time.Duration) error {
	until := time.Now().UTC().Add(duration)
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE firewall_access_requests SET status = ?, approved_until = ?, updated_at = ? WHERE id = ?`,
		AccessApproved, until, now, id,
	)
	if err != nil {
		return fmt.Errorf("approving access request: %w", err)
	}
	return nil
}

// Reject moves an access request into the rejected state.
func (s *Store) Reject(id int64) error {
	_, err := s.db.Exec(
		`UPDATE firewall_access_requests SET status = ?, updated_at = ? WHERE id = ?`,
		AccessRejected, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("rejecting access request: %w", err)
	}
	return nil
}

// RevokeFilter selects which approved access requests Revoke expires.
// At least one field must be non-zero.
type RevokeFilter struct {
	RequestID *int64
	ProjectID *int64
	ClientIP  string
}

// Revoke expires every approved access request matching filter by
// setting its status to revoked and approved_until to now, per spec
// §4.9. Returns the number of rows affected.
func (s *Store) Revoke(filter RevokeFilter) (int64, error) {
	if filter.RequestID == nil && filter.ProjectID == nil && filter.ClientIP == "" {
		return 0, errors.New("store: revoke requires at least one filter")
	}

	query := `UPDATE firewall_access_requests SET status = ?, approved_until = ?, updated_at = ? WHERE status = ?`
	now := time.Now().UTC()
	args := []any{AccessRevoked, now, now, AccessApproved}

	if filter.RequestID != nil {
		query += ` AND id = ?`
		args = append(args, *filter.RequestID)
	}
	if filter.ProjectID != nil {
		query += ` AND project_id = ?`
		args = append(args, *filter.ProjectID)
	}
	if filter.ClientIP != "" {
		query += ` AND client_ip = ?`
		args = append(args, filter.ClientIP)
	}

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("revoking access requests: %w", err)
	}
	return res.RowsAffected()
}

// IsApproved reports whether there is a live (non-expired) approved
// access request for the exact 4-tuple (project, ip, method, path), per
// spec §3/§4.3/§8 invariant 4.
func (s *Store) IsApproved(projectID int64, clientIP, method, path string) (bool, error) {
	var id int64
	err := s.db.QueryRow(
		`SELECT id FROM firewall_access_requests
		 WHERE project_id = ? AND client_ip = ? AND method = ? AND path = ?
		   AND status = ? AND approved_until > ?`,
		projectID, clientIP, method, path, AccessApproved, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("checking approval: %w", err)
	}
	return true, nil
}

func (s *Store) scanAccessRequest(row *sql.Row) (*AccessRequest, error) {
	var ar AccessRequest
	var ruleID sql.NullInt64
	var approvedUntil sql.NullTime
	if err := row.Scan(&ar.ID, &ar.ProjectID, &ar.ClientIP, &ar.Method, &ar.Path, &ruleID, &ar.BlockReason,
		&ar.Status, &approvedUntil, &ar.CreatedAt, &ar.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning access request: %w", err)
	}
	if ruleID.Valid {
		v := ruleID.Int64
		ar.RuleID = &v
	}
	if approvedUntil.Valid {
		v := approvedUntil.Time
		ar.ApprovedUntil = &v
	}
	return &ar, nil
}

func scanAccessRequestRows(rows *sql.Rows) (*AccessRequest, error) {
	var ar AccessRequest
	var ruleID sql.NullInt64
	var approvedUntil sql.NullTime
	if err := rows.Scan(&ar.ID, &ar.ProjectID, &ar.ClientIP, &ar.Method, &ar.Path, &ruleID, &ar.BlockReason,
		&ar.Status, &approvedUntil, &ar.CreatedAt, &ar.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scanning access request: %w", err)
	}
	if ruleID.Valid {
		v := ruleID.Int64
		ar.RuleID = &v
	}
	if approvedUntil.Valid {
		v := approvedUntil.Time
		ar.ApprovedUntil = &v
	}
	return &ar, nil
}
