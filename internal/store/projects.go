package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateProject inserts a new project. subdomain may be empty; it is
// allocated lazily on first tunnel handshake (spec §4.5).
func (s *Store) CreateProject(owner string, agentID *int64, name, path, command string, port *int, isPublic bool) (*Project, error) {
	res, err := s.db.Exec(
		`INSERT INTO projects (owner, agent_id, name, path, command, port, is_public, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		owner, agentID, name, path, command, port, isPublic, ProjectStopped,
	)
	if err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new project id: %w", err)
	}
	return s.GetProject(id)
}

const projectColumns = `id, owner, agent_id, name, path, command, port, subdomain, is_public, status, pid, pending_action, last_started`

// GetProject returns the project with the given id.
func (s *Store) GetProject(id int64) (*Project, error) {
	return s.scanProject(s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
}

// GetProjectBySubdomain returns the project bound to subdomain, or
// ErrNotFound if no project claims it (spec §4.6 step 4).
func (s *Store) GetProjectBySubdomain(subdomain string) (*Project, error) {
	return s.scanProject(s.db.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE subdomain = ?`, subdomain))
}

// SubdomainTaken reports whether candidate is already claimed by a
// project, for use as a subdomain.Lookup.
func (s *Store) SubdomainTaken(candidate string) bool {
	var id int64
	err := s.db.QueryRow(`SELECT id FROM projects WHERE subdomain = ?`, candidate).Scan(&id)
	return err == nil
}

// SetSubdomain claims a subdomain for a project. Fails if the subdomain
// is already taken by another row (UNIQUE constraint), preserving
// global subdomain uniqueness per spec §3.
func (s *Store) SetSubdomain(projectID int64, subdomain string) error {
	_, err := s.db.Exec(`UPDATE projects SET subdomain = ? WHERE id = ?`, subdomain, projectID)
	if err != nil {
		return fmt.Errorf("setting subdomain: %w", err)
	}
	return nil
}

// SetStatus updates a project's status and optional pid, used by the
// tunnel handshake/close transitions (spec §4.5). Command completion
// uses MarkStarted, MarkStopped and MarkError instead.
func (s *Store) SetStatus(projectID int64, status string, pid *int) error {
	_, err := s.db.Exec(`UPDATE projects SET status = ?, pid = ? WHERE id = ?`, status, pid, projectID)
	if err != nil {
		return fmt.Errorf("setting project status: %w", err)
	}
	return nil
}

// SetPendingAction records the single in-flight pending action for a
// project, enforcing the "at most one pending action" invariant in
// spec §3 at the call-site (internal/control.EnqueueCommand refuses a
// new command while the project's pending_action is set).
func (s *Store) SetPendingAction(projectID int64, action *string) error {
	_, err := s.db.Exec(`UPDATE projects SET pending_action = ? WHERE id = ?`, action, projectID)
	if err != nil {
		return fmt.Errorf("setting pending action: %w", err)
	}
	return nil
}

// MarkStarted sets a project running with the given pid and stamps
// last_started, per spec §4.7 "start ok" / "restart ok" transitions.
func (s *Store) MarkStarted(projectID int64, pid int) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE projects SET status = ?, pid = ?, last_started = ?, pending_action = NULL WHERE id = ?`,
		ProjectRunning, pid, now, projectID,
	)
	if err != nil {
		return fmt.Errorf("marking project started: %w", err)
	}
	return nil
}

// MarkStopped sets a project stopped and clears its pid, per spec §4.7
// "stop ok" transition.
func (s *Store) MarkStopped(projectID int64) error {
	_, err := s.db.Exec(
		`UPDATE projects SET status = ?, pid = NULL, pending_action = NULL WHERE id = ?`,
		ProjectStopped, projectID,
	)
	if err != nil {
		return fmt.Errorf("marking project stopped: %w", err)
	}
	return nil
}

// MarkError sets a project into the error state, clearing any pending
// action, per spec §4.7 "any failure" transition.
func (s *Store) MarkError(projectID int64) error {
	_, err := s.db.Exec(
		`UPDATE projects SET status = ?, pending_action = NULL WHERE id = ?`,
		ProjectError, projectID,
	)
	if err != nil {
		return fmt.Errorf("marking project error: %w", err)
	}
	return nil
}

func (s *Store) scanProject(row *sql.Row) (*Project, error) {
	var p Project
	var agentID sql.NullInt64
	var port sql.NullInt64
	var subdomain sql.NullString
	var pid sql.NullInt64
	var pendingAction sql.NullString
	var lastStarted sql.NullTime

	if err := row.Scan(&p.ID, &p.Owner, &agentID, &p.Name, &p.Path, &p.Command, &port,
		&subdomain, &p.IsPublic, &p.Status, &pid, &pendingAction, &lastStarted); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning project: %w", err)
	}

	if agentID.Valid {
		v := agentID.Int64
		p.AgentID = &v
	}
	if port.Valid {
		v := int(port.Int64)
		p.Port = &v
	}
	p.Subdomain = subdomain.String
	if pid.Valid {
		v := int(pid.Int64)
		p.PID = &v
	}
	if pendingAction.Valid {
		v := pendingAction.String
		p.PendingAction = &v
	}
	if lastStarted.Valid {
		v := lastStarted.Time
		p.LastStarted = &v
	}
	return &p, nil
}
