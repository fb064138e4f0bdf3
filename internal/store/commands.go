package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateCommand enqueues a work item for an agent, per spec §3. Callers
// (internal/control) are responsible for the "at most one pending
// action" invariant by checking the project's pending_action first.
func (s *Store) CreateCommand(agentID, projectID int64, action string) (*Command, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO commands (agent_id, project_id, action, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		agentID, projectID, action, CommandPending, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating command: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new command id: %w", err)
	}
	if err := s.SetPendingAction(projectID, &action); err != nil {
		return nil, err
	}
	return s.getCommand(id)
}

func (s *Store) getCommand(id int64) (*Command, error) {
	return s.scanCommand(s.db.QueryRow(
		`SELECT id, agent_id, project_id, action, status, result, created_at, completed_at FROM commands WHERE id = ?`, id,
	))
}

// PollCommands returns every pending command for an agent, bundled with
// the project fields the agent needs to execute it (spec §6). Two
// concurrent polls may observe the same pending command; Complete's
// row-level status check makes the later completion a no-op, per spec §4.7.
func (s *Store) PollCommands(agentID int64) ([]CommandWithProject, error) {
	rows, err := s.db.Query(
		`SELECT id, agent_id, project_id, action, status, result, created_at, completed_at
		 FROM commands WHERE agent_id = ? AND status = ? ORDER BY created_at ASC`,
		agentID, CommandPending,
	)
	if err != nil {
		return nil, fmt.Errorf("polling commands: %w", err)
	}
	defer rows.Close()

	var out []CommandWithProject
	for rows.Next() {
		var c Command
		var completedAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.AgentID, &c.ProjectID, &c.Action, &c.Status, &c.Result, &c.CreatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		if completedAt.Valid {
			v := completedAt.Time
			c.CompletedAt = &v
		}
		project, err := s.GetProject(c.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("loading project %d for command %d: %w", c.ProjectID, c.ID, err)
		}
		out = append(out, CommandWithProject{Command: c, Project: *project})
	}
	return out, rows.Err()
}

// Complete moves a command to a terminal state and applies the
// corresponding project transition from spec §4.7. It is idempotent: a
// command already in a terminal state is left untouched and the call
// reports no error (spec §8 invariant 8, "never re-enters pending").
func (s *Store) Complete(commandID int64, success bool, message string, pid *int) error {
	cmd, err := s.getCommand(commandID)
	if err != nil {
		return err
	}
	if cmd.Status != CommandPending {
		return nil
	}

	status := CommandCompleted
	if !success {
		status = CommandFailed
	}
	now := time.Now().UTC()

	res, err := s.db.Exec(
		`UPDATE commands SET status = ?, result = ?, completed_at = ? WHERE id = ? AND status = ?`,
		status, message, now, commandID, CommandPending,
	)
	if err != nil {
		return fmt.Errorf("completing command: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if affected == 0 {
		// another concurrent poll already completed it; no-op per spec §4.7.
		return nil
	}

	if !success {
		return s.MarkError(cmd.ProjectID)
	}

	switch cmd.Action {
	case ActionStart, ActionRestart:
		if pid == nil {
			return errors.New("store: completion of start/restart requires a pid")
		}
		return s.MarkStarted(cmd.ProjectID, *pid)
	case ActionStop:
		return s.MarkStopped(cmd.ProjectID)
	default:
		return fmt.Errorf("unknown command action %q", cmd.Action)
	}
}

func (s *Store) scanCommand(row *sql.Row) (*Command, error) {
	var c Command
	var completedAt sql.NullTime
	if err := row.Scan(&c.ID, &c.AgentID, &c.ProjectID, &c.Action, &c.Status, &c.Result, &c.CreatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning command: %w", err)
	}
	if completedAt.Valid {
		v := completedAt.Time
		c.CompletedAt = &v
	}
	return &c, nil
}
