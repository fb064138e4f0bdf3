package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("store: not found")

// CreateAgent inserts a new agent owned by owner, with the given
// display name and opaque API key.
func (s *Store) CreateAgent(owner, name, apiKey string) (*Agent, error) {
	res, err := s.db.Exec(
		`INSERT INTO agents (owner, name, api_key, status) VALUES (?, ?, ?, ?)`,
		owner, name, apiKey, AgentOffline,
	)
	if err != nil {
		return nil, fmt.Errorf("creating agent: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading new agent id: %w", err)
	}
	return s.GetAgent(id)
}

// GetAgent returns the agent with the given id.
func (s *Store) GetAgent(id int64) (*Agent, error) {
	return s.scanAgent(s.db.QueryRow(
		`SELECT id, owner, name, api_key, status, last_heartbeat, system_info FROM agents WHERE id = ?`, id,
	))
}

// GetAgentByAPIKey resolves an agent from its opaque API key, used by
// the control-channel handshake (spec §4.5) and the agent REST
// endpoints (spec §6).
func (s *Store) GetAgentByAPIKey(apiKey string) (*Agent, error) {
	return s.scanAgent(s.db.QueryRow(
		`SELECT id, owner, name, api_key, status, last_heartbeat, system_info FROM agents WHERE api_key = ?`, apiKey,
	))
}

func (s *Store) scanAgent(row *sql.Row) (*Agent, error) {
	var a Agent
	var lastHeartbeat sql.NullTime
	var systemInfo sql.NullString
	if err := row.Scan(&a.ID, &a.Owner, &a.Name, &a.APIKey, &a.Status, &lastHeartbeat, &systemInfo); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	a.LastHeartbeat = lastHeartbeat.Time
	a.SystemInfo = systemInfo.String
	return &a, nil
}

// Heartbeat stamps the agent's last-heartbeat time to now, sets it
// online, and records the supplied system-info blob, per spec §4.7.
func (s *Store) Heartbeat(agentID int64, systemInfo string) error {
	_, err := s.db.Exec(
		`UPDATE agents SET last_heartbeat = ?, status = ?, system_info = ? WHERE id = ?`,
		time.Now().UTC(), AgentOnline, systemInfo, agentID,
	)
	if err != nil {
		return fmt.Errorf("recording heartbeat: %w", err)
	}
	return nil
}

// SetAgentStatus forcibly sets an agent's status, for readers that
// detect staleness per the freshness window in spec §4.7; nothing in
// this module calls it.
func (s *Store) SetAgentStatus(agentID int64, status string) error {
	_, err := s.db.Exec(`UPDATE agents SET status = ? WHERE id = ?`, status, agentID)
	if err != nil {
		return fmt.Errorf("setting agent status: %w", err)
	}
	return nil
}

// IsOnline reports whether an agent should be treated as online given
// the freshness window: now - last_heartbeat <= window (spec §4.7,
// "offline if now - last_heartbeat > 2 x heartbeat_interval").
func IsOnline(a *Agent, window time.Duration) bool {
	if a.Status != AgentOnline {
		return false
	}
	if a.LastHeartbeat.IsZero() {
		return false
	}
	return time.Since(a.LastHeartbeat) <= window
}
