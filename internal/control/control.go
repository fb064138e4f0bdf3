// Package control implements the agent-facing command/heartbeat plane
// (C7): the REST endpoints an agent's worker loop polls and posts to,
// per spec §4.7/§6.
package control

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wirehole/wirehole/internal/store"
)

// ErrAgentOffline is returned by EnqueueCommand when a start or restart
// is requested for a project whose agent is not online (spec §4.7).
var ErrAgentOffline = errors.New("control: agent is not online")

// ErrActionPending is returned by EnqueueCommand when the project already
// has a pending action (spec §3: at most one pending action at a time).
var ErrActionPending = errors.New("control: project already has a pending action")

// HeartbeatWindow is the freshness window readers use to treat an
// agent as online: now - last_heartbeat <= 2 * heartbeat_interval
// (spec §4.7). The default heartbeat interval is 30s per spec §4.8.
const HeartbeatWindow = 2 * 30 * time.Second

// Plane exposes the agent REST endpoints over a store.
type Plane struct {
	store *store.Store
}

// New constructs a Plane backed by s.
func New(s *store.Store) *Plane {
	return &Plane{store: s}
}

// authenticate resolves the calling agent from either the current or
// legacy API key header (spec §6 "supplemented features": legacy
// X-API-Key support for older agent builds).
func (p *Plane) authenticate(r *http.Request) (*store.Agent, error) {
	key := r.Header.Get("X-Agent-API-Key")
	if key == "" {
		key = r.Header.Get("X-API-Key")
	}
	if key == "" {
		return nil, store.ErrNotFound
	}
	return p.store.GetAgentByAPIKey(key)
}

type heartbeatRequest struct {
	SystemInfo json.RawMessage `json:"system_info"`
}

// Heartbeat implements POST /api/agent/heartbeat: stamps last_heartbeat,
// marks the agent online, and persists its system info (spec §4.7).
func (p *Plane) Heartbeat(w http.ResponseWriter, r *http.Request) {
	agent, err := p.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req heartbeatRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	if err := p.store.Heartbeat(agent.ID, string(req.SystemInfo)); err != nil {
		slog.Error("heartbeat: failed to persist", "agent_id", agent.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type commandResponse struct {
	ID      int64          `json:"id"`
	Action  string         `json:"action"`
	Project projectSummary `json:"project"`
}

type projectSummary struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Command string `json:"command"`
	Port    *int   `json:"port,omitempty"`
}

// Commands implements GET /api/agent/commands: returns every pending
// command for the authenticated agent, bundled with the project
// fields needed to execute it (spec §4.7, §6).
func (p *Plane) Commands(w http.ResponseWriter, r *http.Request) {
	agent, err := p.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	pending, err := p.store.PollCommands(agent.ID)
	if err != nil {
		slog.Error("commands: poll failed", "agent_id", agent.ID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	out := make([]commandResponse, 0, len(pending))
	for _, c := range pending {
		out = append(out, commandResponse{
			ID:     c.ID,
			Action: c.Action,
			Project: projectSummary{
				ID:      c.Project.ID,
				Name:    c.Project.Name,
				Path:    c.Project.Path,
				Command: c.Project.Command,
				Port:    c.Project.Port,
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": out})
}

type completeRequest struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	PID     *int   `json:"pid"`
}

// Complete implements POST /api/agent/commands/<id>/complete: drives a
// command to its terminal state and applies the resulting project
// transition (spec §4.7).
func (p *Plane) Complete(w http.ResponseWriter, r *http.Request, commandID int64) {
	if _, err := p.authenticate(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req completeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := p.store.Complete(commandID, req.Success, req.Message, req.PID); err != nil {
		slog.Error("complete: failed", "command_id", commandID, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// EnqueueCommand creates a pending command for project's agent,
// enforcing that start/restart require the agent to be currently
// online (spec §4.7: "Start/restart actions on a project whose agent
// is not online fail with a deterministic error"), and refusing a new
// command while project.PendingAction is set. The out-of-scope
// management REST surface is expected to call this rather than
// store.CreateCommand directly.
func (p *Plane) EnqueueCommand(project *store.Project, action string) (*store.Command, error) {
	if project.AgentID == nil {
		return nil, ErrAgentOffline
	}
	if project.PendingAction != nil {
		return nil, ErrActionPending
	}
	if action == store.ActionStart || action == store.ActionRestart {
		agent, err := p.store.GetAgent(*project.AgentID)
		if err != nil {
			return nil, err
		}
		if !store.IsOnline(agent, HeartbeatWindow) {
			return nil, ErrAgentOffline
		}
	}
	return p.store.CreateCommand(*project.AgentID, project.ID, action)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
