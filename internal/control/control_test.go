package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wirehole/wirehole/internal/store"
)

func newTestPlane(t *testing.T) (*store.Store, *Plane, *store.Agent) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	a, err := s.CreateAgent("alice", "laptop", "agent-key")
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	return s, New(s), a
}

func Test_heartbeat_marks_agent_online(t *testing.T) {
	s, p, a := newTestPlane(t)

	req := httptest.NewRequest(http.MethodPost, "/api/agent/heartbeat", strings.NewReader(`{"system_info":{"hostname":"x"}}`))
	req.Header.Set("X-Agent-API-Key", "agent-key")
	w := httptest.NewRecorder()

	p.Heartbeat(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, _ := s.GetAgent(a.ID)
	if got.Status != store.AgentOnline {
		t.Errorf("expected agent online, got %q", got.Status)
	}
}

func Test_heartbeat_accepts_legacy_header(t *testing.T) {
	_, p, _ := newTestPlane(t)

	req := httptest.NewRequest(http.MethodPost, "/api/agent/heartbeat", strings.NewReader(`{}`))
	req.Header.Set("X-API-Key", "agent-key")
	w := httptest.NewRecorder()

	p.Heartbeat(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected legacy header to authenticate, got %d", w.Code)
	}
}

func Test_heartbeat_rejects_unknown_key(t *testing.T) {
	_, p, _ := newTestPlane(t)

	req := httptest.NewRequest(http.MethodPost, "/api/agent/heartbeat", strings.NewReader(`{}`))
	req.Header.Set("X-Agent-API-Key", "nope")
	w := httptest.NewRecorder()

	p.Heartbeat(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func Test_commands_returns_pending_with_project_fields(t *testing.T) {
	s, p, a := newTestPlane(t)
	proj, err := s.CreateProject("alice", &a.ID, "demo", "/srv/demo", "npm start", nil, true)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if _, err := s.CreateCommand(a.ID, proj.ID, store.ActionStart); err != nil {
		t.Fatalf("create command: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/agent/commands", nil)
	req.Header.Set("X-Agent-API-Key", "agent-key")
	w := httptest.NewRecorder()

	p.handleCommands(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var body struct {
		Commands []commandResponse `json:"commands"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(body.Commands) != 1 || body.Commands[0].Action != store.ActionStart {
		t.Fatalf("unexpected commands: %+v", body.Commands)
	}
	if body.Commands[0].Project.Path != "/srv/demo" {
		t.Errorf("expected bundled project path, got %q", body.Commands[0].Project.Path)
	}
}

func Test_complete_transitions_project_to_running(t *testing.T) {
	s, p, a := newTestPlane(t)
	proj, err := s.CreateProject("alice", &a.ID, "demo", "/srv/demo", "npm start", nil, true)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	cmd, err := s.CreateCommand(a.ID, proj.ID, store.ActionStart)
	if err != nil {
		t.Fatalf("create command: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/agent/commands/x/complete", strings.NewReader(`{"success":true,"message":"started","pid":4242}`))
	req.Header.Set("X-Agent-API-Key", "agent-key")
	w := httptest.NewRecorder()

	p.Complete(w, req, cmd.ID)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	got, _ := s.GetProject(proj.ID)
	if got.Status != store.ProjectRunning || got.PID == nil || *got.PID != 4242 {
		t.Errorf("unexpected project state after completion: %+v", got)
	}
}

func Test_enqueue_start_rejects_offline_agent(t *testing.T) {
	s, p, a := newTestPlane(t)
	proj, err := s.CreateProject("alice", &a.ID, "demo", "/srv/demo", "npm start", nil, true)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	if _, err := p.EnqueueCommand(proj, store.ActionStart); err != ErrAgentOffline {
		t.Fatalf("expected ErrAgentOffline for a never-heartbeated agent, got %v", err)
	}

	if err := s.Heartbeat(a.ID, "{}"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if _, err := p.EnqueueCommand(proj, store.ActionStart); err != nil {
		t.Errorf("expected start to succeed once agent is online, got %v", err)
	}
}

func Test_complete_path_parsing(t *testing.T) {
	_, p, a := newTestPlane(t)
	_ = a

	req := httptest.NewRequest(http.MethodPost, "/api/agent/commands/123/complete", strings.NewReader(`{"success":false,"message":"boom"}`))
	req.Header.Set("X-Agent-API-Key", "agent-key")
	w := httptest.NewRecorder()

	p.handleCompletePath(w, req)
	// command 123 doesn't exist; Complete should surface an internal
	// error rather than silently succeed.
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 for a nonexistent command id, got %d", w.Code)
	}
}
