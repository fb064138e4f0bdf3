package store

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func Test_agent_lookup_by_api_key(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateAgent("alice", "laptop", "secret-key")
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	got, err := s.GetAgentByAPIKey("secret-key")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.ID != a.ID {
		t.Errorf("expected id %d, got %d", a.ID, got.ID)
	}

	if _, err := s.GetAgentByAPIKey("nope"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func Test_heartbeat_freshness(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.CreateAgent("alice", "laptop", "key1")

	if IsOnline(a, time.Minute) {
		t.Error("agent with no heartbeat should not be online")
	}

	if err := s.Heartbeat(a.ID, `{"hostname":"x"}`); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	a, _ = s.GetAgent(a.ID)
	if !IsOnline(a, time.Minute) {
		t.Error("agent with fresh heartbeat should be online")
	}

	a.LastHeartbeat = time.Now().Add(-time.Hour)
	if IsOnline(a, time.Minute) {
		t.Error("agent with stale heartbeat should be offline")
	}
}

func Test_subdomain_uniqueness_enforced(t *testing.T) {
	s := newTestStore(t)
	p1, _ := s.CreateProject("alice", nil, "demo", "/tmp", "run.sh", nil, true)
	p2, _ := s.CreateProject("alice", nil, "other", "/tmp", "run.sh", nil, true)

	if err := s.SetSubdomain(p1.ID, "demo-alice"); err != nil {
		t.Fatalf("set subdomain: %v", err)
	}
	if err := s.SetSubdomain(p2.ID, "demo-alice"); err == nil {
		t.Error("expected unique constraint violation on duplicate subdomain")
	}
}

func Test_command_completion_is_idempotent(t *testing.T) {
	s := newTestStore(t)
	a, _ := s.CreateAgent("alice", "laptop", "key2")
	p, _ := s.CreateProject("alice", &a.ID, "demo", "/tmp", "run.sh", nil, true)

	cmd, err := s.CreateCommand(a.ID, p.ID, ActionStart)
	if err != nil {
		t.Fatalf("create command: %v", err)
	}

	pid := 1234
	if err := s.Complete(cmd.ID, true, "started", &pid); err != nil {
		t.Fatalf("complete: %v", err)
	}
	proj, _ := s.GetProject(p.ID)
	if proj.Status != ProjectRunning || proj.PID == nil || *proj.PID != pid {
		t.Errorf("expected project running with pid %d, got %+v", pid, proj)
	}

	// second completion is a no-op, never re-enters pending.
	if err := s.Complete(cmd.ID, false, "late failure", nil); err != nil {
		t.Fatalf("second complete: %v", err)
	}
	proj2, _ := s.GetProject(p.ID)
	if proj2.Status != ProjectRunning {
		t.Errorf("second completion must not change terminal state, got %q", proj2.Status)
	}
}

func Test_access_request_bypass_scope(t *testing.T) {
	s := newTestStore(t)
	p, _ := s.CreateProject("alice", nil, "demo", "/tmp", "run.sh", nil, true)

	ar, err := s.CreateAccessRequest(p.ID, "1.2.3.4", "GET", "/admin/panel", nil, "blocked path")
	if err != nil {
		t.Fatalf("create access request: %v", err)
	}

	ok, _ := s.IsApproved(p.ID, "1.2.3.4", "GET", "/admin/panel")
	if ok {
		t.Error("pending request should not bypass firewall")
	}

	if err := s.Approve(ar.ID, 5*time.Minute); err != nil {
		t.Fatalf("approve: %v", err)
	}

	ok, _ = s.IsApproved(p.ID, "1.2.3.4", "GET", "/admin/panel")
	if !ok {
		t.Error("approved tuple should bypass firewall")
	}

	ok, _ = s.IsApproved(p.ID, "1.2.3.4", "GET", "/admin/other")
	if ok {
		t.Error("a different path must remain blocked")
	}

	n, err := s.Revoke(RevokeFilter{ProjectID: &p.ID})
	if err != nil || n != 1 {
		t.Fatalf("revoke: n=%d err=%v", n, err)
	}
	ok, _ = s.IsApproved(p.ID, "1.2.3.4", "GET", "/admin/panel")
	if ok {
		t.Error("revoked approval must no longer bypass firewall")
	}
}
