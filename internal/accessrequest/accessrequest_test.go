package accessrequest

import (
	"testing"
	"time"

	"github.com/wirehole/wirehole/internal/store"
)

func newTestWorkflow(t *testing.T) (*store.Store, *Workflow, int64) {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	p, err := s.CreateProject("alice", nil, "demo", "/tmp", "run.sh", nil, true)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return s, New(s), p.ID
}

func Test_approve_rejects_duration_out_of_range(t *testing.T) {
	s, w, projectID := newTestWorkflow(t)
	ar, err := s.CreateAccessRequest(projectID, "1.2.3.4", "GET", "/x", nil, "blocked")
	if err != nil {
		t.Fatalf("create access request: %v", err)
	}

	if err := w.Approve(ar.ID, 0); err == nil {
		t.Error("expected error for zero duration")
	}
	if err := w.Approve(ar.ID, 61*time.Minute); err == nil {
		t.Error("expected error for duration over 60 minutes")
	}
	if err := w.Approve(ar.ID, 30*time.Minute); err != nil {
		t.Errorf("expected in-range duration to succeed, got %v", err)
	}
}

func Test_list_filters_by_status(t *testing.T) {
	s, w, projectID := newTestWorkflow(t)
	a, _ := s.CreateAccessRequest(projectID, "1.1.1.1", "GET", "/a", nil, "blocked")
	_, _ = s.CreateAccessRequest(projectID, "2.2.2.2", "GET", "/b", nil, "blocked")

	if err := w.Approve(a.ID, 5*time.Minute); err != nil {
		t.Fatalf("approve: %v", err)
	}

	approved, err := w.List(projectID, store.AccessApproved)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(approved) != 1 || approved[0].ID != a.ID {
		t.Errorf("expected only the approved request, got %+v", approved)
	}

	all, err := w.List(projectID, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected both requests when status filter is empty, got %d", len(all))
	}
}

func Test_revoke_by_ip(t *testing.T) {
	s, w, projectID := newTestWorkflow(t)
	a, _ := s.CreateAccessRequest(projectID, "9.9.9.9", "GET", "/a", nil, "blocked")
	if err := w.Approve(a.ID, 5*time.Minute); err != nil {
		t.Fatalf("approve: %v", err)
	}

	n, err := w.Revoke(store.RevokeFilter{ClientIP: "9.9.9.9"})
	if err != nil || n != 1 {
		t.Fatalf("revoke: n=%d err=%v", n, err)
	}

	ok, _ := s.IsApproved(projectID, "9.9.9.9", "GET", "/a")
	if ok {
		t.Error("expected revoked approval to no longer bypass the firewall")
	}
}
