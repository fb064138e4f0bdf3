package firewall

import (
	"testing"
	"time"

	"github.com/wirehole/wirehole/internal/store"
)

func newTestEvaluator(t *testing.T) (*store.Store, *Evaluator, int64) {
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

	return s, NewEvaluator(s, NewCache(), nil), p.ID
}

func Test_method_rule_blocks_before_path_or_pattern(t *testing.T) {
	s, e, projectID := newTestEvaluator(t)
	if _, err := s.CreateRule(projectID, store.RuleTypePath, "/anything", ""); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := s.CreateRule(projectID, store.RuleTypePattern, "/any", ""); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := s.CreateRule(projectID, store.RuleTypeMethod, "DELETE", ""); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	v := e.Evaluate(projectID, "delete", "/anything")
	if v.Allowed {
		t.Error("expected DELETE to be blocked regardless of case")
	}
	if v.Rule == nil || v.Rule.RuleType != store.RuleTypeMethod {
		t.Errorf("expected the method rule to be cited first, got %+v", v.Rule)
	}
}

func Test_path_rule_matches_exact_and_directory_prefix_only(t *testing.T) {
	s, e, projectID := newTestEvaluator(t)
	if _, err := s.CreateRule(projectID, store.RuleTypePath, "/admin", ""); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	if v := e.Evaluate(projectID, "GET", "/admin"); v.Allowed {
		t.Error("exact path match should block")
	}
	if v := e.Evaluate(projectID, "GET", "/admin/panel"); v.Allowed {
		t.Error("directory-prefix match should block")
	}
	if v := e.Evaluate(projectID, "GET", "/adminpanel"); !v.Allowed {
		t.Error("bare string-prefix match must NOT block")
	}
}

func Test_invalid_pattern_rule_is_skipped_not_fatal(t *testing.T) {
	s, e, projectID := newTestEvaluator(t)
	if _, err := s.CreateRule(projectID, store.RuleTypePattern, "(unterminated", ""); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if _, err := s.CreateRule(projectID, store.RuleTypePath, "/blocked", ""); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	v := e.Evaluate(projectID, "GET", "/fine")
	if !v.Allowed {
		t.Error("request unrelated to any valid rule should be allowed")
	}
	v = e.Evaluate(projectID, "GET", "/blocked")
	if v.Allowed {
		t.Error("the valid path rule should still block despite the broken pattern rule")
	}
}

func Test_pattern_rule_anchored_regex(t *testing.T) {
	s, e, projectID := newTestEvaluator(t)
	if _, err := s.CreateRule(projectID, store.RuleTypePattern, `^/api/v[0-9]+/secret`, ""); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	if v := e.Evaluate(projectID, "GET", "/api/v2/secret/data"); v.Allowed {
		t.Error("expected pattern match to block")
	}
	if v := e.Evaluate(projectID, "GET", "/public/api/v2/secret"); !v.Allowed {
		t.Error("unanchored match should not have blocked this path")
	}
}

func Test_pattern_rule_without_explicit_anchor_is_still_start_anchored(t *testing.T) {
	s, e, projectID := newTestEvaluator(t)
	if _, err := s.CreateRule(projectID, store.RuleTypePattern, "admin", ""); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	if v := e.Evaluate(projectID, "GET", "/admin/panel"); v.Allowed {
		t.Error("expected bare pattern to match at the start of the path")
	}
	if v := e.Evaluate(projectID, "GET", "/foo/admin"); !v.Allowed {
		t.Error("bare pattern must not match mid-path; compiled() should force a start anchor")
	}
}

func Test_check_logs_access_request_on_block(t *testing.T) {
	s, e, projectID := newTestEvaluator(t)
	if _, err := s.CreateRule(projectID, store.RuleTypePath, "/secret", ""); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	v := e.Check(projectID, "9.9.9.9", "GET", "/secret")
	if v.Allowed {
		t.Fatal("expected block")
	}

	reqs, err := s.ListAccessRequests(projectID, "")
	if err != nil || len(reqs) != 1 {
		t.Fatalf("expected one logged access request, got %d (err=%v)", len(reqs), err)
	}
	if reqs[0].ClientIP != "9.9.9.9" || reqs[0].Path != "/secret" {
		t.Errorf("unexpected access request contents: %+v", reqs[0])
	}
}

func Test_check_bypasses_on_temporary_approval(t *testing.T) {
	s, e, projectID := newTestEvaluator(t)
	if _, err := s.CreateRule(projectID, store.RuleTypePath, "/secret", ""); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	ar, err := s.CreateAccessRequest(projectID, "9.9.9.9", "GET", "/secret", nil, "blocked")
	if err != nil {
		t.Fatalf("create access request: %v", err)
	}
	if err := s.Approve(ar.ID, time.Minute); err != nil {
		t.Fatalf("approve: %v", err)
	}

	v := e.Check(projectID, "9.9.9.9", "GET", "/secret")
	if !v.Allowed {
		t.Error("expected approved tuple to bypass the blocking rule")
	}
}

func Test_cache_expires_after_ttl(t *testing.T) {
	c := NewCache()
	c.Set(1, []store.FirewallRule{{ID: 1}})

	if got := c.Get(1, false); got == nil {
		t.Fatal("expected fresh cache hit")
	}

	c.entries[1] = cacheEntry{rules: c.entries[1].rules, loadedAt: time.Now().Add(-2 * cacheTTL)}
	if got := c.Get(1, false); got != nil {
		t.Error("expected expired entry to miss")
	}
}

func Test_cache_invalidate(t *testing.T) {
	c := NewCache()
	c.Set(1, []store.FirewallRule{{ID: 1}})
	c.Set(2, []store.FirewallRule{{ID: 2}})

	one := int64(1)
	c.Invalidate(&one)
	if c.Get(1, false) != nil {
		t.Error("expected project 1 cache to be cleared")
	}
	if c.Get(2, false) == nil {
		t.Error("expected project 2 cache to remain")
	}

	c.Invalidate(nil)
	if c.Get(2, false) != nil {
		t.Error("expected full invalidation to clear everything")
	}
}
