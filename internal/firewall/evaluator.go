// Package firewall implements the per-project rule cache (C2) and
// request evaluator (C3) described in spec §4.2/§4.3: method rules,
// then path rules, then regex pattern rules, first match wins, fail
// open on any internal error.
package firewall

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/wirehole/wirehole/internal/store"
)

// Verdict is the outcome of evaluating a request against a project's
// firewall rules.
type Verdict struct {
	Allowed bool
	Rule    *store.FirewallRule // the rule that matched, if blocked
}

// Evaluator decides whether a proxied request is allowed through,
// consulting the rule cache and logging an access request on block
// (spec §4.3 step 4).
type Evaluator struct {
	store *store.Store
	cache *Cache
	log   *slog.Logger

	reMu sync.Mutex
	re   map[int64]*regexp.Regexp // compiled pattern rules, keyed by rule id
}

// NewEvaluator constructs an Evaluator backed by s, using cache for
// read-through rule lookups.
func NewEvaluator(s *store.Store, cache *Cache, log *slog.Logger) *Evaluator {
	if log == nil {
		log = slog.Default()
	}
	return &Evaluator{store: s, cache: cache, log: log, re: make(map[int64]*regexp.Regexp)}
}

// Check is the full request-admission decision used by the ingress
// router (spec §4.3): a live temporary approval bypasses the rules
// outright; otherwise Evaluate runs, and a block is logged as a new
// access request (step 4) before being returned.
func (e *Evaluator) Check(projectID int64, clientIP, method, path string) Verdict {
	approved, err := e.store.IsApproved(projectID, clientIP, method, path)
	if err != nil {
		e.log.Error("firewall: checking temporary approval, failing open", "project_id", projectID, "err", err)
		return Verdict{Allowed: true}
	}
	if approved {
		return Verdict{Allowed: true}
	}

	v := e.Evaluate(projectID, method, path)
	if v.Allowed {
		return v
	}

	var ruleID *int64
	reason := "blocked by firewall rule"
	if v.Rule != nil {
		ruleID = &v.Rule.ID
		reason = "blocked by " + v.Rule.RuleType + " rule: " + v.Rule.Value
	}
	if _, err := e.store.CreateAccessRequest(projectID, clientIP, method, path, ruleID, reason); err != nil {
		e.log.Error("firewall: logging access request", "project_id", projectID, "err", err)
	}
	return v
}

// Evaluate checks method/path against project's firewall rules, in
// method -> path -> pattern order, first match wins (spec §4.3). Any
// internal error (e.g. a rule fails to load) fails open: the request
// is allowed, and the error is logged rather than propagated, per
// spec §4.3's fail-open invariant.
func (e *Evaluator) Evaluate(projectID int64, method, path string) Verdict {
	rules := e.cache.Get(projectID, false)
	if rules == nil {
		loaded, err := e.store.ListRules(projectID)
		if err != nil {
			e.log.Error("firewall: loading rules, failing open", "project_id", projectID, "err", err)
			return Verdict{Allowed: true}
		}
		e.cache.Set(projectID, loaded)
		rules = loaded
	}

	method = strings.ToUpper(method)

	for i := range rules {
		r := rules[i]
		if r.RuleType != store.RuleTypeMethod {
			continue
		}
		if strings.ToUpper(r.Value) == method {
			return Verdict{Allowed: false, Rule: &r}
		}
	}

	for i := range rules {
		r := rules[i]
		if r.RuleType != store.RuleTypePath {
			continue
		}
		if pathMatches(r.Value, path) {
			return Verdict{Allowed: false, Rule: &r}
		}
	}

	for i := range rules {
		r := rules[i]
		if r.RuleType != store.RuleTypePattern {
			continue
		}
		re, err := e.compiled(r)
		if err != nil {
			e.log.Warn("firewall: invalid pattern rule, skipping", "rule_id", r.ID, "value", r.Value, "err", err)
			continue
		}
		if re.MatchString(path) {
			return Verdict{Allowed: false, Rule: &r}
		}
	}

	return Verdict{Allowed: true}
}

// pathMatches reports whether candidate equals rule, or candidate is
// rule followed by a "/"-bounded suffix — an exact match or a
// directory-prefix match, never a bare string-prefix match (spec §4.3).
func pathMatches(rule, candidate string) bool {
	if candidate == rule {
		return true
	}
	rule = strings.TrimSuffix(rule, "/")
	return strings.HasPrefix(candidate, rule+"/")
}

// compiled returns the anchored regexp for a pattern rule, compiling
// and caching it on first use. The rule's value is wrapped in ^(?:...)
// so it is forced to match from the start of the path regardless of
// whether the operator's own pattern includes a "^" anchor, matching
// the Python original's re.match() semantics (spec §4.3: "anchored to
// the request path").
func (e *Evaluator) compiled(r store.FirewallRule) (*regexp.Regexp, error) {
	e.reMu.Lock()
	defer e.reMu.Unlock()

	if re, ok := e.re[r.ID]; ok {
		return re, nil
	}
	re, err := regexp.Compile(`^(?:` + r.Value + `)`)
	if err != nil {
		return nil, err
	}
	e.re[r.ID] = re
	return re, nil
}
