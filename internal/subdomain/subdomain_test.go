package subdomain

import "testing"

func Test_extract_root(t *testing.T) {
	_, res := Extract("ex.com", "ex.com")
	if res != Root {
		t.Fatalf("expected Root, got %v", res)
	}
}

func Test_extract_valid_subdomain(t *testing.T) {
	name, res := Extract("demo-alice.ex.com:443", "ex.com")
	if res != Valid || name != "demo-alice" {
		t.Fatalf("expected Valid demo-alice, got %v %q", res, name)
	}
}

func Test_extract_invalid(t *testing.T) {
	_, res := Extract("evil.other.com", "ex.com")
	if res != Invalid {
		t.Fatalf("expected Invalid, got %v", res)
	}
}

func Test_normalize_is_idempotent(t *testing.T) {
	inputs := []string{"My Project!!", "--weird--name--", "already-good", "  spaces  here "}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func Test_is_valid(t *testing.T) {
	cases := map[string]bool{
		"":           false,
		"abc":        true,
		"a-b-c":      true,
		"-abc":       false,
		"abc-":       false,
		"ab--c":      false,
		"a":          true,
		"Abc":        false,
	}
	for name, want := range cases {
		if got := IsValid(name); got != want {
			t.Errorf("IsValid(%q) = %v, want %v", name, got, want)
		}
	}
}

func Test_allocate_falls_back_on_invalid_base(t *testing.T) {
	taken := func(string) bool { return false }
	// "!!!-???" normalizes to "", which is invalid; the fallback
	// "project-???" normalizes to "project".
	got := Allocate("!!!", "???", taken)
	if got != "project" {
		t.Fatalf("expected fallback project, got %q", got)
	}
}

func Test_allocate_appends_counter_on_collision(t *testing.T) {
	seen := map[string]bool{"demo-alice": true, "demo-alice-1": true}
	taken := func(c string) bool { return seen[c] }
	got := Allocate("demo", "alice", taken)
	if got != "demo-alice-2" {
		t.Fatalf("expected demo-alice-2, got %q", got)
	}
}

func Test_allocate_random_suffix_after_1000_tries(t *testing.T) {
	taken := func(string) bool { return true }
	got := Allocate("demo", "alice", taken)
	if len(got) <= len("demo-alice") {
		t.Fatalf("expected random suffix appended, got %q", got)
	}
}
