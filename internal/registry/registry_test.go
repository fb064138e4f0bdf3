package registry

import (
	"testing"
)

func Test_register_rejects_duplicate_subdomain(t *testing.T) {
	r := New()
	a := &Tunnel{Subdomain: "demo", done: make(chan struct{})}
	b := &Tunnel{Subdomain: "demo", done: make(chan struct{})}

	if err := r.Register(a); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(b); err != ErrSubdomainInUse {
		t.Errorf("expected ErrSubdomainInUse, got %v", err)
	}

	got, ok := r.Lookup("demo")
	if !ok || got != a {
		t.Error("expected lookup to still return the first tunnel")
	}
}

func Test_deregister_only_removes_current_tunnel(t *testing.T) {
	r := New()
	a := &Tunnel{Subdomain: "demo", done: make(chan struct{})}
	if err := r.Register(a); err != nil {
		t.Fatalf("register: %v", err)
	}

	// deregistering the tunnel that currently owns the subdomain removes it.
	r.Deregister(a)
	if _, ok := r.Lookup("demo"); ok {
		t.Fatal("expected deregister to remove the tunnel")
	}

	b := &Tunnel{Subdomain: "demo", done: make(chan struct{})}
	if err := r.Register(b); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	r.Deregister(a) // a is stale now; must be a no-op
	if got, ok := r.Lookup("demo"); !ok || got != b {
		t.Error("stale deregister must not remove a different tunnel occupying the subdomain")
	}
}

func Test_lookup_missing_subdomain(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("nope"); ok {
		t.Error("expected lookup miss for unregistered subdomain")
	}
}
