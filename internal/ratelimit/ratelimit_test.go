package ratelimit

import (
	"testing"
	"time"
)

func Test_allow_caps_at_limit_within_window(t *testing.T) {
	l := New(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if l.Allow("1.2.3.4") {
		t.Error("4th request within window should be rejected")
	}
}

func Test_allow_tracks_ips_independently(t *testing.T) {
	l := New(1, time.Minute)
	if !l.Allow("1.1.1.1") {
		t.Fatal("first request from 1.1.1.1 should be allowed")
	}
	if !l.Allow("2.2.2.2") {
		t.Error("first request from a different ip should be allowed regardless of the other ip's state")
	}
	if l.Allow("1.1.1.1") {
		t.Error("second request from 1.1.1.1 should be rejected")
	}
}

func Test_gc_drops_idle_buckets(t *testing.T) {
	l := New(1, time.Minute)
	l.Allow("1.2.3.4")
	l.buckets["1.2.3.4"].lastSeen = time.Now().Add(-idleGC - time.Second)

	l.GC()
	if _, ok := l.buckets["1.2.3.4"]; ok {
		t.Error("expected idle bucket to be garbage collected")
	}
}
