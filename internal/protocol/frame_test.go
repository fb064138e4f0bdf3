package protocol

import (
	"encoding/json"
	"testing"
)

func Test_decode_connected(t *testing.T) {
	data, _ := json.Marshal(NewConnected("demo-alice", "https://demo-alice.ex.com", 7, "demo"))
	v, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	c, ok := v.(*Connected)
	if !ok {
		t.Fatalf("expected *Connected, got %T", v)
	}
	if c.Subdomain != "demo-alice" || c.ProjectID != 7 {
		t.Errorf("unexpected fields: %+v", c)
	}
}

func Test_decode_http_request_round_trip(t *testing.T) {
	req := &HTTPRequest{
		Type:      TypeHTTPRequest,
		RequestID: "deadbeef",
		Method:    "GET",
		Path:      "/admin",
		Headers:   map[string]string{"X-Test": "1"},
	}
	data, _ := json.Marshal(req)
	v, err := Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got, ok := v.(*HTTPRequest)
	if !ok {
		t.Fatalf("expected *HTTPRequest, got %T", v)
	}
	if got.RequestID != req.RequestID || got.Path != req.Path {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func Test_decode_unknown_type(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus"}`))
	if err == nil {
		t.Fatal("expected error for unknown frame type")
	}
}

func Test_strip_hop_by_hop(t *testing.T) {
	h := map[string]string{
		"Connection":      "keep-alive",
		"Host":             "example.com",
		"X-Forwarded-For": "1.2.3.4",
		"Accept":           "*/*",
	}
	StripHopByHop(h)
	if _, ok := h["Connection"]; ok {
		t.Error("Connection should be stripped")
	}
	if _, ok := h["Host"]; ok {
		t.Error("Host should be stripped")
	}
	if _, ok := h["Accept"]; !ok {
		t.Error("Accept should survive")
	}
}

func Test_filter_response_headers(t *testing.T) {
	pairs := [][2]string{
		{"Content-Type", "text/plain"},
		{"Transfer-Encoding", "chunked"},
		{"Content-Length", "123"},
	}
	got := FilterResponseHeaders(pairs)
	if len(got) != 1 || got[0][0] != "Content-Type" {
		t.Errorf("expected only Content-Type to survive, got %+v", got)
	}
}
