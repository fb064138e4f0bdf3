// Package protocol defines the JSON frame wire format exchanged between
// the edge and a connected agent over the /_tunnel control channel, and
// a Codec that frames them onto a websocket connection.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators. Frames are JSON objects; Type selects which
// concrete payload a Codec decodes the frame into.
const (
	TypeConnected    = "connected"
	TypeError        = "error"
	TypeHTTPRequest  = "http_request"
	TypeHTTPResponse = "http_response"
	TypePong         = "pong"
)

// MaxFrameSize is the per-frame size cap enforced by the Codec, in both
// directions.
const MaxFrameSize = 10 * 1024 * 1024

// Envelope is the minimal shape every frame carries; Codec.ReadFrame
// peeks at Type before unmarshalling the rest into a concrete payload.
type Envelope struct {
	Type string `json:"type"`
}

// Connected is sent edge->agent on a successful handshake, per spec §4.5.
type Connected struct {
	Type        string `json:"type"`
	Subdomain   string `json:"subdomain"`
	URL         string `json:"url"`
	ProjectID   int64  `json:"project_id"`
	ProjectName string `json:"project_name"`
}

// NewConnected builds a Connected frame.
func NewConnected(subdomain, url string, projectID int64, projectName string) *Connected {
	return &Connected{Type: TypeConnected, Subdomain: subdomain, URL: url, ProjectID: projectID, ProjectName: projectName}
}

// ErrorFrame is sent edge->agent on handshake failure, followed by close.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an ErrorFrame.
func NewError(message string) *ErrorFrame {
	return &ErrorFrame{Type: TypeError, Message: message}
}

// HTTPRequest is sent edge->agent to dispatch a proxied HTTP call.
type HTTPRequest struct {
	Type        string            `json:"type"`
	RequestID   string            `json:"request_id"`
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	QueryString string            `json:"query_string"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
}

// HTTPResponse is sent agent->edge with the upstream's response.
type HTTPResponse struct {
	Type      string     `json:"type"`
	RequestID string     `json:"request_id"`
	Status    int        `json:"status"`
	Headers   [][2]string `json:"headers"`
	Body      string     `json:"body"`
	IsBinary  bool       `json:"is_binary"`
}

// Pong is accepted and ignored at the application layer, per spec §4.5.
type Pong struct {
	Type string `json:"type"`
}

// hopByHopHeaders are stripped before an edge->agent http_request frame
// is built, per spec §4.5.
var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"host":                true,
}

// StripHopByHop removes hop-by-hop headers from a header map in place
// and returns it.
func StripHopByHop(h map[string]string) map[string]string {
	for k := range h {
		if hopByHopHeaders[toLower(k)] {
			delete(h, k)
		}
	}
	return h
}

// responseHeaderDrop lists response headers the edge recomputes itself
// and must not forward verbatim, per spec §4.5.
var responseHeaderDrop = map[string]bool{
	"transfer-encoding": true,
	"content-length":    true,
	"content-encoding":  true,
}

// FilterResponseHeaders drops headers the edge must recompute.
func FilterResponseHeaders(pairs [][2]string) [][2]string {
	out := make([][2]string, 0, len(pairs))
	for _, h := range pairs {
		if responseHeaderDrop[toLower(h[0])] {
			continue
		}
		out = append(out, h)
	}
	return out
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Decode inspects the frame's "type" field and unmarshals data into the
// matching concrete payload, returned as one of *Connected, *ErrorFrame,
// *HTTPRequest, *HTTPResponse, or *Pong.
func Decode(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding frame envelope: %w", err)
	}

	switch env.Type {
	case TypeConnected:
		var f Connected
		return &f, json.Unmarshal(data, &f)
	case TypeError:
		var f ErrorFrame
		return &f, json.Unmarshal(data, &f)
	case TypeHTTPRequest:
		var f HTTPRequest
		return &f, json.Unmarshal(data, &f)
	case TypeHTTPResponse:
		var f HTTPResponse
		return &f, json.Unmarshal(data, &f)
	case TypePong:
		var f Pong
		return &f, json.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}
