package edge

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wirehole/wirehole/internal/firewall"
	"github.com/wirehole/wirehole/internal/protocol"
	"github.com/wirehole/wirehole/internal/ratelimit"
	"github.com/wirehole/wirehole/internal/registry"
	"github.com/wirehole/wirehole/internal/store"
	"github.com/wirehole/wirehole/internal/subdomain"
)

// defaultSendTimeout is used when a caller passes a non-positive
// sendTimeout to NewRouter (e.g. an older config without the field set).
const defaultSendTimeout = 5 * time.Second

// Router is the public HTTP ingress handler: it resolves a request's
// host to a tunnel, enforces rate limiting and the firewall, and
// multiplexes the request over the control channel (spec §4.6, C6).
type Router struct {
	store          *store.Store
	registry       *registry.Registry
	evaluator      *firewall.Evaluator
	limiter        *ratelimit.Limiter
	domain         string
	requestTimeout time.Duration
	sendTimeout    time.Duration
	management     http.Handler
}

// NewRouter constructs a Router. management serves requests to the
// apex domain itself (the management UI), which is out of scope for
// this package (spec §1). sendTimeout bounds how long dispatching a
// request onto the control channel may take before the router gives up
// with a 504 (spec §4.6 step 7); a non-positive value falls back to
// defaultSendTimeout.
func NewRouter(s *store.Store, reg *registry.Registry, ev *firewall.Evaluator, limiter *ratelimit.Limiter, domain string, requestTimeout, sendTimeout time.Duration, management http.Handler) *Router {
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	return &Router{store: s, registry: reg, evaluator: ev, limiter: limiter, domain: domain, requestTimeout: requestTimeout, sendTimeout: sendTimeout, management: management}
}

// ServeHTTP implements the 9-step public ingress pipeline in spec §4.6.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := clientIPOf(r)

	if !rt.limiter.Allow(clientIP) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	sub, result := subdomain.Extract(r.Host, rt.domain)
	switch result {
	case subdomain.Root:
		if rt.management != nil {
			rt.management.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
		return
	case subdomain.Invalid:
		http.NotFound(w, r)
		return
	}

	tunnel, ok := rt.registry.Lookup(sub)
	if !ok {
		if _, err := rt.store.GetProjectBySubdomain(sub); err == nil {
			http.Error(w, "tunnel not active, start the project", http.StatusServiceUnavailable)
			return
		}
		http.NotFound(w, r)
		return
	}

	verdict := rt.evaluator.Check(tunnel.ProjectID, clientIP, r.Method, r.URL.Path)
	if !verdict.Allowed {
		reason := "blocked by firewall rule"
		if verdict.Rule != nil {
			reason = "blocked by " + verdict.Rule.RuleType + " rule: " + verdict.Rule.Value
		}
		w.Header().Set("X-Firewall-Blocked", "true")
		w.Header().Set("X-Firewall-Reason", reason)
		w.Header().Set("X-Firewall-Request-Logged", "true")
		http.Error(w, "request blocked by firewall", http.StatusForbidden)
		return
	}

	req, err := buildHTTPRequest(r)
	if err != nil {
		slog.Error("ingress: failed to build request frame", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	respCh, err := dispatchWithTimeout(tunnel, req, rt.sendTimeout)
	if err != nil {
		slog.Warn("ingress: send to agent failed", "subdomain", sub, "err", err)
		tunnel.CancelPending(req.RequestID)
		if err == errSendTimeout {
			http.Error(w, "tunnel send timed out", http.StatusGatewayTimeout)
		} else {
			http.Error(w, "tunnel transport error", http.StatusBadGateway)
		}
		return
	}

	select {
	case resp, ok := <-respCh:
		if !ok {
			http.Error(w, "tunnel closed before responding", http.StatusBadGateway)
			return
		}
		writeHTTPResponse(w, resp)
	case <-time.After(rt.requestTimeout):
		tunnel.CancelPending(req.RequestID)
		http.Error(w, "upstream timed out", http.StatusGatewayTimeout)
	}
}

// clientIPOf derives the client address per spec §4.6 step 1: prefer
// CF-Connecting-IP, then the first hop of X-Forwarded-For, then the
// TCP peer address.
func clientIPOf(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func newRequestID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// buildHTTPRequest converts an inbound http.Request into the wire
// frame sent to the agent, stripping hop-by-hop headers (spec §4.5).
func buildHTTPRequest(r *http.Request) (*protocol.HTTPRequest, error) {
	var body []byte
	if r.Body != nil {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}

	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	headers = protocol.StripHopByHop(headers)

	return &protocol.HTTPRequest{
		Type:        protocol.TypeHTTPRequest,
		RequestID:   newRequestID(),
		Method:      r.Method,
		Path:        r.URL.Path,
		QueryString: r.URL.RawQuery,
		Headers:     headers,
		Body:        string(body),
	}, nil
}

var errSendTimeout = errors.New("sending request to agent timed out")

// dispatchWithTimeout sends req on tunnel, bounding the call itself to
// timeout so a stalled websocket write can't hang the ingress task
// indefinitely (spec §4.6 step 7).
func dispatchWithTimeout(tunnel *registry.Tunnel, req *protocol.HTTPRequest, timeout time.Duration) (<-chan *protocol.HTTPResponse, error) {
	type result struct {
		ch  <-chan *protocol.HTTPResponse
		err error
	}
	done := make(chan result, 1)
	go func() {
		ch, err := tunnel.Dispatch(req)
		done <- result{ch, err}
	}()

	select {
	case res := <-done:
		return res.ch, res.err
	case <-time.After(timeout):
		return nil, errSendTimeout
	}
}

// writeHTTPResponse reassembles the agent's response onto w, decoding
// the body per is_binary and dropping headers the edge recomputes
// (spec §4.6 step 9, §4.5).
func writeHTTPResponse(w http.ResponseWriter, resp *protocol.HTTPResponse) {
	for _, h := range protocol.FilterResponseHeaders(resp.Headers) {
		w.Header().Add(h[0], h[1])
	}

	body := decodeResponseBody(resp)
	w.WriteHeader(resp.Status)
	if len(body) > 0 {
		w.Write(body)
	}
}

func decodeResponseBody(resp *protocol.HTTPResponse) []byte {
	if !resp.IsBinary {
		return []byte(resp.Body)
	}
	decoded, err := base64.StdEncoding.DecodeString(resp.Body)
	if err != nil {
		slog.Warn("ingress: failed to base64-decode binary response body", "err", err)
		return nil
	}
	return decoded
}
