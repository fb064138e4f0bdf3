// Package registry tracks live agent tunnels by subdomain and the
// requests currently in flight on each one, per spec §4.4 (C4).
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wirehole/wirehole/internal/protocol"
)

// pingInterval is how often the edge pings a connected agent to keep
// the control channel alive and detect a dead peer promptly.
const pingInterval = 20 * time.Second

// Tunnel is one agent's control channel, multiplexing many in-flight
// HTTP requests by request_id over a single websocket connection
// (spec §4.5). Adapted from the teacher's stream-multiplexed Tunnel,
// keyed by the protocol's string request ids instead of numeric stream
// ids, and dispatching only http_response frames.
type Tunnel struct {
	Subdomain   string
	ProjectID   int64
	ProjectName string

	codec *protocol.Codec

	mu        sync.RWMutex
	pending   map[string]*awaiter
	done      chan struct{}
	closeOnce sync.Once
}

type awaiter struct {
	ch        chan *protocol.HTTPResponse
	createdAt time.Time
}

// NewTunnel wraps an already-handshaked codec as a registry Tunnel and
// starts its read and ping loops.
func NewTunnel(subdomain string, projectID int64, projectName string, codec *protocol.Codec) *Tunnel {
	t := &Tunnel{
		Subdomain:   subdomain,
		ProjectID:   projectID,
		ProjectName: projectName,
		codec:       codec,
		pending:     make(map[string]*awaiter),
		done:        make(chan struct{}),
	}
	go t.readLoop()
	go t.pingLoop()
	return t
}

// Dispatch sends req to the agent and returns a channel that receives
// exactly one HTTPResponse, or is closed without a value if the tunnel
// dies before a response arrives.
func (t *Tunnel) Dispatch(req *protocol.HTTPRequest) (<-chan *protocol.HTTPResponse, error) {
	ch := make(chan *protocol.HTTPResponse, 1)

	t.mu.Lock()
	t.pending[req.RequestID] = &awaiter{ch: ch, createdAt: time.Now()}
	t.mu.Unlock()

	if err := t.codec.WriteFrame(req); err != nil {
		t.CancelPending(req.RequestID)
		return nil, fmt.Errorf("dispatching request to agent: %w", err)
	}
	return ch, nil
}

// Close shuts the tunnel down, closing the underlying connection and
// every channel still awaiting a response.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		close(t.done)
		t.codec.Close()
		t.mu.Lock()
		for id, a := range t.pending {
			close(a.ch)
			delete(t.pending, id)
		}
		t.mu.Unlock()
	})
}

// Done returns a channel closed when the tunnel shuts down.
func (t *Tunnel) Done() <-chan struct{} {
	return t.done
}

func (t *Tunnel) readLoop() {
	defer t.Close()
	for {
		frame, err := t.codec.ReadFrame()
		if err != nil {
			select {
			case <-t.done:
			default:
				slog.Info("tunnel closed by peer", "subdomain", t.Subdomain, "err", err)
			}
			return
		}

		switch f := frame.(type) {
		case *protocol.HTTPResponse:
			t.mu.RLock()
			a, ok := t.pending[f.RequestID]
			t.mu.RUnlock()
			if ok {
				a.ch <- f
				t.CancelPending(f.RequestID)
			} else {
				slog.Warn("response for unknown or expired request id, dropping", "subdomain", t.Subdomain, "request_id", f.RequestID)
			}
		case *protocol.Pong:
			// keepalive acknowledgement, nothing to do.
		default:
			slog.Warn("unexpected frame from agent", "subdomain", t.Subdomain)
		}
	}
}

func (t *Tunnel) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.codec.WriteControlPing(); err != nil {
				slog.Warn("tunnel ping failed, closing", "subdomain", t.Subdomain, "err", err)
				t.Close()
				return
			}
		case <-t.done:
			return
		}
	}
}

// CancelPending evicts requestID's awaiter, closing its channel without
// a value. Safe to call after a response already arrived (the entry is
// simply gone by then) or after a caller gives up waiting on a
// send/request timeout — called from internal/edge so a client timeout
// doesn't leave the awaiter alive until the next sweep (spec §4.6 step
// 9 / §5's scoped-cleanup requirement).
func (t *Tunnel) CancelPending(requestID string) {
	t.mu.Lock()
	if a, ok := t.pending[requestID]; ok {
		close(a.ch)
		delete(t.pending, requestID)
	}
	t.mu.Unlock()
}

// PendingCount reports how many requests are currently awaiting a
// response on this tunnel, for tests asserting that a timed-out or
// failed dispatch doesn't leak an awaiter.
func (t *Tunnel) PendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pending)
}

// sweep evicts awaiters older than maxAge, backstopping requests whose
// control channel died or whose agent-side handling hung without ever
// producing a response (spec §4.5's cleanup sweeper).
func (t *Tunnel) sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, a := range t.pending {
		if a.createdAt.Before(cutoff) {
			close(a.ch)
			delete(t.pending, id)
		}
	}
}
