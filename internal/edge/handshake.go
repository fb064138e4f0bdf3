// Package edge implements the public-facing half of the relay: the
// control-channel handshake that admits agents (C5) and the ingress
// router that serves public HTTP traffic over their tunnels (C6).
package edge

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wirehole/wirehole/internal/protocol"
	"github.com/wirehole/wirehole/internal/registry"
	"github.com/wirehole/wirehole/internal/store"
)

// handshakeTimeout bounds how long an upgraded connection may sit
// between the upgrade and a fully registered tunnel before the edge
// gives up and closes it.
const handshakeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TunnelHandler upgrades agent connections on the control-channel path
// and runs their handshake, per spec §4.5.
type TunnelHandler struct {
	store    *store.Store
	registry *registry.Registry
	domain   string
	baseURL  string
}

// NewTunnelHandler constructs a TunnelHandler. domain is the apex
// subdomain suffix and baseURL the public URL scheme (e.g. "https") used
// to build the "connected" frame's url field as
// <baseURL>://<subdomain>.<domain>.
func NewTunnelHandler(s *store.Store, reg *registry.Registry, domain, baseURL string) *TunnelHandler {
	return &TunnelHandler{store: s, registry: reg, domain: domain, baseURL: baseURL}
}

// ServeHTTP implements the handshake: validate project_id+api_key from
// the query string, allocate a subdomain if the project doesn't have
// one, register the tunnel, and reply with connected/error frames.
func (h *TunnelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	projectID, apiKey, err := parseHandshakeParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	agent, err := h.store.GetAgentByAPIKey(apiKey)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	project, err := h.store.GetProject(projectID)
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	if project.AgentID == nil || *project.AgentID != agent.ID {
		http.Error(w, "project does not belong to this agent", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("tunnel handshake: websocket upgrade failed", "err", err)
		return
	}
	codec := protocol.NewCodec(conn)

	// Bound the upgrade->registered sequence itself: if allocating a
	// subdomain, registering the tunnel, or sending the connected frame
	// stalls (e.g. the agent stops reading), don't hold the connection
	// open indefinitely (spec §4.5's Registered -> Closed on handshake
	// timeout transition).
	conn.SetWriteDeadline(time.Now().Add(handshakeTimeout))

	subdomain := project.Subdomain
	if subdomain == "" {
		subdomain = allocateSubdomain(h.store, project.Name, project.Owner)
		if err := h.store.SetSubdomain(project.ID, subdomain); err != nil {
			sendHandshakeError(codec, "failed to allocate subdomain")
			codec.Close()
			return
		}
	}

	tunnel := registry.NewTunnel(subdomain, project.ID, project.Name, codec)
	if err := h.registry.Register(tunnel); err != nil {
		sendHandshakeError(codec, "a tunnel is already active for this project")
		tunnel.Close()
		return
	}

	connected := protocol.NewConnected(subdomain, h.baseURL+"://"+subdomain+"."+h.domain, project.ID, project.Name)
	if err := codec.WriteFrame(connected); err != nil {
		slog.Warn("tunnel handshake: failed to send connected frame", "subdomain", subdomain, "err", err)
		h.registry.Deregister(tunnel)
		tunnel.Close()
		return
	}

	// Handshake complete: clear the deadline so it doesn't poison the
	// tunnel's ordinary request/response and ping writes for the rest of
	// its life.
	conn.SetWriteDeadline(time.Time{})

	if err := h.store.SetStatus(project.ID, store.ProjectRunning, project.PID); err != nil {
		slog.Error("tunnel handshake: failed to mark project running", "project_id", project.ID, "err", err)
	}
	slog.Info("agent tunnel registered", "subdomain", subdomain, "project_id", project.ID)

	go h.awaitClose(tunnel, project.ID)
}

// awaitClose blocks until the tunnel's connection dies, then performs
// the Registered -> Closed transition from spec §4.5: deregister and
// mark the project stopped.
func (h *TunnelHandler) awaitClose(t *registry.Tunnel, projectID int64) {
	<-t.Done()
	h.registry.Deregister(t)
	if err := h.store.SetStatus(projectID, store.ProjectStopped, nil); err != nil {
		slog.Error("tunnel close: failed to mark project stopped", "project_id", projectID, "err", err)
	}
	slog.Info("agent tunnel closed", "subdomain", t.Subdomain, "project_id", projectID)
}

func parseHandshakeParams(r *http.Request) (int64, string, error) {
	q := r.URL.Query()
	projectIDStr := q.Get("project_id")
	apiKey := q.Get("api_key")
	if projectIDStr == "" || apiKey == "" {
		return 0, "", errBadHandshake
	}
	projectID, err := parseInt64(projectIDStr)
	if err != nil {
		return 0, "", errBadHandshake
	}
	return projectID, apiKey, nil
}

func sendHandshakeError(codec *protocol.Codec, message string) {
	_ = codec.WriteFrame(protocol.NewError(message))
}
