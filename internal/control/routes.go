package control

import (
	"net/http"
	"strconv"
	"strings"
)

// Mount registers the agent REST endpoints from spec §6 onto mux.
func (p *Plane) Mount(mux *http.ServeMux) {
	mux.HandleFunc("/api/agent/heartbeat", p.Heartbeat)
	mux.HandleFunc("/api/agent/commands", p.handleCommands)
	mux.HandleFunc("/api/agent/commands/", p.handleCompletePath)
}

func (p *Plane) handleCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	p.Commands(w, r)
}

// handleCompletePath parses "/api/agent/commands/<id>/complete" by hand
// and dispatches to Complete; the route is registered as a plain
// "/api/agent/commands/" prefix, without ServeMux path wildcards.
func (p *Plane) handleCompletePath(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/agent/commands/")
	id, ok := strings.CutSuffix(rest, "/complete")
	if !ok {
		http.NotFound(w, r)
		return
	}
	commandID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		http.Error(w, "invalid command id", http.StatusBadRequest)
		return
	}
	p.Complete(w, r, commandID)
}
