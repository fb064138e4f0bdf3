// Package agent runs on the user's machine: it owns the local child
// processes described by its assigned projects, maintains a
// heartbeat/command poll with the relay's control plane, and runs the
// tunnel client loop for each running project that exposes a port
// (spec §4.8, C8).
package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"
)

// restClient talks to the relay's agent REST endpoints (spec §6).
type restClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newRESTClient(baseURL, apiKey string) *restClient {
	return &restClient{baseURL: baseURL, apiKey: apiKey, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *restClient) do(method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agent-API-Key", c.apiKey)
	return c.http.Do(req)
}

// systemInfo mirrors the diagnostic payload the legacy Python agent
// sent with every heartbeat (spec §4.8 "supplemented features").
type systemInfo struct {
	Hostname     string `json:"hostname"`
	Platform     string `json:"platform"`
	Architecture string `json:"architecture"`
	NumCPU       int    `json:"cpu_count"`
}

func collectSystemInfo(hostname string) systemInfo {
	return systemInfo{
		Hostname:     hostname,
		Platform:     runtime.GOOS,
		Architecture: runtime.GOARCH,
		NumCPU:       runtime.NumCPU(),
	}
}

// heartbeat posts the agent's liveness and system info, per spec §4.8 step 1.
func (c *restClient) heartbeat(info systemInfo) error {
	resp, err := c.do(http.MethodPost, "/api/agent/heartbeat", map[string]any{"system_info": info})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat failed: status %d", resp.StatusCode)
	}
	return nil
}

type remoteCommand struct {
	ID      int64 `json:"id"`
	Action  string `json:"action"`
	Project remoteProject `json:"project"`
}

type remoteProject struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Path    string `json:"path"`
	Command string `json:"command"`
	Port    *int   `json:"port"`
}

// pollCommands fetches pending commands for this agent, per spec §4.8 step 2.
func (c *restClient) pollCommands() ([]remoteCommand, error) {
	resp, err := c.do(http.MethodGet, "/api/agent/commands", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling commands failed: status %d", resp.StatusCode)
	}

	var body struct {
		Commands []remoteCommand `json:"commands"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding commands response: %w", err)
	}
	return body.Commands, nil
}

// reportCompletion posts the outcome of executing a command, per spec §4.7.
func (c *restClient) reportCompletion(commandID int64, success bool, message string, pid *int) error {
	resp, err := c.do(http.MethodPost, fmt.Sprintf("/api/agent/commands/%d/complete", commandID),
		map[string]any{"success": success, "message": message, "pid": pid})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("reporting completion failed: status %d", resp.StatusCode)
	}
	return nil
}

func logCommandResult(action, project string, success bool, message string) {
	if success {
		slog.Info("command completed", "action", action, "project", project, "message", message)
	} else {
		slog.Warn("command failed", "action", action, "project", project, "message", message)
	}
}
