// Package store persists the entities in spec §3 (Agent, Project,
// Command, FirewallRule, FirewallAccessRequest) behind a narrow
// interface, backed by an embedded pure-Go SQLite database.
package store

import "time"

// Agent statuses.
const (
	AgentOnline  = "online"
	AgentOffline = "offline"
)

// Project statuses.
const (
	ProjectStopped   = "stopped"
	ProjectStarting  = "starting"
	ProjectRunning   = "running"
	ProjectStopping  = "stopping"
	ProjectRestarting = "restarting"
	ProjectError     = "error"
)

// Pending project actions.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

// Command statuses.
const (
	CommandPending   = "pending"
	CommandCompleted = "completed"
	CommandFailed    = "failed"
)

// Firewall rule types.
const (
	RuleTypePath    = "path"
	RuleTypeMethod  = "method"
	RuleTypePattern = "pattern"
)

// Access request statuses.
const (
	AccessPending  = "pending"
	AccessApproved = "approved"
	AccessRejected = "rejected"
	AccessRevoked  = "revoked"
)

// Agent is a remote worker identity, per spec §3.
type Agent struct {
	ID            int64
	Owner         string
	Name          string
	APIKey        string
	Status        string
	LastHeartbeat time.Time
	SystemInfo    string // opaque JSON blob
}

// Project is a remotely-runnable process, per spec §3.
type Project struct {
	ID            int64
	Owner         string
	AgentID       *int64
	Name          string
	Path          string
	Command       string
	Port          *int
	Subdomain     string
	IsPublic      bool
	Status        string
	PID           *int
	PendingAction *string
	LastStarted   *time.Time
}

// Command is a work item for an agent, per spec §3.
type Command struct {
	ID          int64
	AgentID     int64
	ProjectID   int64
	Action      string
	Status      string
	Result      string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// CommandWithProject bundles a command with the project fields the
// agent's poll endpoint needs to execute it (spec §6 GET /api/agent/commands).
type CommandWithProject struct {
	Command
	Project Project
}

// FirewallRule filters proxied requests for a project, per spec §3.
type FirewallRule struct {
	ID          int64
	ProjectID   int64
	RuleType    string
	Value       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AccessRequest records a blocked attempt and its moderation, per spec §3.
type AccessRequest struct {
	ID            int64
	ProjectID     int64
	ClientIP      string
	Method        string
	Path          string
	RuleID        *int64
	BlockReason   string
	Status        string
	ApprovedUntil *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
