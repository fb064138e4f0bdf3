package agent

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// Agent is the top-level process that runs on the user's machine: it
// polls the relay's control plane for commands, executes them against
// its Supervisor, and reports back, per spec §4.8.
type Agent struct {
	rest       *restClient
	supervisor *Supervisor
	hostname   string

	heartbeatInterval time.Duration
	pollInterval      time.Duration

	maxConsecutiveErrors int
	consecutiveErrors    int
}

// New builds an Agent against the given relay and credentials.
func New(relayURL, apiKey string, heartbeatInterval, pollInterval time.Duration, maxConsecutiveErrors int) *Agent {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Agent{
		rest:                 newRESTClient(relayURL, apiKey),
		supervisor:           NewSupervisor(relayURL, apiKey),
		hostname:             hostname,
		heartbeatInterval:    heartbeatInterval,
		pollInterval:         pollInterval,
		maxConsecutiveErrors: maxConsecutiveErrors,
	}
}

// Run drives the heartbeat and command-poll loops until ctx is
// cancelled, per spec §4.8 steps 1-2. After maxConsecutiveErrors
// straight transport failures it stops every managed child and
// re-execs itself, mirroring the legacy agent's self-healing restart.
func (a *Agent) Run(ctx context.Context) error {
	heartbeatTicker := time.NewTicker(a.heartbeatInterval)
	defer heartbeatTicker.Stop()
	pollTicker := time.NewTicker(a.pollInterval)
	defer pollTicker.Stop()

	a.doHeartbeat()

	for {
		select {
		case <-ctx.Done():
			a.supervisor.StopAll()
			return ctx.Err()
		case <-heartbeatTicker.C:
			a.doHeartbeat()
		case <-pollTicker.C:
			a.doPoll()
		}

		if a.consecutiveErrors >= a.maxConsecutiveErrors {
			slog.Warn("too many consecutive transport errors, restarting agent", "errors", a.consecutiveErrors)
			a.selfRestart()
			return nil
		}
	}
}

func (a *Agent) doHeartbeat() {
	info := collectSystemInfo(a.hostname)
	if err := a.rest.heartbeat(info); err != nil {
		slog.Warn("heartbeat failed", "err", err)
		a.consecutiveErrors++
		return
	}
	a.consecutiveErrors = 0
}

func (a *Agent) doPoll() {
	commands, err := a.rest.pollCommands()
	if err != nil {
		slog.Warn("poll failed", "err", err)
		a.consecutiveErrors++
		return
	}
	a.consecutiveErrors = 0

	for _, cmd := range commands {
		a.execute(cmd)
	}
}

func (a *Agent) execute(cmd remoteCommand) {
	var (
		pid *int
		err error
	)

	switch cmd.Action {
	case "start":
		var p int
		p, err = a.supervisor.Start(cmd.Project)
		pid = &p
	case "stop":
		err = a.supervisor.Stop(cmd.Project.ID)
	case "restart":
		var p int
		p, err = a.supervisor.Restart(cmd.Project)
		pid = &p
	default:
		slog.Warn("unknown command action", "action", cmd.Action, "project", cmd.Project.Name)
		return
	}

	success := err == nil
	message := "ok"
	if err != nil {
		message = err.Error()
	}
	logCommandResult(cmd.Action, cmd.Project.Name, success, message)

	if reportErr := a.rest.reportCompletion(cmd.ID, success, message, pid); reportErr != nil {
		slog.Warn("reporting command completion failed", "err", reportErr)
		a.consecutiveErrors++
	}
}

// selfRestart stops every managed child, then re-execs the current
// binary with its original arguments and exits, per spec §4.8's
// self-healing requirement carried over from the legacy agent's
// restart-on-repeated-failure behavior.
func (a *Agent) selfRestart() {
	a.supervisor.StopAll()

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	configureProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		slog.Error("self-restart failed to spawn replacement process", "err", err)
		os.Exit(1)
	}
	os.Exit(0)
}
