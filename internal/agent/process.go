package agent

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// earlyExitWindow is how long start() waits before concluding the
// child process launched successfully, per spec §4.8.
const earlyExitWindow = 2 * time.Second

// stopGrace is how long stop() waits for SIGTERM before escalating to
// SIGKILL, per spec §4.8.
const stopGrace = 5 * time.Second

// runningProcess tracks one managed child and its tunnel worker.
//
// exited is closed exactly once, by the single watcher goroutine Start
// spawns, after cmd.Wait() returns. cmd.Wait() must never be called a
// second time concurrently with that goroutine — os/exec only guards
// against sequential re-calls, not concurrent ones — so Stop observes
// process exit by waiting on this channel instead of calling Wait
// itself (the same split as treykane-ssh-manager's watchProcess/Stop).
type runningProcess struct {
	cmd    *exec.Cmd
	tunnel *tunnelWorker
	exited chan struct{}
}

// Supervisor owns every child process this agent has started, keyed by
// project id, mirroring the teacher's single-owner-map discipline
// guarded by a mutex.
type Supervisor struct {
	mu      sync.Mutex
	running map[int64]*runningProcess

	relayURL string
	apiKey   string
}

// NewSupervisor constructs an empty process supervisor. relayURL and
// apiKey are used to start each project's tunnel client worker.
func NewSupervisor(relayURL, apiKey string) *Supervisor {
	return &Supervisor{running: make(map[int64]*runningProcess), relayURL: relayURL, apiKey: apiKey}
}

// Start launches project's command in its configured path, per spec
// §4.8 start(): refuses if already running or the path doesn't exist,
// injects PORT, creates a new session/process group, and fails fast if
// the child exits within earlyExitWindow.
func (s *Supervisor) Start(project remoteProject) (pid int, err error) {
	s.mu.Lock()
	if rp, ok := s.running[project.ID]; ok && rp.cmd.ProcessState == nil {
		s.mu.Unlock()
		return rp.cmd.Process.Pid, fmt.Errorf("project %q is already running (pid %d)", project.Name, rp.cmd.Process.Pid)
	}
	s.mu.Unlock()

	if _, statErr := os.Stat(project.Path); statErr != nil {
		return 0, fmt.Errorf("project path does not exist: %s", project.Path)
	}

	cmd := exec.Command("sh", "-c", project.Command)
	cmd.Dir = project.Path
	cmd.Env = os.Environ()
	if project.Port != nil {
		cmd.Env = append(cmd.Env, "PORT="+strconv.Itoa(*project.Port))
	}
	configureProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("attaching stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return 0, fmt.Errorf("attaching stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting process: %w", err)
	}

	// The single long-lived watcher for this process's entire life: it
	// calls Wait() exactly once and publishes the result by closing
	// exited. Stop reads from the same channel rather than calling
	// Wait() itself, avoiding a second concurrent caller.
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	select {
	case <-exited:
		return 0, fmt.Errorf("process exited immediately with %v", cmd.ProcessState)
	case <-time.After(earlyExitWindow):
	}

	go streamLog(project.ID, "stdout", stdout)
	go streamLog(project.ID, "stderr", stderr)

	var worker *tunnelWorker
	if project.Port != nil {
		worker = newTunnelWorker(s.relayURL, s.apiKey, project.ID, *project.Port)
		go worker.run()
	}

	s.mu.Lock()
	s.running[project.ID] = &runningProcess{cmd: cmd, tunnel: worker, exited: exited}
	s.mu.Unlock()

	slog.Info("project started", "project", project.Name, "pid", cmd.Process.Pid, "port", project.Port)
	return cmd.Process.Pid, nil
}

// Stop halts project's tunnel worker and child process tree, per spec
// §4.8 stop(): SIGTERM the process group, escalate to SIGKILL after
// stopGrace.
func (s *Supervisor) Stop(projectID int64) error {
	s.mu.Lock()
	rp, ok := s.running[projectID]
	if ok {
		delete(s.running, projectID)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("project %d is not running", projectID)
	}
	if rp.tunnel != nil {
		rp.tunnel.stop()
	}

	terminateProcessGroup(rp.cmd)

	select {
	case <-rp.exited:
	case <-time.After(stopGrace):
		killProcessGroup(rp.cmd)
		<-rp.exited
	}
	return nil
}

// Restart stops then starts project, per spec §4.8 restart().
func (s *Supervisor) Restart(project remoteProject) (int, error) {
	_ = s.Stop(project.ID)
	time.Sleep(2 * time.Second)
	return s.Start(project)
}

// StopAll is used during graceful agent shutdown and self-restart
// (spec §4.8 step 3).
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	ids := make([]int64, 0, len(s.running))
	for id := range s.running {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.Stop(id); err != nil {
			slog.Warn("stopping project during shutdown", "project_id", id, "err", err)
		}
	}
}

// streamLog copies a child's output line by line to the agent's own
// stdout, tagged with its project id (spec §4.8 "stream stdout/stderr
// to local stdout"). A future ProjectLog shipping path can tap the
// same scanner (spec §4.8 "supplemented features").
func streamLog(projectID int64, stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fmt.Printf("[%d:%s] %s\n", projectID, stream, scanner.Text())
	}
}
