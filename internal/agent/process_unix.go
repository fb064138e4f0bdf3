//go:build !windows

package agent

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup starts cmd in a new session so the whole
// process tree can be signaled together (spec §4.8 "setsid").
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}

// terminateProcessGroup sends SIGTERM to the process group.
func terminateProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}

// killProcessGroup sends SIGKILL to the process group, used after the
// stop grace period elapses.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
