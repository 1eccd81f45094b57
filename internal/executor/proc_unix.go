//go:build !windows

package executor

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the command in its own process group so the whole
// tree can be killed on timeout, not just the direct child.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup terminates the command's process group. Generated code
// may spawn subprocesses that inherit the stdout/stderr pipes; unless they
// die too, waiting on the command blocks past the deadline.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if pid <= 0 {
		return
	}
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		// Negative PGID targets the full group.
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		return
	}
	_ = cmd.Process.Kill()
}
