//go:build !windows

package dev

import (
	"os/exec"
	"syscall"
	"time"
)

// configureProcessGroup starts cmd in its own process group and, when its
// context ends, terminates the whole group rather than only the leader.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err != nil {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		return syscall.Kill(-pgid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second
}
