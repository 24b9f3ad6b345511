//go:build windows

package dev

import (
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// configureProcessGroup starts cmd in a new process group and kills it when
// its context ends.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
	}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 5 * time.Second
}
