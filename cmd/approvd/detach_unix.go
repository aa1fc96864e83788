//go:build unix

package main

import (
	"os/exec"
	"syscall"
)

// detach puts the spawned daemon in its own session so it survives the
// client process and its controlling terminal.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
