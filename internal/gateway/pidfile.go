package gateway

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// WritePIDFile records the current process ID at path so launchers can tell
// whether a daemon is already running.
func WritePIDFile(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("gateway: create pid directory: %w", err)
		}
	}
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), 0o600); err != nil {
		return fmt.Errorf("gateway: write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile returns the process ID recorded at path.
func ReadPIDFile(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("gateway: malformed pid file %s: %w", path, err)
	}
	return pid, nil
}

// PIDAlive reports whether the process with the given ID exists. Signal 0
// probes without delivering anything.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// DaemonRunning reports whether the pidfile at path names a live process.
// A missing or stale marker (dead process) counts as not running.
func DaemonRunning(path string) bool {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return false
	}
	return PIDAlive(pid)
}
