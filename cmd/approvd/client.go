package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/approvd/approvd/internal/gateway"
	"github.com/approvd/approvd/pkg/app"
)

const (
	// decisionTimeout caps how long a client session waits for the human.
	decisionTimeout = 5 * time.Minute

	// spawnWait is how long a client waits for a freshly spawned daemon's
	// socket to appear.
	spawnWait = 10 * time.Second
)

// clientPaths resolves the socket and pidfile locations from a data
// directory, mirroring the gateway's defaults.
func clientPaths(dataDir string) (socketPath, pidPath string) {
	if dataDir == "" {
		dataDir = app.DefaultDataDir()
	}
	return filepath.Join(dataDir, "approvd.sock"), filepath.Join(dataDir, "approvd.pid")
}

// ensureDaemon makes sure a daemon is reachable: if the pidfile names a
// live process the daemon is assumed up; otherwise one is spawned detached
// and the socket is awaited.
func ensureDaemon(ctx context.Context, socketPath, pidPath, cfgPath string, spawn bool) error {
	if gateway.DaemonRunning(pidPath) {
		return nil
	}
	if !spawn {
		return fmt.Errorf("daemon not running (pidfile %s)", pidPath)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own binary: %w", err)
	}

	args := []string{"start"}
	if cfgPath != "" {
		args = append(args, "--config", cfgPath)
	}
	cmd := exec.Command(exe, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	detach(cmd)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}
	// The daemon outlives this client; don't wait on it.
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release daemon process: %w", err)
	}

	// Wait for the socket to come up.
	deadline := time.Now().Add(spawnWait)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if conn, err := net.DialTimeout("unix", socketPath, time.Second); err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not come up within %s", spawnWait)
}

// sendRequest dials the daemon, writes one request line, and reads the one
// reply line. The timeout covers the whole exchange, including the human's
// decision time.
func sendRequest(ctx context.Context, socketPath string, line []byte, timeout time.Duration) ([]byte, error) {
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	if _, err := conn.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	reply, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}
	return reply, nil
}
