// Package gateway accepts local client connections over a unix socket, frames
// newline-delimited JSON requests, and hands each decoded request to the
// approval registry. It owns only connection I/O; every decision lives in the
// registry.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/approvd/approvd/internal/approval"
	"github.com/approvd/approvd/internal/core"
	"github.com/approvd/approvd/pkg/protocol"
)

func init() {
	core.RegisterModule(&Gateway{})
}

// Compile-time interface guards.
var (
	_ core.Configurable = (*Gateway)(nil)
	_ core.Provisioner  = (*Gateway)(nil)
	_ core.Starter      = (*Gateway)(nil)
	_ core.Stopper      = (*Gateway)(nil)
)

// Registry is the gateway's view of the approval registry.
type Registry interface {
	Submit(ctx context.Context, req protocol.Request, conn approval.ClientConn)
	OnConnectionClosed(conn approval.ClientConn)
}

// Config is the YAML configuration for the socket gateway.
type Config struct {
	// SocketPath is the filesystem address of the listening socket.
	// Defaults to <data_dir>/approvd.sock.
	SocketPath string `yaml:"socket_path"`

	// PIDFile is the liveness marker path. Defaults to <data_dir>/approvd.pid.
	PIDFile string `yaml:"pid_file"`

	// MaxLineBytes caps the size of one request line.
	MaxLineBytes int `yaml:"max_line_bytes"`
}

const defaultMaxLineBytes = 1 << 20

// Gateway is the unix socket listener module.
type Gateway struct {
	config   Config
	appCtx   *core.AppContext
	logger   *slog.Logger
	registry Registry

	listener net.Listener
	wg       sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	closed  bool
}

// ModuleInfo implements core.Module.
func (g *Gateway) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "gateway.socket",
		New: func() core.Module { return &Gateway{} },
	}
}

// Configure implements core.Configurable.
func (g *Gateway) Configure(node *yaml.Node) error {
	if err := node.Decode(&g.config); err != nil {
		return fmt.Errorf("gateway: decode config: %w", err)
	}
	return nil
}

// Provision implements core.Provisioner.
func (g *Gateway) Provision(ctx *core.AppContext) error {
	g.appCtx = ctx
	g.logger = ctx.Logger
	g.conns = make(map[net.Conn]struct{})
	if g.config.SocketPath == "" {
		g.config.SocketPath = filepath.Join(ctx.DataDir, "approvd.sock")
	}
	if g.config.PIDFile == "" {
		g.config.PIDFile = filepath.Join(ctx.DataDir, "approvd.pid")
	}
	if g.config.MaxLineBytes <= 0 {
		g.config.MaxLineBytes = defaultMaxLineBytes
	}
	return nil
}

// SocketPath returns the resolved listening address.
func (g *Gateway) SocketPath() string { return g.config.SocketPath }

// Start implements core.Starter. Binding the socket is the one fatal error
// path of the daemon: if it fails, startup aborts.
func (g *Gateway) Start() error {
	if svc, ok := g.appCtx.Service("approval.registry"); ok {
		if reg, ok := svc.(Registry); ok {
			g.registry = reg
		}
	}
	if g.registry == nil {
		return errors.New("gateway: approval.registry service not found")
	}

	if dir := filepath.Dir(g.config.SocketPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("gateway: create socket directory: %w", err)
		}
	}

	// A previous unclean shutdown may have left the socket behind.
	_ = os.Remove(g.config.SocketPath)

	ln, err := net.Listen("unix", g.config.SocketPath)
	if err != nil {
		return fmt.Errorf("gateway: bind %s: %w", g.config.SocketPath, err)
	}
	if err := os.Chmod(g.config.SocketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("gateway: restrict socket permissions: %w", err)
	}
	g.listener = ln

	if err := WritePIDFile(g.config.PIDFile); err != nil {
		_ = ln.Close()
		_ = os.Remove(g.config.SocketPath)
		return err
	}

	g.logger.Info("gateway listening",
		"socket", g.config.SocketPath, "pid_file", g.config.PIDFile)

	g.wg.Add(1)
	go g.acceptLoop()
	return nil
}

func (g *Gateway) acceptLoop() {
	defer g.wg.Done()
	for {
		conn, err := g.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			g.logger.Warn("accept failed", "error", err)
			continue
		}
		if !g.track(conn) {
			_ = conn.Close()
			return
		}
		g.wg.Add(1)
		go g.handle(conn)
	}
}

func (g *Gateway) track(conn net.Conn) bool {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	if g.closed {
		return false
	}
	g.conns[conn] = struct{}{}
	return true
}

func (g *Gateway) untrack(conn net.Conn) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	delete(g.conns, conn)
}

// Stop implements core.Stopper: stop accepting, close live connections,
// remove the socket and the pidfile. Safe to run after a partial Start.
func (g *Gateway) Stop(_ context.Context) error {
	g.connsMu.Lock()
	g.closed = true
	open := make([]net.Conn, 0, len(g.conns))
	for c := range g.conns {
		open = append(open, c)
	}
	g.connsMu.Unlock()

	if g.listener != nil {
		_ = g.listener.Close()
	}
	for _, c := range open {
		_ = c.Close()
	}
	g.wg.Wait()

	_ = os.Remove(g.config.SocketPath)
	_ = os.Remove(g.config.PIDFile)
	g.logger.Info("gateway stopped")
	return nil
}
