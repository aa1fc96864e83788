package gateway

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/approvd/approvd/internal/approval"
	"github.com/approvd/approvd/internal/core"
	"github.com/approvd/approvd/pkg/protocol"
)

// fakeRegistry records submissions and replies immediately.
type fakeRegistry struct {
	mu        sync.Mutex
	submitted []protocol.Request
	closed    int
	reply     []byte
}

func (f *fakeRegistry) Submit(_ context.Context, req protocol.Request, conn approval.ClientConn) {
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	reply := f.reply
	f.mu.Unlock()
	if reply != nil {
		_ = conn.WriteLine(reply)
		_ = conn.Close()
	}
}

func (f *fakeRegistry) OnConnectionClosed(_ approval.ClientConn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeRegistry) submissions() []protocol.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Request(nil), f.submitted...)
}

func startTestGateway(t *testing.T, reg *fakeRegistry) *Gateway {
	t.Helper()

	dir := t.TempDir()
	ctx := core.NewAppContext(slog.Default(), dir)
	ctx.RegisterService("approval.registry", reg)

	g := &Gateway{}
	if err := g.Provision(ctx.ForModule("gateway.socket")); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := g.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = g.Stop(context.Background()) })
	return g
}

func dial(t *testing.T, g *Gateway) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("unix", g.SocketPath(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestGateway_SubmitsDecodedRequest(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{reply: protocol.EncodeApprovalReply(true, "")}
	g := startTestGateway(t, reg)

	conn := dial(t, g)
	defer conn.Close()

	if _, err := conn.Write([]byte(`{"tool_name":"Bash","tool_input":{"command":"echo hi"},"session_id":"s1"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !strings.Contains(line, `"behavior":"allow"`) {
		t.Errorf("reply = %s", line)
	}

	subs := reg.submissions()
	if len(subs) != 1 || subs[0].ToolName != "Bash" || subs[0].SessionID != "s1" {
		t.Errorf("submissions = %+v", subs)
	}
}

func TestGateway_MalformedLineGetsDenyFallback(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	g := startTestGateway(t, reg)

	conn := dial(t, g)
	defer conn.Close()

	if _, err := conn.Write([]byte("this is not json\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if strings.TrimSpace(line) != `{"decision":"deny"}` {
		t.Errorf("fallback reply = %q", line)
	}
	if len(reg.submissions()) != 0 {
		t.Error("malformed line must not reach the registry")
	}
}

func TestGateway_DisconnectNotifiesRegistry(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{} // never replies; request stays pending
	g := startTestGateway(t, reg)

	conn := dial(t, g)
	if _, err := conn.Write([]byte(`{"tool_name":"Bash","session_id":"s1"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	// Give the gateway time to submit, then hang up.
	deadline := time.Now().Add(2 * time.Second)
	for len(reg.submissions()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("request never submitted")
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for {
		reg.mu.Lock()
		closed := reg.closed
		reg.mu.Unlock()
		if closed == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("registry never notified of disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGateway_StopRemovesSocketAndPIDFile(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	g := startTestGateway(t, reg)

	if !DaemonRunning(g.config.PIDFile) {
		t.Fatal("pidfile should name this live process")
	}

	if err := g.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(g.SocketPath()); !os.IsNotExist(err) {
		t.Error("socket not removed on stop")
	}
	if _, err := os.Stat(g.config.PIDFile); !os.IsNotExist(err) {
		t.Error("pidfile not removed on stop")
	}
}

func TestPIDFile_StaleMarkerIsNotRunning(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "approvd.pid")
	// PID 1 exists but is not ours on most systems; use an absurd PID to
	// guarantee staleness.
	if err := os.WriteFile(path, []byte("999999999\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if DaemonRunning(path) {
		t.Error("absurd pid should be treated as stale")
	}
	if DaemonRunning(filepath.Join(t.TempDir(), "missing.pid")) {
		t.Error("missing pidfile should be treated as not running")
	}
}
