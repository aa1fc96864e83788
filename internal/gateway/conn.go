package gateway

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/approvd/approvd/pkg/protocol"
)

// replyWriteTimeout bounds the final reply write so one stuck client cannot
// hold a multiplexer fan-out hostage.
const replyWriteTimeout = 5 * time.Second

// clientConn adapts one accepted socket to the registry's ClientConn. The
// registry writes at most one reply line and closes; the gateway closes on
// its own when the request line is malformed or the daemon shuts down.
type clientConn struct {
	conn      net.Conn
	closeOnce sync.Once
}

func (c *clientConn) WriteLine(line []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(replyWriteTimeout))
	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	_, err := c.conn.Write(buf)
	return err
}

func (c *clientConn) Close() error {
	c.closeOnce.Do(func() { _ = c.conn.Close() })
	return nil
}

// handle runs one connection: read one request line, submit it, then watch
// for the remote side hanging up while the decision is pending.
func (g *Gateway) handle(conn net.Conn) {
	defer g.wg.Done()
	defer g.untrack(conn)

	cc := &clientConn{conn: conn}
	reader := bufio.NewReaderSize(conn, 4096)

	line, err := readLine(reader, g.config.MaxLineBytes)
	if err != nil {
		g.logger.Warn("request read failed", "error", err)
		_ = cc.WriteLine(protocol.EncodeDenyFallback())
		_ = cc.Close()
		return
	}

	req, err := protocol.DecodeRequest(line)
	if err != nil {
		// Protocol-level fallback, independent of decision semantics.
		g.logger.Warn("malformed request line", "error", err)
		_ = cc.WriteLine(protocol.EncodeDenyFallback())
		_ = cc.Close()
		return
	}

	g.logger.Debug("request received",
		"kind", string(req.Kind), "session", req.SessionID, "tool", req.ToolName)
	g.registry.Submit(context.Background(), req, cc)

	// Block until the connection dies: either the registry replied and
	// closed it, or the client gave up. Clients send nothing after the
	// request line, so any read result means the connection is done.
	_, _ = reader.ReadByte()
	g.registry.OnConnectionClosed(cc)
	_ = cc.Close()
}

// readLine reads one newline-terminated line, refusing lines longer than max.
func readLine(r *bufio.Reader, max int) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > max {
			return nil, io.ErrShortBuffer
		}
		if !isPrefix {
			return line, nil
		}
	}
}
