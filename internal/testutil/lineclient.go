package testutil

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/cory-johannsen/lobber/internal/frontend/telnet"
	"github.com/cory-johannsen/lobber/internal/lobby"
)

// LineClient speaks the line protocol to a telnet acceptor.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      testing.TB
}

// NewLineClient dials addr.
//
// Precondition: addr must be a listening "host:port".
// Postcondition: Returns a connected client or fails the test.
func NewLineClient(t testing.TB, addr string) *LineClient {
	t.Helper()
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v [%s]", addr, err, time.Since(start))
	}
	t.Cleanup(func() { conn.Close() })
	return WrapLineClient(t, conn)
}

// WrapLineClient speaks the line protocol over an existing connection.
func WrapLineClient(t testing.TB, conn net.Conn) *LineClient {
	return &LineClient{conn: conn, reader: bufio.NewReader(conn), t: t}
}

// SendJSON encodes v as one line.
func (c *LineClient) SendJSON(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		c.t.Fatalf("encoding %v: %v", v, err)
	}
	c.SendLine(string(data))
}

// SendLine writes text followed by CRLF.
func (c *LineClient) SendLine(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte(text + "\r\n")); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// ReadEvent reads and decodes the next event line, skipping telnet
// negotiation bytes.
func (c *LineClient) ReadEvent(timeout time.Duration) lobby.Event {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			c.t.Fatalf("reading event: got %q, error: %v", line, err)
		}
		line = strings.TrimSpace(string(telnet.FilterIAC([]byte(line))))
		if line == "" {
			continue
		}
		var ev lobby.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			c.t.Fatalf("decoding event %q: %v", line, err)
		}
		return ev
	}
}

// ReadUntil reads events until one with cmd arrives and returns it.
func (c *LineClient) ReadUntil(cmd string, timeout time.Duration) lobby.Event {
	c.t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		ev := c.ReadEvent(time.Until(deadline))
		if ev.Cmd == cmd {
			return ev
		}
	}
}

// Closed reports whether the server has closed the connection.
func (c *LineClient) Closed(timeout time.Duration) bool {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	for {
		if _, err := c.reader.ReadByte(); err != nil {
			var ne net.Error
			return !errors.As(err, &ne) || !ne.Timeout()
		}
	}
}

// Close closes the connection.
func (c *LineClient) Close() {
	c.conn.Close()
}
