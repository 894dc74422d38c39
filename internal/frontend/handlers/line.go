package handlers

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobber/internal/frontend/telnet"
	"github.com/cory-johannsen/lobber/internal/protocol"
)

// LineHandler serves telnet sessions: one JSON message per inbound line,
// one JSON event per outbound line.
type LineHandler struct {
	bridge *Bridge
	logger *zap.Logger
}

// NewLineHandler creates a LineHandler.
//
// Precondition: bridge and logger must be non-nil.
func NewLineHandler(bridge *Bridge, logger *zap.Logger) *LineHandler {
	return &LineHandler{bridge: bridge, logger: logger.Named("line")}
}

// HandleSession implements telnet.SessionHandler.
func (h *LineHandler) HandleSession(ctx context.Context, conn *telnet.Conn) error {
	link, err := h.bridge.Attach(ctx, conn.RemoteAddr().String())
	if err != nil {
		_ = conn.WriteLine(`{"cmd":"error","message":"Server unavailable."}`)
		return err
	}

	written := make(chan struct{})
	go func() {
		defer close(written)
		h.writeEvents(link, conn)
	}()

	reason, err := h.readMessages(ctx, link, conn)
	link.Detach(reason)
	<-written
	return err
}

func (h *LineHandler) readMessages(ctx context.Context, link *Link, conn *telnet.Conn) (string, error) {
	for {
		line, err := conn.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return "Connection closed.", nil
			}
			return "Connection lost.", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := link.Receive(ctx, []byte(line)); err != nil {
			return "Server shutting down.", err
		}
	}
}

// writeEvents drains the link until it closes, then closes conn so the
// reader unblocks. A quit ends the session this way.
func (h *LineHandler) writeEvents(link *Link, conn *telnet.Conn) {
	defer conn.Close()
	broken := false
	for ev := range link.Events() {
		if broken {
			continue
		}
		data, err := protocol.Encode(ev)
		if err != nil {
			h.logger.Error("encoding event", zap.String("cmd", ev.Cmd), zap.Error(err))
			continue
		}
		if err := conn.WriteLine(string(data)); err != nil {
			h.logger.Debug("writing event", zap.String("remote_addr", link.Remote()), zap.Error(err))
			broken = true
			_ = conn.Close()
		}
	}
}
