// Package handlers binds transport sessions to lobby connections. Every
// transport attaches through a Bridge and then only moves bytes.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobber/internal/lobby"
	"github.com/cory-johannsen/lobber/internal/protocol"
	"github.com/cory-johannsen/lobber/internal/session"
)

// defaultDetachTimeout is how long a closing transport waits for the dispatch
// loop before it logs and keeps waiting without a deadline.
const defaultDetachTimeout = 5 * time.Second

// Bridge attaches transport sessions to the dispatch loop.
type Bridge struct {
	registry   *session.Registry
	loop       *protocol.Loop
	manager    *lobby.Manager
	outboxSize int
	logger     *zap.Logger

	detachTimeout time.Duration
}

// NewBridge creates a Bridge.
//
// Precondition: registry, loop, manager and logger must be non-nil.
func NewBridge(registry *session.Registry, loop *protocol.Loop, manager *lobby.Manager, outboxSize int, logger *zap.Logger) *Bridge {
	return &Bridge{
		registry:      registry,
		loop:          loop,
		manager:       manager,
		outboxSize:    outboxSize,
		logger:        logger.Named("bridge"),
		detachTimeout: defaultDetachTimeout,
	}
}

// Link is one attached transport session.
type Link struct {
	bridge *Bridge
	conn   *lobby.Connection
	outbox *session.Outbox
	remote string
	once   sync.Once
	logger *zap.Logger
}

// Attach creates a Connection for a new transport session and registers it.
//
// Postcondition: On success the Link is registered and its Events channel
// is open until Detach or quit.
func (b *Bridge) Attach(ctx context.Context, remote string) (*Link, error) {
	outbox := session.NewOutbox(remote, b.outboxSize)
	conn := lobby.NewConnection(outbox, b.registry, b.logger.With(zap.String("remote_addr", remote)))
	var addErr error
	if err := b.loop.Do(ctx, func() { addErr = b.registry.Add(conn) }); err != nil {
		return nil, fmt.Errorf("attaching %s: %w", remote, err)
	}
	if addErr != nil {
		return nil, fmt.Errorf("attaching %s: %w", remote, addErr)
	}
	b.logger.Debug("attached", zap.String("remote_addr", remote), zap.String("connection", conn.ID()))
	return &Link{
		bridge: b,
		conn:   conn,
		outbox: outbox,
		remote: remote,
		logger: b.logger.With(zap.String("connection", conn.ID())),
	}, nil
}

// Applications returns the registered application names.
func (b *Bridge) Applications(ctx context.Context) ([]string, error) {
	var names []string
	err := b.loop.Do(ctx, func() { names = b.manager.Applications() })
	return names, err
}

// Lobbies returns the public lobbies of application.
func (b *Bridge) Lobbies(ctx context.Context, application string) ([]lobby.Summary, error) {
	var (
		list    []lobby.Summary
		listErr error
	)
	if err := b.loop.Do(ctx, func() { list, listErr = b.manager.List(application) }); err != nil {
		return nil, err
	}
	return list, listErr
}

// Sessions returns the number of attached connections.
func (b *Bridge) Sessions() int {
	return b.registry.Count()
}

// Connection returns the lobby connection behind the link.
func (l *Link) Connection() *lobby.Connection { return l.conn }

// Remote returns the transport address the link was attached with.
func (l *Link) Remote() string { return l.remote }

// Events returns the outbound event stream. It closes when the connection
// quits.
func (l *Link) Events() <-chan lobby.Event { return l.outbox.Events() }

// Deliver queues a decoded message.
func (l *Link) Deliver(ctx context.Context, msg protocol.Message) error {
	return l.bridge.loop.Deliver(ctx, l.conn, msg)
}

// Receive decodes raw and queues it. A malformed message is answered with
// an error event rather than ending the session.
//
// Postcondition: Returns an error only when the loop can no longer accept
// work.
func (l *Link) Receive(ctx context.Context, raw []byte) error {
	msg, err := protocol.Decode(raw)
	if err != nil {
		l.logger.Debug("malformed message", zap.Error(err))
		return l.bridge.loop.Do(ctx, func() {
			l.conn.Send(lobby.Event{Cmd: lobby.CmdError, Message: "Malformed message."})
		})
	}
	return l.Deliver(ctx, msg)
}

// Detach quits the connection with reason. Calls after the first are
// no-ops.
//
// A busy loop delays Detach rather than skipping the quit, so the connection
// never stays in a lobby after its transport is gone.
//
// Postcondition: The connection has left every lobby, is deregistered and
// its Events channel is closed.
func (l *Link) Detach(reason string) {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.bridge.detachTimeout)
		err := l.bridge.loop.Disconnect(ctx, l.conn, reason)
		cancel()
		if err != nil && !errors.Is(err, protocol.ErrLoopStopped) {
			l.logger.Warn("dispatch loop slow to disconnect", zap.Error(err))
			err = l.bridge.loop.Disconnect(context.Background(), l.conn, reason)
		}
		if err == nil {
			return
		}
		// The loop is gone; nothing can part lobbies any more.
		l.bridge.registry.Remove(l.conn)
		_ = l.outbox.Close()
	})
}
