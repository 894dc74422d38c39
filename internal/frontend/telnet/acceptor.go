// Package telnet accepts line-oriented TCP clients. Each line a client sends
// is one protocol message; each line the server writes is one event.
package telnet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobber/internal/config"
)

// SessionHandler serves one connected client until it disconnects or ctx is
// cancelled.
type SessionHandler interface {
	HandleSession(ctx context.Context, conn *Conn) error
}

// Acceptor listens on a TCP port and hands each connection to a
// SessionHandler.
type Acceptor struct {
	cfg     config.TelnetConfig
	handler SessionHandler
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	active atomic.Int64
	wg     sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
	running  bool
}

// NewAcceptor creates an Acceptor.
//
// Precondition: handler and logger must be non-nil.
// Postcondition: Returns an Acceptor ready for ListenAndServe.
func NewAcceptor(cfg config.TelnetConfig, handler SessionHandler, logger *zap.Logger) *Acceptor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Acceptor{
		cfg:     cfg,
		handler: handler,
		logger:  logger.Named("telnet"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ListenAndServe accepts connections until Stop is called.
//
// Postcondition: Returns nil after Stop, or the listen error.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()
	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	a.mu.Lock()
	if a.ctx.Err() != nil {
		a.mu.Unlock()
		listener.Close()
		return nil
	}
	a.listener = listener
	a.running = true
	a.mu.Unlock()

	a.logger.Info("telnet acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_clients", a.cfg.MaxClients),
		zap.Duration("startup", time.Since(start)),
	)

	for {
		raw, err := listener.Accept()
		if err != nil {
			if a.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			a.logger.Error("accepting connection", zap.Error(err))
			continue
		}
		if limit := a.cfg.MaxClients; limit > 0 && a.active.Load() >= int64(limit) {
			a.logger.Warn("client rejected, server full",
				zap.String("remote_addr", raw.RemoteAddr().String()),
				zap.Int("max_clients", limit),
			)
			a.reject(raw)
			continue
		}
		a.active.Add(1)
		a.wg.Add(1)
		go a.serve(raw)
	}
}

func (a *Acceptor) reject(raw net.Conn) {
	conn := NewConn(raw, 0, time.Second)
	_ = conn.WriteLine(`{"cmd":"error","message":"Server full."}`)
	_ = conn.Close()
}

func (a *Acceptor) serve(raw net.Conn) {
	defer a.wg.Done()
	defer a.active.Add(-1)
	start := time.Now()
	addr := raw.RemoteAddr().String()
	a.logger.Info("client connected", zap.String("remote_addr", addr))

	conn := NewConn(raw, a.cfg.ReadTimeout, a.cfg.WriteTimeout)
	defer conn.Close()
	if err := conn.Negotiate(); err != nil {
		a.logger.Warn("telnet negotiation failed", zap.String("remote_addr", addr), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(a.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	err := a.handler.HandleSession(ctx, conn)
	a.logger.Info("client disconnected",
		zap.String("remote_addr", addr),
		zap.NamedError("cause", err),
		zap.Duration("duration", time.Since(start)),
	)
}

// Stop closes the listener, disconnects every client and waits for their
// sessions to finish.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	a.cancel()
	if a.listener != nil {
		a.listener.Close()
	}
	a.running = false
	a.mu.Unlock()

	a.wg.Wait()
	a.logger.Info("telnet acceptor stopped")
}

// Addr returns the bound address, or "" before the listener is up.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning reports whether the acceptor is accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// Active returns the number of connected clients.
func (a *Acceptor) Active() int {
	return int(a.active.Load())
}
