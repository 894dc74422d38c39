package protocol

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobber/internal/lobby"
)

// ErrLoopStopped is returned when work is submitted to a Loop that is no
// longer running.
var ErrLoopStopped = errors.New("dispatch loop stopped")

// Loop is the single dispatch worker. Every message, disconnect and state
// query runs on its goroutine, one at a time and to completion.
type Loop struct {
	protocol *Protocol
	inbox    chan func()
	done     chan struct{}
	ctx      context.Context
	stop     context.CancelFunc
	started  atomic.Bool
	logger   *zap.Logger
}

// NewLoop creates a Loop with an inbox of size pending jobs.
//
// Precondition: p and logger must be non-nil; size must be positive.
func NewLoop(p *Protocol, size int, logger *zap.Logger) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		protocol: p,
		inbox:    make(chan func(), size),
		done:     make(chan struct{}),
		ctx:      ctx,
		stop:     cancel,
		logger:   logger.Named("loop"),
	}
}

// Run processes jobs until ctx is cancelled. It must be called at most once.
//
// Postcondition: Returns nil after ctx is cancelled; pending jobs are dropped.
func (lp *Loop) Run(ctx context.Context) error {
	defer close(lp.done)
	lp.logger.Info("dispatch loop running", zap.Int("inbox", cap(lp.inbox)))
	for {
		select {
		case <-ctx.Done():
			lp.logger.Info("dispatch loop stopped", zap.Int("dropped", len(lp.inbox)))
			return nil
		case job := <-lp.inbox:
			lp.exec(job)
		}
	}
}

// Start runs the loop until Stop is called.
func (lp *Loop) Start() error {
	lp.started.Store(true)
	return lp.Run(lp.ctx)
}

// Stop ends a loop started with Start and waits for it to exit.
func (lp *Loop) Stop() {
	lp.stop()
	if lp.started.Load() {
		<-lp.done
	}
}

// Done is closed when Run returns.
func (lp *Loop) Done() <-chan struct{} { return lp.done }

func (lp *Loop) exec(job func()) {
	defer func() {
		if r := recover(); r != nil {
			lp.logger.Error("dispatch panic", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	job()
}

func (lp *Loop) submit(ctx context.Context, job func()) error {
	select {
	case <-lp.done:
		return ErrLoopStopped
	default:
	}
	select {
	case lp.inbox <- job:
		return nil
	case <-lp.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return fmt.Errorf("submitting job: %w", ctx.Err())
	}
}

// Deliver queues msg from c for dispatch.
func (lp *Loop) Deliver(ctx context.Context, c *lobby.Connection, msg Message) error {
	return lp.submit(ctx, func() { lp.protocol.Handle(c, msg) })
}

// Disconnect tears c down on the loop and waits for it. Quit is idempotent,
// so a disconnect after an explicit quit is harmless.
func (lp *Loop) Disconnect(ctx context.Context, c *lobby.Connection, reason string) error {
	return lp.Do(ctx, func() { c.Quit(reason) })
}

// Do runs fn on the loop and waits for it to finish.
func (lp *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	err := lp.submit(ctx, func() {
		defer close(finished)
		fn()
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-lp.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrLoopStopped
		}
	case <-ctx.Done():
		return fmt.Errorf("waiting for job: %w", ctx.Err())
	}
}
