package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cory-johannsen/lobber/internal/lobby"
)

// Outbox failures.
var (
	ErrOutboxClosed = errors.New("outbox closed")
	ErrOutboxFull   = errors.New("outbox full")
)

// Outbox routes events for one connection to a buffered channel drained by
// the transport's writer goroutine. It implements lobby.Sender and io.Closer.
type Outbox struct {
	id     string
	events chan lobby.Event
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox labelled id.
//
// Postcondition: A non-positive size defaults to 64.
func NewOutbox(id string, size int) *Outbox {
	if size <= 0 {
		size = 64
	}
	return &Outbox{
		id:     id,
		events: make(chan lobby.Event, size),
	}
}

// Send enqueues ev without blocking.
//
// Postcondition: Returns ErrOutboxClosed after Close and ErrOutboxFull when the
// writer has fallen behind by the full buffer.
func (o *Outbox) Send(ev lobby.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbox %s: %w", o.id, ErrOutboxClosed)
	}
	select {
	case o.events <- ev:
		return nil
	default:
		return fmt.Errorf("outbox %s: %w", o.id, ErrOutboxFull)
	}
}

// Events returns the channel the writer drains. It is closed by Close.
func (o *Outbox) Events() <-chan lobby.Event {
	return o.events
}

// Close closes the events channel. It is idempotent.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.events)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
