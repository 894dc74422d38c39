package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/lobber/internal/lobby"
)

// lockedRecorder is a recorder safe to read from the test goroutine while
// the loop writes to it.
type lockedRecorder struct {
	mu     sync.Mutex
	events []lobby.Event
}

func (r *lockedRecorder) Send(ev lobby.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *lockedRecorder) cmds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Cmd)
	}
	return out
}

func startLoop(t *testing.T, h *harness) *Loop {
	t.Helper()
	lp := NewLoop(h.proto, 16, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = lp.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-lp.Done()
	})
	return lp
}

func TestLoop_DeliverRunsInOrder(t *testing.T) {
	h := newHarness(t)
	lp := startLoop(t, h)
	ctx := context.Background()

	rec := &lockedRecorder{}
	c := lobby.NewConnection(rec, h.sessions, zaptest.NewLogger(t))
	require.NoError(t, lp.Do(ctx, func() { h.sessions.conns = append(h.sessions.conns, c) }))

	require.NoError(t, lp.Deliver(ctx, c, Message{Cmd: "login", Username: "alice"}))
	require.NoError(t, lp.Deliver(ctx, c, Message{Cmd: "lobby.open", Application: "chat", ID: "room"}))
	require.NoError(t, lp.Deliver(ctx, c, Message{Cmd: "lobby.message", Application: "chat", ID: "room", Message: "hi"}))

	var members int
	require.NoError(t, lp.Do(ctx, func() {
		l, err := h.manager.Get("chat", "room")
		if err == nil {
			members = l.Len()
		}
	}))
	assert.Equal(t, 1, members)
	assert.Equal(t, []string{"login", "lobby.open", "lobby.new", "lobby.message"}, rec.cmds())
}

func TestLoop_Disconnect(t *testing.T) {
	h := newHarness(t)
	lp := startLoop(t, h)
	ctx := context.Background()

	c := lobby.NewConnection(&lockedRecorder{}, h.sessions, zaptest.NewLogger(t))
	require.NoError(t, lp.Do(ctx, func() { h.sessions.conns = append(h.sessions.conns, c) }))
	require.NoError(t, lp.Deliver(ctx, c, Message{Cmd: "login", Username: "alice"}))
	require.NoError(t, lp.Deliver(ctx, c, Message{Cmd: "lobby.open", Application: "chat", ID: "room"}))
	require.NoError(t, lp.Disconnect(ctx, c, "eof"))
	require.NoError(t, lp.Disconnect(ctx, c, "eof"))

	var open bool
	var remaining int
	require.NoError(t, lp.Do(ctx, func() {
		_, err := h.manager.Get("chat", "room")
		open = err == nil
		remaining = len(h.sessions.conns)
	}))
	assert.False(t, open)
	assert.Zero(t, remaining)
	assert.True(t, c.Closed())
}

func TestLoop_RecoversFromPanics(t *testing.T) {
	h := newHarness(t)
	lp := startLoop(t, h)
	ctx := context.Background()

	_ = lp.Do(ctx, func() { panic("boom") })
	ran := false
	require.NoError(t, lp.Do(ctx, func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_StoppedRejectsWork(t *testing.T) {
	h := newHarness(t)
	lp := NewLoop(h.proto, 1, zaptest.NewLogger(t))
	done := make(chan error, 1)
	go func() { done <- lp.Start() }()
	require.NoError(t, lp.Do(context.Background(), func() {}))

	lp.Stop()
	require.NoError(t, <-done)
	err := lp.Do(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrLoopStopped)
	c := lobby.NewConnection(&lockedRecorder{}, nil, zaptest.NewLogger(t))
	assert.ErrorIs(t, lp.Deliver(context.Background(), c, Message{Cmd: "login"}), ErrLoopStopped)
}

func TestLoop_SubmitHonoursContext(t *testing.T) {
	h := newHarness(t)
	lp := NewLoop(h.proto, 1, zaptest.NewLogger(t))
	require.NoError(t, lp.submit(context.Background(), func() {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := lp.submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
