package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/lobber/internal/lobby"
)

func TestOutbox_Send(t *testing.T) {
	o := NewOutbox("test", 4)
	require.NoError(t, o.Send(lobby.Event{Cmd: "hello"}))

	ev := <-o.Events()
	assert.Equal(t, "hello", ev.Cmd)
}

func TestOutbox_SendClosed(t *testing.T) {
	o := NewOutbox("test", 4)
	require.NoError(t, o.Close())
	assert.True(t, o.IsClosed())
	assert.ErrorIs(t, o.Send(lobby.Event{Cmd: "fail"}), ErrOutboxClosed)
}

func TestOutbox_SendFull(t *testing.T) {
	o := NewOutbox("test", 1)
	require.NoError(t, o.Send(lobby.Event{Cmd: "first"}))
	err := o.Send(lobby.Event{Cmd: "overflow"})
	assert.ErrorIs(t, err, ErrOutboxFull)
	assert.Contains(t, err.Error(), "test")
}

func TestOutbox_CloseIdempotent(t *testing.T) {
	o := NewOutbox("test", 4)
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	_, ok := <-o.Events()
	assert.False(t, ok)
}

func TestOutbox_DefaultSize(t *testing.T) {
	o := NewOutbox("test", 0)
	assert.Equal(t, 64, cap(o.events))
}

func TestOutbox_ConcurrentSendAndClose(t *testing.T) {
	o := NewOutbox("test", 128)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 16; j++ {
				_ = o.Send(lobby.Event{Cmd: "x"})
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.Close()
	}()
	wg.Wait()
	assert.True(t, o.IsClosed())
}

func newConn(t *testing.T, r *Registry, name string) (*lobby.Connection, *Outbox) {
	t.Helper()
	out := NewOutbox(name, 8)
	c := lobby.NewConnection(out, r, zaptest.NewLogger(t))
	if name != "" {
		c.Login(name)
	}
	require.NoError(t, r.Add(c))
	return c, out
}

func TestRegistry_AddRemove(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	c, _ := newConn(t, r, "alice")
	assert.Equal(t, 1, r.Count())
	assert.Error(t, r.Add(c))

	got, ok := r.Get(c.ID())
	require.True(t, ok)
	assert.Same(t, c, got)

	r.Remove(c)
	r.Remove(c)
	assert.Equal(t, 0, r.Count())
	_, ok = r.Get(c.ID())
	assert.False(t, ok)
}

func TestRegistry_QuitRemovesAndClosesOutbox(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	c, out := newConn(t, r, "alice")
	c.Quit("bye")
	assert.Equal(t, 0, r.Count())
	assert.True(t, out.IsClosed())
}

func TestRegistry_BroadcastReachesAnonymousSessions(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	_, a := newConn(t, r, "alice")
	_, anon := newConn(t, r, "")

	r.Broadcast(lobby.Event{Cmd: "lobby.new"})
	assert.Equal(t, "lobby.new", (<-a.Events()).Cmd)
	assert.Equal(t, "lobby.new", (<-anon.Events()).Cmd)
}

func TestRegistry_LookupUsername(t *testing.T) {
	r := NewRegistry(zaptest.NewLogger(t))
	c, _ := newConn(t, r, "Alice")
	newConn(t, r, "")

	assert.Same(t, c, r.LookupUsername("alice"))
	assert.Nil(t, r.LookupUsername("bob"))
	assert.Nil(t, r.LookupUsername(""))
}

func TestRegistry_AllKeepsAttachOrder(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		r := NewRegistry(zaptest.NewLogger(t))
		n := rapid.IntRange(1, 10).Draw(rt, "n")
		var conns []*lobby.Connection
		for i := 0; i < n; i++ {
			c := lobby.NewConnection(NewOutbox(fmt.Sprint(i), 1), r, zaptest.NewLogger(t))
			require.NoError(rt, r.Add(c))
			conns = append(conns, c)
		}
		drop := rapid.IntRange(0, n-1).Draw(rt, "drop")
		r.Remove(conns[drop])
		want := append(append([]*lobby.Connection{}, conns[:drop]...), conns[drop+1:]...)
		require.Equal(rt, want, r.All())
	})
}
