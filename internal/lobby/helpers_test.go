package lobby

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recorder captures every event sent to a connection.
type recorder struct {
	events []Event
	fail   bool
	closed bool
}

func (r *recorder) Send(ev Event) error {
	if r.fail {
		return errors.New("peer gone")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) Close() error {
	r.closed = true
	return nil
}

func (r *recorder) cmds() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Cmd)
	}
	return out
}

func (r *recorder) last() Event {
	if len(r.events) == 0 {
		return Event{}
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) reset() { r.events = nil }

// directory records removals.
type directory struct {
	removed []*Connection
}

func (d *directory) Remove(c *Connection) { d.removed = append(d.removed, c) }

type fixture struct {
	t       *testing.T
	manager *Manager
	dir     *directory
}

func newFixture(t *testing.T, apps ...Application) *fixture {
	t.Helper()
	m := NewManager(zaptest.NewLogger(t))
	if len(apps) == 0 {
		apps = []Application{{Name: "chat"}}
	}
	for _, app := range apps {
		require.NoError(t, m.RegisterApplication(app))
	}
	return &fixture{t: t, manager: m, dir: &directory{}}
}

func (f *fixture) connect(name string) (*Connection, *recorder) {
	rec := &recorder{}
	c := NewConnection(rec, f.dir, zaptest.NewLogger(f.t))
	c.Login(name)
	return c, rec
}

func (f *fixture) open(c *Connection, app, id string) *Lobby {
	f.t.Helper()
	l, err := f.manager.CreateLobby(c, OpenRequest{Application: app, ID: id})
	require.NoError(f.t, err)
	return l
}

func usernames(infos []UserInfo) []string {
	out := make([]string, 0, len(infos))
	for _, u := range infos {
		out = append(out, u.Username)
	}
	return out
}
