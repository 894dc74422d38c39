package lobby

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLobby_HostKickScenario(t *testing.T) {
	f := newFixture(t)
	h, hrec := f.connect("H")
	g, grec := f.connect("G")

	room := f.open(h, "chat", "room1")
	assert.Same(t, h, room.Host())
	assert.Equal(t, []*Connection{h}, room.Members())

	require.NoError(t, room.Join(g, JoinRequest{}))
	snapshot := grec.last()
	assert.Equal(t, CmdLobbyJoin, snapshot.Cmd)
	require.NotNil(t, snapshot.Lobby)
	assert.Equal(t, []string{"H", "G"}, usernames(snapshot.Lobby.Members))
	assert.True(t, snapshot.Lobby.Members[0].Host)
	assert.False(t, snapshot.Lobby.Members[1].Host)

	require.Equal(t, []string{CmdLobbyUserJoin}, hrec.cmds())
	assert.Equal(t, "G", hrec.last().User.Username)

	err := room.Kick(g, "H", "nope")
	assert.ErrorIs(t, err, ErrNotHost)
	assert.Equal(t, "lobby.kick.error", grec.last().Cmd)
	assert.Equal(t, []*Connection{h, g}, room.Members())

	hrec.reset()
	grec.reset()
	require.NoError(t, room.Kick(h, "g", "bye"))
	require.Equal(t, []string{CmdLobbyKicked}, grec.cmds())
	assert.Equal(t, "bye", grec.last().Reason)
	assert.Equal(t, "H", grec.last().From.Username)
	require.Equal(t, []string{CmdLobbyUserKicked}, hrec.cmds())
	assert.Equal(t, "G", hrec.last().User.Username)
	assert.False(t, room.Closed())
	assert.Equal(t, []*Connection{h}, room.Members())
	assert.Empty(t, g.Lobbies("chat"))

	require.NoError(t, room.Part(h, ""))
	assert.True(t, room.Closed())
	_, err = f.manager.Get("chat", "room1")
	assert.ErrorIs(t, err, ErrNoSuchLobby)
}

func TestLobby_JoinNotifiesExistingMembersOnly(t *testing.T) {
	f := newFixture(t)
	h, hrec := f.connect("H")
	g, grec := f.connect("G")
	room := f.open(h, "chat", "room1")

	require.NoError(t, room.Join(g, JoinRequest{}))
	for _, ev := range grec.events {
		assert.NotEqual(t, CmdLobbyUserJoin, ev.Cmd, "joiner must not see its own join broadcast")
	}
	assert.Len(t, hrec.events, 1)
}

func TestLobby_JoinTwiceRefused(t *testing.T) {
	f := newFixture(t, Application{Name: "chat", Polygamous: true})
	h, _ := f.connect("H")
	room := f.open(h, "chat", "room1")

	err := room.Join(h, JoinRequest{})
	assert.ErrorIs(t, err, ErrAlreadyMember)
	assert.Equal(t, 1, room.Len())
}

func TestLobby_NonPolygamousSecondJoinFails(t *testing.T) {
	f := newFixture(t, Application{Name: "game"})
	a, _ := f.connect("A")
	b, brec := f.connect("B")
	one := f.open(a, "game", "one")
	two := f.open(b, "game", "two")

	err := one.Join(b, JoinRequest{})
	assert.ErrorIs(t, err, ErrMultipleMembership)
	assert.Equal(t, "lobby.join.error", brec.last().Cmd)
	assert.Equal(t, []*Lobby{two}, b.Lobbies("game"))
	assert.Equal(t, []*Connection{a}, one.Members())
	assert.Equal(t, []*Connection{b}, two.Members())
}

func TestLobby_PolygamousAllowsMany(t *testing.T) {
	f := newFixture(t, Application{Name: "chat", Polygamous: true})
	a, _ := f.connect("A")
	b, _ := f.connect("B")
	one := f.open(a, "chat", "one")
	two := f.open(a, "chat", "two")

	require.NoError(t, one.Join(b, JoinRequest{}))
	require.NoError(t, two.Join(b, JoinRequest{}))
	assert.Equal(t, []*Lobby{one, two}, b.Lobbies("chat"))
}

type denyAll struct{ handled bool }

func (d denyAll) JoinRequest(_ *Lobby, c *Connection, _ JoinRequest) Admission {
	if d.handled {
		c.Send(Event{Cmd: "custom.denied"})
		return AlreadyHandled
	}
	return Deny
}

func TestLobby_AdmissionDeny(t *testing.T) {
	f := newFixture(t, Application{
		Name:    "vip",
		Factory: func(OpenRequest) (Behavior, error) { return denyAll{}, nil },
	})
	h, _ := f.connect("H")
	g, grec := f.connect("G")
	room := f.open(h, "vip", "room")

	err := room.Join(g, JoinRequest{})
	assert.ErrorIs(t, err, ErrJoinRefused)
	require.Equal(t, []string{"lobby.join.error"}, grec.cmds())
	assert.Equal(t, "Join request refused.", grec.last().Message)
	assert.Empty(t, g.Memberships().All())
}

func TestLobby_AdmissionAlreadyHandled(t *testing.T) {
	f := newFixture(t, Application{
		Name:    "vip",
		Factory: func(OpenRequest) (Behavior, error) { return denyAll{handled: true}, nil },
	})
	h, _ := f.connect("H")
	g, grec := f.connect("G")
	room := f.open(h, "vip", "room")

	err := room.Join(g, JoinRequest{})
	assert.ErrorIs(t, err, ErrJoinRefused)
	assert.Equal(t, []string{"custom.denied"}, grec.cmds())
}

func TestLobby_PartNonMember(t *testing.T) {
	f := newFixture(t)
	h, _ := f.connect("H")
	g, grec := f.connect("G")
	room := f.open(h, "chat", "room")

	err := room.Part(g, "")
	assert.ErrorIs(t, err, ErrNotMember)
	assert.Equal(t, "lobby.part.error", grec.last().Cmd)
	assert.Equal(t, 1, room.Len())
}

func TestLobby_PartNonHostKeepsLobbyOpen(t *testing.T) {
	f := newFixture(t)
	h, hrec := f.connect("H")
	g, grec := f.connect("G")
	room := f.open(h, "chat", "room")
	require.NoError(t, room.Join(g, JoinRequest{}))
	hrec.reset()

	require.NoError(t, room.Part(g, "later"))
	assert.Equal(t, CmdLobbyPart, grec.last().Cmd)
	assert.Equal(t, "later", grec.last().Reason)
	require.Equal(t, []string{CmdLobbyUserPart}, hrec.cmds())
	assert.False(t, room.Closed())

	err := room.Part(g, "")
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestLobby_HostPartClosesForEveryone(t *testing.T) {
	f := newFixture(t)
	h, _ := f.connect("H")
	g, grec := f.connect("G")
	room := f.open(h, "chat", "room")
	require.NoError(t, room.Join(g, JoinRequest{}))
	grec.reset()

	require.NoError(t, room.Part(h, ""))
	assert.True(t, room.Closed())
	assert.Empty(t, room.Members())
	assert.Nil(t, room.Host())
	assert.Equal(t, []string{CmdLobbyUserPart, CmdLobbyClose}, grec.cmds())
	assert.Empty(t, g.Lobbies("chat"))
	_, err := f.manager.Get("chat", "room")
	assert.ErrorIs(t, err, ErrNoSuchLobby)
}

func TestLobby_SelfKickCloses(t *testing.T) {
	f := newFixture(t)
	h, _ := f.connect("H")
	g, _ := f.connect("G")
	room := f.open(h, "chat", "room")
	require.NoError(t, room.Join(g, JoinRequest{}))

	require.NoError(t, room.Kick(h, "h", ""))
	assert.True(t, room.Closed())
	assert.Empty(t, g.Lobbies("chat"))
}

func TestLobby_KickNoSuchUserBroadcasts(t *testing.T) {
	f := newFixture(t)
	h, hrec := f.connect("H")
	g, grec := f.connect("G")
	room := f.open(h, "chat", "room")
	require.NoError(t, room.Join(g, JoinRequest{}))
	hrec.reset()
	grec.reset()

	err := room.Kick(h, "nobody", "")
	assert.ErrorIs(t, err, ErrNoSuchUser)
	assert.Equal(t, []string{"lobby.kick.error"}, hrec.cmds())
	assert.Equal(t, []string{"lobby.kick.error"}, grec.cmds())
	assert.Equal(t, 2, room.Len())
}

func TestLobby_CloseByNonHostRefused(t *testing.T) {
	f := newFixture(t)
	h, _ := f.connect("H")
	g, grec := f.connect("G")
	room := f.open(h, "chat", "room")
	require.NoError(t, room.Join(g, JoinRequest{}))

	err := room.Close(g)
	assert.ErrorIs(t, err, ErrNotHost)
	assert.Equal(t, "lobby.close.error", grec.last().Cmd)
	assert.Equal(t, "Only hosts can close lobbies.", grec.last().Message)
	assert.False(t, room.Closed())
}

func TestLobby_CloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	h, hrec := f.connect("H")
	g, grec := f.connect("G")
	room := f.open(h, "chat", "room")
	require.NoError(t, room.Join(g, JoinRequest{}))
	hrec.reset()
	grec.reset()

	require.NoError(t, room.Close(h))
	require.NoError(t, room.Close(h))
	require.NoError(t, room.Close(nil))
	assert.Equal(t, []string{CmdLobbyClose}, hrec.cmds())
	assert.Equal(t, []string{CmdLobbyClose}, grec.cmds())
	assert.Empty(t, room.Members())
	assert.Empty(t, h.Memberships().All())
	_, err := f.manager.Get("chat", "room")
	assert.ErrorIs(t, err, ErrNoSuchLobby)
}

func TestLobby_CloseEventNamesCloser(t *testing.T) {
	f := newFixture(t)
	h, _ := f.connect("H")
	g, grec := f.connect("G")

	room := f.open(h, "chat", "closed")
	require.NoError(t, room.Join(g, JoinRequest{}))
	require.NoError(t, room.Close(h))
	closed := grec.last()
	assert.Equal(t, CmdLobbyClose, closed.Cmd)
	require.NotNil(t, closed.User)
	assert.Equal(t, "H", closed.User.Username)
	assert.True(t, closed.User.Host)

	room = f.open(h, "chat", "parted")
	require.NoError(t, room.Join(g, JoinRequest{}))
	require.NoError(t, room.Part(h, "bye"))
	require.NotNil(t, grec.last().User)
	assert.Equal(t, "H", grec.last().User.Username)

	room = f.open(h, "chat", "kicked")
	require.NoError(t, room.Join(g, JoinRequest{}))
	require.NoError(t, room.Kick(h, "H", ""))
	require.NotNil(t, grec.last().User)
	assert.Equal(t, "H", grec.last().User.Username)

	room = f.open(h, "chat", "server")
	require.NoError(t, room.Join(g, JoinRequest{}))
	require.NoError(t, room.Close(nil))
	assert.Equal(t, CmdLobbyClose, grec.last().Cmd)
	assert.Nil(t, grec.last().User)
}

func TestLobby_JoinClosedLobby(t *testing.T) {
	f := newFixture(t)
	h, _ := f.connect("H")
	g, grec := f.connect("G")
	room := f.open(h, "chat", "room")
	require.NoError(t, room.Close(h))

	err := room.Join(g, JoinRequest{})
	assert.ErrorIs(t, err, ErrNoSuchLobby)
	assert.Equal(t, "lobby.join.error", grec.last().Cmd)
}

func TestLobby_MessageReachesEveryMemberInOrder(t *testing.T) {
	f := newFixture(t)
	var order []string
	a, _ := f.connect("A")
	room := f.open(a, "chat", "room")
	for _, name := range []string{"B", "C"} {
		c, _ := f.connect(name)
		require.NoError(t, room.Join(c, JoinRequest{}))
	}
	for _, m := range room.Members() {
		m.sender = &orderSender{name: m.Username(), order: &order}
	}

	room.Message(a, "hello")
	assert.Equal(t, []string{"A", "B", "C"}, order)
}

type orderSender struct {
	name  string
	order *[]string
}

func (o *orderSender) Send(ev Event) error {
	if ev.Cmd == CmdLobbyMessage {
		*o.order = append(*o.order, o.name)
	}
	return nil
}

func TestLobby_MessageCarriesSenderAndLobby(t *testing.T) {
	f := newFixture(t)
	h, hrec := f.connect("H")
	room := f.open(h, "chat", "room")

	room.Action(h, "waves")
	ev := hrec.last()
	assert.Equal(t, CmdLobbyAction, ev.Cmd)
	assert.Equal(t, "waves", ev.Message)
	assert.Equal(t, "H", ev.User.Username)
	assert.True(t, ev.User.Host)
	assert.Equal(t, "room", ev.Lobby.ID)
	assert.Equal(t, "chat", ev.Lobby.Application)
}

func TestLobby_BroadcastSurvivesFailingMember(t *testing.T) {
	f := newFixture(t)
	h, hrec := f.connect("H")
	g, grec := f.connect("G")
	k, krec := f.connect("K")
	room := f.open(h, "chat", "room")
	require.NoError(t, room.Join(g, JoinRequest{}))
	require.NoError(t, room.Join(k, JoinRequest{}))
	hrec.reset()
	krec.reset()
	grec.fail = true

	room.Message(h, "hi")
	assert.Equal(t, []string{CmdLobbyMessage}, hrec.cmds())
	assert.Equal(t, []string{CmdLobbyMessage}, krec.cmds())
}

func TestLobby_DispatchHandlers(t *testing.T) {
	var got []string
	f := newFixture(t, Application{
		Name: "game",
		Handlers: map[string]Handler{
			"game.move": func(l *Lobby, c *Connection, cmd string, data json.RawMessage) error {
				got = append(got, c.Username()+":"+string(data))
				return nil
			},
			"game.boom": func(*Lobby, *Connection, string, json.RawMessage) error {
				return errors.New("boom")
			},
		},
	})
	h, hrec := f.connect("H")
	room := f.open(h, "game", "g1")

	require.NoError(t, room.Dispatch(h, "game.move", json.RawMessage(`{"x":1}`)))
	assert.Equal(t, []string{`H:{"x":1}`}, got)

	err := room.Dispatch(h, "game.jump", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.Equal(t, "game.jump.error", hrec.last().Cmd)
	assert.Equal(t, "Unrecognised command.", hrec.last().Message)

	err = room.Dispatch(h, "game.boom", nil)
	assert.Error(t, err)
	assert.Equal(t, "game.boom.error", hrec.last().Cmd)
	assert.Equal(t, "Command failed.", hrec.last().Message)
}

func TestAdmission_String(t *testing.T) {
	assert.Equal(t, "accept", Accept.String())
	assert.Equal(t, "deny", Deny.String())
	assert.Equal(t, "handled", AlreadyHandled.String())
	assert.Equal(t, "admission(9)", Admission(9).String())
}
