package lobby

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Admission is the outcome of a Behavior's join check.
type Admission int

const (
	// Accept admits the connection.
	Accept Admission = iota
	// Deny refuses the connection; the lobby sends the generic refusal.
	Deny
	// AlreadyHandled refuses the connection; the behavior has already
	// notified it.
	AlreadyHandled
)

// String returns the lowercase name of the admission.
func (a Admission) String() string {
	switch a {
	case Accept:
		return "accept"
	case Deny:
		return "deny"
	case AlreadyHandled:
		return "handled"
	default:
		return fmt.Sprintf("admission(%d)", int(a))
	}
}

// JoinRequest carries client-supplied join parameters.
type JoinRequest struct {
	Password string
}

// Behavior is the per-application admission policy of a lobby.
type Behavior interface {
	JoinRequest(l *Lobby, c *Connection, req JoinRequest) Admission
}

// DefaultBehavior accepts every join.
type DefaultBehavior struct{}

// JoinRequest implements Behavior.
func (DefaultBehavior) JoinRequest(*Lobby, *Connection, JoinRequest) Admission {
	return Accept
}

// Handler processes an application-specific command addressed to a lobby.
type Handler func(l *Lobby, c *Connection, cmd string, data json.RawMessage) error

// Client-facing failure texts.
const (
	msgJoinRefused    = "Join request refused."
	msgAlreadyMember  = "Already in lobby."
	msgMultipleJoin   = "Cannot join multiple lobbies of this type."
	msgNotMember      = "Not in lobby."
	msgCloseNotHost   = "Only hosts can close lobbies."
	msgKickNotHost    = "Only hosts may kick users."
	msgNoSuchUser     = "No such user."
	msgNoSuchLobby    = "No such lobby."
	msgUnknownCommand = "Unrecognised command."
	msgCommandFailed  = "Command failed."
)

// Lobby is one open room of an application.
//
// Invariant: while open, the host is a member and the roster is non-empty.
type Lobby struct {
	id          string
	application string
	tag         string
	private     bool
	polygamous  bool
	host        *Connection
	members     []*Connection
	closed      bool
	manager     *Manager
	behavior    Behavior
	handlers    map[string]Handler
	logger      *zap.Logger
}

// ID returns the lobby id.
func (l *Lobby) ID() string { return l.id }

// Application returns the owning application's name.
func (l *Lobby) Application() string { return l.application }

// Tag returns the display tag.
func (l *Lobby) Tag() string { return l.tag }

// Private reports whether the lobby is excluded from listings.
func (l *Lobby) Private() bool { return l.private }

// Host returns the host, or nil once the lobby has closed.
func (l *Lobby) Host() *Connection { return l.host }

// Closed reports whether the lobby has closed.
func (l *Lobby) Closed() bool { return l.closed }

// Len returns the number of members.
func (l *Lobby) Len() int { return len(l.members) }

// Members returns a copy of the roster in join order.
func (l *Lobby) Members() []*Connection {
	out := make([]*Connection, len(l.members))
	copy(out, l.members)
	return out
}

// Has reports whether c is a member.
func (l *Lobby) Has(c *Connection) bool {
	return l.indexOf(c) >= 0
}

func (l *Lobby) indexOf(c *Connection) int {
	for i, m := range l.members {
		if m == c {
			return i
		}
	}
	return -1
}

func (l *Lobby) removeAt(i int) {
	l.members = append(l.members[:i:i], l.members[i+1:]...)
}

// Info projects the lobby for inclusion in events.
func (l *Lobby) Info(includeMembers bool, viewer *Connection) LobbyInfo {
	info := LobbyInfo{Application: l.application, ID: l.id, Tag: l.tag}
	if includeMembers {
		info.Members = make([]UserInfo, 0, len(l.members))
		for _, m := range l.members {
			info.Members = append(info.Members, m.Info(viewer, l))
		}
	}
	return info
}

// Summary returns the listing row for the lobby.
func (l *Lobby) Summary() Summary {
	s := Summary{ID: l.id, Tag: l.tag, Members: len(l.members)}
	if l.host != nil {
		s.Host = l.host.Username()
	}
	return s
}

// Send stamps ev with the lobby info and delivers it to every member in
// join order.
func (l *Lobby) Send(ev Event) {
	if ev.Lobby == nil {
		info := l.Info(false, nil)
		ev.Lobby = &info
	}
	for _, m := range l.Members() {
		m.Send(ev)
	}
}

func (l *Lobby) reply(c *Connection, cmd, message string) {
	info := l.Info(false, c)
	c.Send(Event{Cmd: ErrorCmd(cmd), Lobby: &info, Message: message})
}

// Join admits c to the lobby.
//
// Postcondition: on success c is the last member, existing members have
// received lobby.user.join and c has received a lobby.join snapshot.
func (l *Lobby) Join(c *Connection, req JoinRequest) error {
	if l.closed {
		l.reply(c, CmdLobbyJoin, msgNoSuchLobby)
		return ErrNoSuchLobby
	}
	switch l.behavior.JoinRequest(l, c, req) {
	case Accept:
	case AlreadyHandled:
		return ErrJoinRefused
	default:
		l.reply(c, CmdLobbyJoin, msgJoinRefused)
		return ErrJoinRefused
	}
	if l.Has(c) {
		l.reply(c, CmdLobbyJoin, msgAlreadyMember)
		return ErrAlreadyMember
	}
	if err := c.join(l); err != nil {
		l.reply(c, CmdLobbyJoin, msgMultipleJoin)
		return err
	}
	user := c.Info(nil, l)
	l.Send(Event{Cmd: CmdLobbyUserJoin, User: &user})
	l.members = append(l.members, c)
	snapshot := l.Info(true, c)
	c.Send(Event{Cmd: CmdLobbyJoin, Lobby: &snapshot})
	l.logger.Debug("joined", zap.String("username", c.Username()))
	return nil
}

// Part removes c from the lobby. The lobby closes when it empties or when
// the host leaves.
func (l *Lobby) Part(c *Connection, reason string) error {
	i := l.indexOf(c)
	if i < 0 {
		l.reply(c, CmdLobbyPart, msgNotMember)
		return ErrNotMember
	}
	c.part(l)
	user := c.Info(nil, l)
	info := l.Info(false, c)
	c.Send(Event{Cmd: CmdLobbyPart, Lobby: &info, Reason: reason})
	l.removeAt(i)
	l.Send(Event{Cmd: CmdLobbyUserPart, User: &user, Reason: reason})
	l.logger.Debug("parted", zap.String("username", c.Username()), zap.String("reason", reason))
	if len(l.members) == 0 || c == l.host {
		l.shutdown(c)
	}
	return nil
}

// Kick removes the first member whose username matches user,
// case-insensitively. Only the host may kick.
func (l *Lobby) Kick(c *Connection, user, reason string) error {
	if c != l.host {
		l.reply(c, CmdLobbyKick, msgKickNotHost)
		return ErrNotHost
	}
	i := -1
	for j, m := range l.members {
		if m.matches(user) {
			i = j
			break
		}
	}
	if i < 0 {
		l.Send(Event{Cmd: ErrorCmd(CmdLobbyKick), Message: msgNoSuchUser})
		return fmt.Errorf("kicking %q: %w", user, ErrNoSuchUser)
	}
	target := l.members[i]
	target.part(l)
	from := c.Info(nil, l)
	victim := target.Info(nil, l)
	info := l.Info(false, target)
	target.Send(Event{Cmd: CmdLobbyKicked, Lobby: &info, From: &from, Reason: reason})
	l.removeAt(i)
	l.Send(Event{Cmd: CmdLobbyUserKicked, User: &victim, From: &from, Reason: reason})
	l.logger.Info("kicked", zap.String("username", target.Username()), zap.String("reason", reason))
	if len(l.members) == 0 || target == l.host {
		l.shutdown(target)
	}
	return nil
}

// Close closes the lobby on behalf of c. A nil c closes unconditionally.
// Closing a closed lobby is a no-op.
func (l *Lobby) Close(c *Connection) error {
	if l.closed {
		return nil
	}
	if c != nil && c != l.host && len(l.members) > 0 {
		l.reply(c, CmdLobbyClose, msgCloseNotHost)
		return ErrNotHost
	}
	l.shutdown(c)
	return nil
}

// shutdown closes the lobby. The close event names closer when it is set.
func (l *Lobby) shutdown(closer *Connection) {
	if l.closed {
		return
	}
	info := l.Info(false, nil)
	ev := Event{Cmd: CmdLobbyClose, Lobby: &info}
	if closer != nil {
		user := closer.Info(nil, l)
		ev.User = &user
	}
	members := l.members
	l.closed = true
	l.members = nil
	for _, m := range members {
		m.part(l)
		m.Send(ev)
	}
	l.host = nil
	l.manager.close(l)
	l.logger.Info("closed")
}

// Message broadcasts text from c to every member, c included.
func (l *Lobby) Message(c *Connection, text string) {
	user := c.Info(nil, l)
	l.Send(Event{Cmd: CmdLobbyMessage, User: &user, Message: text})
}

// Action broadcasts an emote from c to every member, c included.
func (l *Lobby) Action(c *Connection, text string) {
	user := c.Info(nil, l)
	l.Send(Event{Cmd: CmdLobbyAction, User: &user, Message: text})
}

// Dispatch runs the application's handler registered for cmd.
func (l *Lobby) Dispatch(c *Connection, cmd string, data json.RawMessage) error {
	h, ok := l.handlers[cmd]
	if !ok {
		l.reply(c, cmd, msgUnknownCommand)
		return fmt.Errorf("%s: %w", cmd, ErrUnknownCommand)
	}
	if err := h(l, c, cmd, data); err != nil {
		l.logger.Warn("handler failed", zap.String("cmd", cmd), zap.Error(err))
		l.reply(c, cmd, msgCommandFailed)
		return fmt.Errorf("%s: %w", cmd, err)
	}
	return nil
}
