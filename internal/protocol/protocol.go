// Package protocol gates and routes inbound client commands to the lobby
// layer.
package protocol

import (
	"errors"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobber/internal/lobby"
)

// Sessions is the set of connected sessions on the server.
type Sessions interface {
	UsernameLookup
	Broadcast(ev lobby.Event)
}

type handlerFunc func(c *lobby.Connection, msg Message, target *lobby.Lobby)

// Protocol dispatches messages for every connection. It holds no
// per-connection state.
//
// A Protocol is not safe for concurrent use; run it behind a Loop.
type Protocol struct {
	manager  *lobby.Manager
	sessions Sessions
	auth     Authenticator
	logger   *zap.Logger
	handlers map[string]handlerFunc
}

// New creates a Protocol.
//
// Precondition: manager, sessions and logger must be non-nil. A nil auth
// defaults to GuestAuthenticator over sessions.
func New(manager *lobby.Manager, sessions Sessions, auth Authenticator, logger *zap.Logger) *Protocol {
	if auth == nil {
		auth = GuestAuthenticator{Sessions: sessions}
	}
	p := &Protocol{
		manager:  manager,
		sessions: sessions,
		auth:     auth,
		logger:   logger.Named("protocol"),
	}
	p.handlers = map[string]handlerFunc{
		lobby.CmdApplicationList: p.applicationList,
		lobby.CmdLobbyList:       p.lobbyList,
		lobby.CmdLobbyOpen:       p.lobbyOpen,
		lobby.CmdLobbyClose:      withLobby(p.lobbyClose),
		lobby.CmdLobbyJoin:       withLobby(p.lobbyJoin),
		lobby.CmdLobbyPart:       withLobby(p.lobbyPart),
		lobby.CmdLobbyKick:       withLobby(p.lobbyKick),
		lobby.CmdLobbyMessage:    withLobby(withMembership(p.lobbyMessage)),
		lobby.CmdLobbyAction:     withLobby(withMembership(p.lobbyAction)),
	}
	return p
}

// Handle processes one message from c to completion.
func (p *Protocol) Handle(c *lobby.Connection, msg Message) {
	if c.Closed() {
		return
	}
	var target *lobby.Lobby
	if msg.targeted() {
		if l, err := p.manager.Get(msg.Application, msg.ID); err == nil {
			target = l
		}
	}
	p.logger.Debug("message",
		zap.String("connection", c.ID()),
		zap.String("cmd", msg.Cmd),
		zap.Bool("targeted", target != nil),
	)

	switch msg.Cmd {
	case "":
		c.Send(lobby.Event{Cmd: lobby.CmdError, Message: "Missing command."})
		return
	case lobby.CmdLogin:
		p.login(c, msg)
		return
	case CmdQuit:
		c.Quit(msg.Reason)
		return
	}

	if !c.LoggedIn() {
		c.Send(lobby.Event{Cmd: lobby.ErrorCmd(msg.Cmd), Message: "Login required."})
		return
	}
	if h, ok := p.handlers[msg.Cmd]; ok {
		h(c, msg, target)
		return
	}
	if target != nil {
		withMembership(p.forward)(c, msg, target)
		return
	}
	c.Send(lobby.Event{Cmd: lobby.CmdError, Message: "Unrecognised command."})
}

func withLobby(next handlerFunc) handlerFunc {
	return func(c *lobby.Connection, msg Message, target *lobby.Lobby) {
		if target == nil {
			c.Send(lobby.Event{
				Cmd:     lobby.ErrorCmd(msg.Cmd),
				Lobby:   &lobby.LobbyInfo{Application: msg.Application, ID: msg.ID},
				Message: "No such lobby.",
			})
			return
		}
		next(c, msg, target)
	}
}

func withMembership(next handlerFunc) handlerFunc {
	return func(c *lobby.Connection, msg Message, target *lobby.Lobby) {
		if !target.Has(c) {
			info := target.Info(false, c)
			c.Send(lobby.Event{Cmd: lobby.ErrorCmd(msg.Cmd), Lobby: &info, Message: "Not in lobby."})
			return
		}
		next(c, msg, target)
	}
}

func (p *Protocol) login(c *lobby.Connection, msg Message) {
	if c.LoggedIn() {
		c.Send(lobby.Event{Cmd: lobby.ErrorCmd(lobby.CmdLogin), Message: describe(ErrAlreadyLoggedIn)})
		return
	}
	name, err := p.auth.Authenticate(c, msg)
	if err != nil {
		p.logger.Debug("login refused", zap.String("connection", c.ID()), zap.Error(err))
		c.Send(lobby.Event{Cmd: lobby.ErrorCmd(lobby.CmdLogin), Message: describe(err)})
		return
	}
	c.Login(name)
	p.logger.Info("logged in", zap.String("connection", c.ID()), zap.String("username", name))
	c.Send(lobby.Event{Cmd: lobby.CmdLogin, User: &lobby.UserInfo{ID: c.ID(), Username: name}})
}

func (p *Protocol) applicationList(c *lobby.Connection, _ Message, _ *lobby.Lobby) {
	c.Send(lobby.Event{Cmd: lobby.CmdApplicationList, Applications: p.manager.Applications()})
}

func (p *Protocol) lobbyList(c *lobby.Connection, msg Message, _ *lobby.Lobby) {
	list, err := p.manager.List(msg.Application)
	if err != nil {
		c.Send(lobby.Event{
			Cmd:         lobby.ErrorCmd(lobby.CmdLobbyList),
			Application: msg.Application,
			Message:     describe(err),
		})
		return
	}
	c.Send(lobby.Event{Cmd: lobby.CmdLobbyList, Application: msg.Application, List: list})
}

func (p *Protocol) lobbyOpen(c *lobby.Connection, msg Message, _ *lobby.Lobby) {
	l, err := p.manager.CreateLobby(c, lobby.OpenRequest{
		Application: msg.Application,
		ID:          msg.ID,
		Tag:         msg.Tag,
		Private:     msg.Private,
		Password:    msg.Password,
	})
	if err != nil {
		p.logger.Debug("open refused",
			zap.String("application", msg.Application),
			zap.String("lobby", msg.ID),
			zap.Error(err),
		)
		c.Send(lobby.Event{
			Cmd:     lobby.ErrorCmd(lobby.CmdLobbyOpen),
			Lobby:   &lobby.LobbyInfo{Application: msg.Application, ID: msg.ID, Tag: msg.Tag},
			Message: describe(err),
		})
		return
	}
	snapshot := l.Info(true, c)
	c.Send(lobby.Event{Cmd: lobby.CmdLobbyOpen, Lobby: &snapshot})

	info := l.Info(false, nil)
	host := c.Info(nil, l)
	announce := lobby.Event{Cmd: lobby.CmdLobbyNew, Lobby: &info, User: &host}
	if l.Private() {
		c.Send(announce)
		return
	}
	p.sessions.Broadcast(announce)
}

func (p *Protocol) lobbyClose(c *lobby.Connection, _ Message, target *lobby.Lobby) {
	_ = target.Close(c)
}

func (p *Protocol) lobbyJoin(c *lobby.Connection, msg Message, target *lobby.Lobby) {
	_ = target.Join(c, lobby.JoinRequest{Password: msg.Password})
}

func (p *Protocol) lobbyPart(c *lobby.Connection, msg Message, target *lobby.Lobby) {
	_ = target.Part(c, msg.Reason)
}

func (p *Protocol) lobbyKick(c *lobby.Connection, msg Message, target *lobby.Lobby) {
	_ = target.Kick(c, msg.User, msg.Reason)
}

func (p *Protocol) lobbyMessage(c *lobby.Connection, msg Message, target *lobby.Lobby) {
	target.Message(c, msg.Message)
}

func (p *Protocol) lobbyAction(c *lobby.Connection, msg Message, target *lobby.Lobby) {
	target.Action(c, msg.Message)
}

func (p *Protocol) forward(c *lobby.Connection, msg Message, target *lobby.Lobby) {
	if err := target.Dispatch(c, msg.Cmd, msg.Data); err != nil {
		p.logger.Debug("forwarded command failed",
			zap.String("cmd", msg.Cmd),
			zap.String("lobby", target.ID()),
			zap.Error(err),
		)
	}
}

// describe maps an expected failure to the text shown to the client.
func describe(err error) string {
	switch {
	case errors.Is(err, lobby.ErrUnknownApplication):
		return "No such application on the server."
	case errors.Is(err, lobby.ErrLobbyExists):
		return "Lobby already exists."
	case errors.Is(err, lobby.ErrInvalidLobbyID):
		return "Missing lobby id."
	case errors.Is(err, lobby.ErrMultipleMembership):
		return "Cannot join multiple lobbies of this type."
	case errors.Is(err, lobby.ErrOpenRefused):
		return "Open request refused."
	case errors.Is(err, ErrAlreadyLoggedIn):
		return "Already logged in."
	case errors.Is(err, ErrInvalidUsername):
		return "Invalid username."
	case errors.Is(err, ErrUsernameTaken):
		return "Username already in use."
	default:
		return "Command failed."
	}
}
