package apps

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/lobber/internal/lobby"
)

// passwordCost is the bcrypt cost for lobby passwords. Tests lower it.
var passwordCost = bcrypt.DefaultCost

// ErrPasswordRequired refuses opening a password-protected lobby without one.
var ErrPasswordRequired = errors.New("password required")

const joinRequestHook = "join_request"

// Caller is the scripting surface a Room needs.
type Caller interface {
	Has(app, fn string) bool
	Call(app, fn string, args ...any) (any, error)
}

// Room is the admission policy built from a Definition: capacity, password
// and an optional scripted join_request hook, checked in that order.
type Room struct {
	def          *Definition
	scripts      Caller
	passwordHash []byte
	logger       *zap.Logger
}

func newRoom(def *Definition, scripts Caller, req lobby.OpenRequest, logger *zap.Logger) (*Room, error) {
	r := &Room{
		def:     def,
		scripts: scripts,
		logger:  logger.With(zap.String("lobby", req.ID)),
	}
	if def.PasswordProtected {
		if req.Password == "" {
			return nil, ErrPasswordRequired
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), passwordCost)
		if err != nil {
			return nil, fmt.Errorf("hashing lobby password: %w", err)
		}
		r.passwordHash = hash
	}
	return r, nil
}

// JoinRequest implements lobby.Behavior.
func (r *Room) JoinRequest(l *lobby.Lobby, c *lobby.Connection, req lobby.JoinRequest) lobby.Admission {
	if r.def.MaxMembers > 0 && l.Len() >= r.def.MaxMembers {
		r.refuse(l, c, "Lobby is full.")
		return lobby.AlreadyHandled
	}
	if r.passwordHash != nil {
		if err := bcrypt.CompareHashAndPassword(r.passwordHash, []byte(req.Password)); err != nil {
			r.refuse(l, c, "Incorrect password.")
			return lobby.AlreadyHandled
		}
	}
	if r.scripts == nil || !r.scripts.Has(r.def.Name, joinRequestHook) {
		return lobby.Accept
	}
	res, err := r.scripts.Call(r.def.Name, joinRequestHook, userTable(c, l), lobbyTable(l))
	if err != nil {
		return lobby.Deny
	}
	switch res {
	case true, "accept":
		return lobby.Accept
	case "handled":
		return lobby.AlreadyHandled
	default:
		r.logger.Debug("script denied join", zap.String("username", c.Username()), zap.Any("result", res))
		return lobby.Deny
	}
}

func (r *Room) refuse(l *lobby.Lobby, c *lobby.Connection, message string) {
	info := l.Info(false, c)
	c.Send(lobby.Event{Cmd: lobby.ErrorCmd(lobby.CmdLobbyJoin), Lobby: &info, Message: message})
}

func userTable(c *lobby.Connection, l *lobby.Lobby) map[string]any {
	info := c.Info(nil, l)
	return map[string]any{
		"id":       info.ID,
		"username": info.Username,
		"host":     info.Host,
	}
}

func lobbyTable(l *lobby.Lobby) map[string]any {
	return map[string]any{
		"application": l.Application(),
		"id":          l.ID(),
		"tag":         l.Tag(),
		"private":     l.Private(),
		"members":     l.Len(),
	}
}
