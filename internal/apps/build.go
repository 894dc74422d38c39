package apps

import (
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobber/internal/lobby"
)

// Loader is the scripting surface Build needs to prepare an application.
type Loader interface {
	Caller
	Load(app, path string, limit int) error
}

// Build turns def into a registrable application, loading its script into
// scripts when it has one.
//
// Precondition: def must be valid; scripts may be nil only when def has no
// script.
// Postcondition: Returns an error if the script fails to load or lacks a
// function named in Commands.
func Build(def *Definition, scripts Loader, logger *zap.Logger) (lobby.Application, error) {
	logger = logger.Named("apps").With(zap.String("application", def.Name))
	var caller Caller
	if def.Script != "" {
		if scripts == nil {
			return lobby.Application{}, fmt.Errorf("application %q: script configured without a script manager", def.Name)
		}
		if err := scripts.Load(def.Name, def.Script, def.ScriptInstructionLimit); err != nil {
			return lobby.Application{}, fmt.Errorf("application %q: %w", def.Name, err)
		}
		caller = scripts
	}

	handlers := make(map[string]lobby.Handler, len(def.Commands))
	cmds := make([]string, 0, len(def.Commands))
	for cmd := range def.Commands {
		cmds = append(cmds, cmd)
	}
	sort.Strings(cmds)
	for _, cmd := range cmds {
		fn := def.Commands[cmd]
		if !caller.Has(def.Name, fn) {
			return lobby.Application{}, fmt.Errorf("application %q: command %q: function %q not defined", def.Name, cmd, fn)
		}
		handlers[cmd] = scriptHandler(def.Name, fn, caller)
	}

	return lobby.Application{
		Name:       def.Name,
		Polygamous: def.Polygamous,
		Factory: func(req lobby.OpenRequest) (lobby.Behavior, error) {
			room, err := newRoom(def, caller, req, logger)
			if err != nil {
				return nil, err
			}
			return room, nil
		},
		Handlers: handlers,
	}, nil
}

// scriptHandler broadcasts the script function's result to the lobby under
// the command's own name. A nil result broadcasts nothing.
func scriptHandler(app, fn string, scripts Caller) lobby.Handler {
	return func(l *lobby.Lobby, c *lobby.Connection, cmd string, data json.RawMessage) error {
		res, err := scripts.Call(app, fn, userTable(c, l), lobbyTable(l), data)
		if err != nil {
			return err
		}
		if res == nil {
			return nil
		}
		user := c.Info(nil, l)
		l.Send(lobby.Event{Cmd: cmd, User: &user, Data: res})
		return nil
	}
}

// Register builds every definition and registers it with m.
func Register(m *lobby.Manager, defs []*Definition, scripts Loader, logger *zap.Logger) error {
	for _, def := range defs {
		app, err := Build(def, scripts, logger)
		if err != nil {
			return err
		}
		if err := m.RegisterApplication(app); err != nil {
			return fmt.Errorf("registering %q: %w", def.Name, err)
		}
	}
	return nil
}
