// Package testutil assembles the server core for transport tests.
package testutil

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/cory-johannsen/lobber/internal/frontend/handlers"
	"github.com/cory-johannsen/lobber/internal/lobby"
	"github.com/cory-johannsen/lobber/internal/protocol"
	"github.com/cory-johannsen/lobber/internal/session"
)

// Stack is a running dispatch loop with a Bridge in front of it.
type Stack struct {
	Registry *session.Registry
	Manager  *lobby.Manager
	Loop     *protocol.Loop
	Bridge   *handlers.Bridge

	cancel context.CancelFunc
}

// NewStack registers apps, defaulting to a polygamous "chat", and starts the
// loop. The loop stops when the test ends.
//
// Postcondition: The loop is accepting work.
func NewStack(t testing.TB, apps ...lobby.Application) *Stack {
	t.Helper()
	logger := zaptest.NewLogger(t)
	if len(apps) == 0 {
		apps = []lobby.Application{{Name: "chat", Polygamous: true}}
	}
	manager := lobby.NewManager(logger)
	for _, app := range apps {
		if err := manager.RegisterApplication(app); err != nil {
			t.Fatalf("registering %s: %v", app.Name, err)
		}
	}
	registry := session.NewRegistry(logger)
	loop := protocol.NewLoop(protocol.New(manager, registry, nil, logger), 64, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	s := &Stack{
		Registry: registry,
		Manager:  manager,
		Loop:     loop,
		Bridge:   handlers.NewBridge(registry, loop, manager, 64, logger),
		cancel:   cancel,
	}
	t.Cleanup(s.Stop)
	return s
}

// Stop ends the loop and waits for it. It is safe to call more than once.
func (s *Stack) Stop() {
	s.cancel()
	<-s.Loop.Done()
}
