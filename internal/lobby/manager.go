package lobby

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Factory builds the admission behavior for a new lobby. Returning an error
// refuses the open.
type Factory func(req OpenRequest) (Behavior, error)

// Application is a registered lobby type.
type Application struct {
	Name       string
	Polygamous bool
	// Factory may be nil, in which case lobbies use DefaultBehavior.
	Factory  Factory
	Handlers map[string]Handler
}

// OpenRequest describes a lobby a connection wants to host.
type OpenRequest struct {
	Application string
	ID          string
	Tag         string
	Private     bool
	Password    string
}

type registration struct {
	app  Application
	open map[string]*Lobby
}

// Manager is the registry of applications and their open lobbies.
//
// A Manager is not safe for concurrent use; it is owned by the dispatch loop.
type Manager struct {
	apps   map[string]*registration
	logger *zap.Logger
}

// NewManager creates an empty Manager.
//
// Precondition: logger must be non-nil.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		apps:   make(map[string]*registration),
		logger: logger.Named("lobby"),
	}
}

// RegisterApplication binds app.Name to app. Re-registering a name replaces
// the definition used for new lobbies and leaves open lobbies untouched.
//
// Postcondition: Returns an error if app.Name is empty.
func (m *Manager) RegisterApplication(app Application) error {
	if app.Name == "" {
		return errors.New("application name must not be empty")
	}
	if reg, ok := m.apps[app.Name]; ok {
		reg.app = app
		m.logger.Info("application re-registered", zap.String("application", app.Name))
		return nil
	}
	m.apps[app.Name] = &registration{app: app, open: make(map[string]*Lobby)}
	m.logger.Info("application registered",
		zap.String("application", app.Name),
		zap.Bool("polygamous", app.Polygamous),
	)
	return nil
}

// CreateLobby opens a lobby hosted by c.
//
// Postcondition: on success c is the host and sole member and the lobby is
// reachable via Get. On failure no state changes.
func (m *Manager) CreateLobby(c *Connection, req OpenRequest) (*Lobby, error) {
	reg, ok := m.apps[req.Application]
	if !ok {
		return nil, fmt.Errorf("opening %q: %w", req.Application, ErrUnknownApplication)
	}
	if req.ID == "" {
		return nil, ErrInvalidLobbyID
	}
	if _, exists := reg.open[req.ID]; exists {
		return nil, fmt.Errorf("opening %s/%s: %w", req.Application, req.ID, ErrLobbyExists)
	}
	var behavior Behavior = DefaultBehavior{}
	if reg.app.Factory != nil {
		b, err := reg.app.Factory(req)
		if err != nil {
			return nil, fmt.Errorf("opening %s/%s: %w: %w", req.Application, req.ID, ErrOpenRefused, err)
		}
		if b != nil {
			behavior = b
		}
	}
	l := &Lobby{
		id:          req.ID,
		application: req.Application,
		tag:         req.Tag,
		private:     req.Private,
		polygamous:  reg.app.Polygamous,
		host:        c,
		manager:     m,
		behavior:    behavior,
		handlers:    reg.app.Handlers,
		logger: m.logger.With(
			zap.String("application", req.Application),
			zap.String("lobby", req.ID),
		),
	}
	if err := c.join(l); err != nil {
		return nil, fmt.Errorf("opening %s/%s: %w", req.Application, req.ID, err)
	}
	l.members = []*Connection{c}
	reg.open[req.ID] = l
	l.logger.Info("opened", zap.String("host", c.Username()), zap.Bool("private", req.Private))
	return l, nil
}

// close deregisters l. It is a no-op when l is not registered.
func (m *Manager) close(l *Lobby) {
	reg, ok := m.apps[l.application]
	if !ok {
		return
	}
	if reg.open[l.id] == l {
		delete(reg.open, l.id)
	}
}

// List returns summaries of the public open lobbies of application, ordered
// by id.
func (m *Manager) List(application string) ([]Summary, error) {
	reg, ok := m.apps[application]
	if !ok {
		return nil, fmt.Errorf("listing %q: %w", application, ErrUnknownApplication)
	}
	out := make([]Summary, 0, len(reg.open))
	for _, l := range reg.open {
		if l.private {
			continue
		}
		out = append(out, l.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the open lobby id of application.
func (m *Manager) Get(application, id string) (*Lobby, error) {
	reg, ok := m.apps[application]
	if !ok {
		return nil, fmt.Errorf("%q: %w", application, ErrUnknownApplication)
	}
	l, ok := reg.open[id]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", application, id, ErrNoSuchLobby)
	}
	return l, nil
}

// Applications returns the registered application names in sorted order.
func (m *Manager) Applications() []string {
	out := make([]string, 0, len(m.apps))
	for name := range m.apps {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Application returns the registered definition of name.
func (m *Manager) Application(name string) (Application, bool) {
	reg, ok := m.apps[name]
	if !ok {
		return Application{}, false
	}
	return reg.app, true
}
