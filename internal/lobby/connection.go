package lobby

import (
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sender delivers one event to a client over its transport.
type Sender interface {
	Send(Event) error
}

// Directory is notified once when a connection quits.
type Directory interface {
	Remove(c *Connection)
}

// Connection is one client session.
//
// A Connection is not safe for concurrent use; every mutating call must be
// made from the dispatch loop.
type Connection struct {
	id        string
	username  string
	loggedIn  bool
	quit      bool
	members   *Memberships
	sender    Sender
	directory Directory
	logger    *zap.Logger
}

// NewConnection creates an anonymous connection with a fresh id.
//
// Precondition: sender and logger must be non-nil; directory may be nil.
func NewConnection(sender Sender, directory Directory, logger *zap.Logger) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:        id,
		members:   newMemberships(),
		sender:    sender,
		directory: directory,
		logger:    logger.With(zap.String("connection", id)),
	}
}

// ID returns the connection's unique id.
func (c *Connection) ID() string { return c.id }

// Username returns the display name, empty until login.
func (c *Connection) Username() string { return c.username }

// LoggedIn reports whether Login has been called.
func (c *Connection) LoggedIn() bool { return c.loggedIn }

// Closed reports whether Quit has been called.
func (c *Connection) Closed() bool { return c.quit }

// Login marks the connection as logged in under username.
func (c *Connection) Login(username string) {
	c.username = username
	c.loggedIn = true
	c.logger = c.logger.With(zap.String("username", username))
}

// Memberships returns the connection's membership table. Callers must treat
// it as read-only.
func (c *Connection) Memberships() *Memberships { return c.members }

// Lobbies returns the lobbies joined under application.
func (c *Connection) Lobbies(application string) []*Lobby {
	return c.members.Of(application)
}

// Send delivers ev to the client. Delivery failures are logged and dropped.
func (c *Connection) Send(ev Event) {
	if c.quit {
		return
	}
	if err := c.sender.Send(ev); err != nil {
		c.logger.Debug("dropping event", zap.String("cmd", ev.Cmd), zap.Error(err))
	}
}

func (c *Connection) join(l *Lobby) error {
	return c.members.add(l)
}

func (c *Connection) part(l *Lobby) bool {
	return c.members.remove(l)
}

// Quit parts every membership, deregisters from the directory and closes the
// transport. Calls after the first are no-ops.
func (c *Connection) Quit(reason string) {
	if c.quit {
		return
	}
	for _, l := range c.members.All() {
		if err := l.Part(c, reason); err != nil {
			c.logger.Debug("part on quit", zap.String("lobby", l.ID()), zap.Error(err))
		}
	}
	c.quit = true
	if c.directory != nil {
		c.directory.Remove(c)
	}
	if closer, ok := c.sender.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Debug("closing sender", zap.Error(err))
		}
	}
	c.logger.Info("connection quit", zap.String("reason", reason))
}

// Info projects the connection's public identity relative to l. viewer is
// reserved for per-viewer redaction and currently ignored.
func (c *Connection) Info(viewer *Connection, l *Lobby) UserInfo {
	_ = viewer
	info := UserInfo{ID: c.id, Username: c.username}
	if l != nil && l.host == c {
		info.Host = true
	}
	return info
}

func (c *Connection) matches(username string) bool {
	return strings.EqualFold(c.username, username)
}
