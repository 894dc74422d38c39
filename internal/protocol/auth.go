package protocol

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cory-johannsen/lobber/internal/lobby"
)

// MaxUsernameLen is the longest accepted display name, in runes.
const MaxUsernameLen = 36

// Login failures.
var (
	ErrAlreadyLoggedIn = errors.New("already logged in")
	ErrInvalidUsername = errors.New("invalid username")
	ErrUsernameTaken   = errors.New("username already in use")
)

// Authenticator decides the display name a login message grants.
type Authenticator interface {
	Authenticate(c *lobby.Connection, msg Message) (string, error)
}

// UsernameLookup finds a logged-in connection by display name.
type UsernameLookup interface {
	LookupUsername(name string) *lobby.Connection
}

// GuestAuthenticator grants any well-formed display name that no other
// logged-in session holds.
type GuestAuthenticator struct {
	Sessions UsernameLookup
}

// Authenticate implements Authenticator.
//
// Postcondition: Returns ErrInvalidUsername for names that are empty, longer
// than MaxUsernameLen runes or contain control characters, and
// ErrUsernameTaken when another session holds the name case-insensitively.
func (g GuestAuthenticator) Authenticate(c *lobby.Connection, msg Message) (string, error) {
	name := strings.TrimSpace(msg.Username)
	if err := ValidateUsername(name); err != nil {
		return "", err
	}
	if g.Sessions != nil {
		if other := g.Sessions.LookupUsername(name); other != nil && other != c {
			return "", ErrUsernameTaken
		}
	}
	return name, nil
}

// ValidateUsername checks name against the display name rules.
func ValidateUsername(name string) error {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxUsernameLen {
		return ErrInvalidUsername
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return ErrInvalidUsername
		}
	}
	return nil
}
