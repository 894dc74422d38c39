package lobby

import "errors"

// Expected failure modes. Every one of them is recoverable at the scope of a
// single connection and is reported to the client as a "<cmd>.error" event.
var (
	ErrUnknownApplication = errors.New("no such application")
	ErrLobbyExists        = errors.New("lobby already exists")
	ErrInvalidLobbyID     = errors.New("lobby id must not be empty")
	ErrNoSuchLobby        = errors.New("no such lobby")
	ErrAlreadyMember      = errors.New("already in lobby")
	ErrMultipleMembership = errors.New("cannot join multiple lobbies of this type")
	ErrJoinRefused        = errors.New("join request refused")
	ErrNotMember          = errors.New("not in lobby")
	ErrNotHost            = errors.New("only the host may do that")
	ErrNoSuchUser         = errors.New("no such user")
	ErrUnknownCommand     = errors.New("unrecognised command")
	ErrOpenRefused        = errors.New("lobby open refused")
)
