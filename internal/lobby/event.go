package lobby

// Server-to-client command names.
const (
	CmdError           = "error"
	CmdLogin           = "login"
	CmdApplicationList = "application.list"
	CmdLobbyList       = "lobby.list"
	CmdLobbyNew        = "lobby.new"
	CmdLobbyOpen       = "lobby.open"
	CmdLobbyClose      = "lobby.close"
	CmdLobbyJoin       = "lobby.join"
	CmdLobbyUserJoin   = "lobby.user.join"
	CmdLobbyPart       = "lobby.part"
	CmdLobbyUserPart   = "lobby.user.part"
	CmdLobbyKick       = "lobby.kick"
	CmdLobbyKicked     = "lobby.kicked"
	CmdLobbyUserKicked = "lobby.user.kicked"
	CmdLobbyMessage    = "lobby.message"
	CmdLobbyAction     = "lobby.action"
)

// ErrorCmd returns the command-scoped error name for cmd, e.g. "lobby.join.error".
func ErrorCmd(cmd string) string {
	return cmd + ".error"
}

// Event is one structured server-to-client message.
type Event struct {
	Cmd          string     `json:"cmd"`
	Lobby        *LobbyInfo `json:"lobby,omitempty"`
	User         *UserInfo  `json:"user,omitempty"`
	From         *UserInfo  `json:"from,omitempty"`
	Application  string     `json:"application,omitempty"`
	Reason       string     `json:"reason,omitempty"`
	Message      string     `json:"message,omitempty"`
	List         []Summary  `json:"list,omitempty"`
	Applications []string   `json:"applications,omitempty"`
	Data         any        `json:"data,omitempty"`
}

// UserInfo is the public projection of a connection.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Host     bool   `json:"host,omitempty"`
}

// LobbyInfo is the public projection of a lobby. Members is only populated
// for full snapshots.
type LobbyInfo struct {
	Application string     `json:"application"`
	ID          string     `json:"id"`
	Tag         string     `json:"tag,omitempty"`
	Members     []UserInfo `json:"members,omitempty"`
}

// Summary is one row of a lobby listing.
type Summary struct {
	ID      string `json:"id"`
	Tag     string `json:"tag,omitempty"`
	Host    string `json:"host"`
	Members int    `json:"members"`
}
