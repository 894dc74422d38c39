package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/lobber/internal/lobby"
)

// Client-to-server command names not already named by the lobby package.
const (
	CmdQuit = "quit"
)

// Message is one decoded client-to-server command.
type Message struct {
	Cmd         string          `json:"cmd"`
	Application string          `json:"application,omitempty"`
	ID          string          `json:"id,omitempty"`
	Tag         string          `json:"tag,omitempty"`
	Private     bool            `json:"private,omitempty"`
	Password    string          `json:"password,omitempty"`
	User        string          `json:"user,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Message     string          `json:"message,omitempty"`
	Username    string          `json:"username,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// Decode parses one JSON-encoded Message.
//
// Postcondition: Returns an error if raw is not a JSON object.
func Decode(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("decoding message: %w", err)
	}
	return msg, nil
}

// Encode renders ev as a single line of JSON.
func Encode(ev lobby.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encoding %s event: %w", ev.Cmd, err)
	}
	return data, nil
}

// targeted reports whether the message names a lobby.
func (m Message) targeted() bool {
	return m.Application != "" && m.ID != ""
}
