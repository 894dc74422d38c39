package rpc

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/lobber/internal/lobby"
	"github.com/cory-johannsen/lobber/internal/protocol"
)

// frameFromJSON parses one JSON object into a stream frame.
func frameFromJSON(data []byte) (*structpb.Struct, error) {
	frame := new(structpb.Struct)
	if err := protojson.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}
	return frame, nil
}

// frameToJSON renders a stream frame as a JSON object.
func frameToJSON(frame *structpb.Struct) ([]byte, error) {
	data, err := protojson.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("rendering frame: %w", err)
	}
	return data, nil
}

// eventFrame converts an event into the frame sent to the client.
func eventFrame(ev lobby.Event) (*structpb.Struct, error) {
	data, err := protocol.Encode(ev)
	if err != nil {
		return nil, err
	}
	return frameFromJSON(data)
}
