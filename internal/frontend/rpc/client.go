package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/lobber/internal/lobby"
	"github.com/cory-johannsen/lobber/internal/protocol"
)

// Client is one open session stream.
type Client struct {
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// Dial opens a session stream to addr. The stream lives until Close or
// until ctx is cancelled.
//
// Postcondition: Returns a Client ready to Send and Recv, or an error.
func Dial(ctx context.Context, addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], SessionMethod)
	if err != nil {
		cancel()
		conn.Close()
		return nil, fmt.Errorf("opening session: %w", err)
	}
	return &Client{conn: conn, stream: stream, cancel: cancel}, nil
}

// Send sends one message.
func (c *Client) Send(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s message: %w", msg.Cmd, err)
	}
	return c.SendJSON(data)
}

// SendJSON sends a JSON object as one message frame. Anything other than an
// object is refused before it reaches the stream.
func (c *Client) SendJSON(data []byte) error {
	frame, err := frameFromJSON(data)
	if err != nil {
		return err
	}
	return c.SendFrame(frame)
}

// SendFrame sends frame as is.
func (c *Client) SendFrame(frame *structpb.Struct) error {
	return c.stream.SendMsg(frame)
}

// Recv blocks for the next event. It returns io.EOF once the server ends
// the session.
func (c *Client) Recv() (lobby.Event, error) {
	frame := new(structpb.Struct)
	if err := c.stream.RecvMsg(frame); err != nil {
		return lobby.Event{}, err
	}
	data, err := frameToJSON(frame)
	if err != nil {
		return lobby.Event{}, err
	}
	var ev lobby.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return lobby.Event{}, fmt.Errorf("decoding event: %w", err)
	}
	return ev, nil
}

// CloseSend half-closes the stream, which ends the session on the server.
func (c *Client) CloseSend() error {
	return c.stream.CloseSend()
}

// Close abandons the stream and the connection.
func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close()
}
