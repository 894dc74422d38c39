// Package rpc serves the lobby protocol as a bidirectional gRPC stream. Each
// frame is a google.protobuf.Struct holding one protocol message or event, so
// the service is described by hand and needs no generated stubs.
package rpc

import (
	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "lobber.v1.Lobby"

// SessionMethod is the full method path of the session stream.
const SessionMethod = "/" + ServiceName + "/Session"

// sessionService is implemented by Server.
type sessionService interface {
	Session(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*sessionService)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Session",
			Handler:       sessionHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "lobber/v1/lobby",
}

func sessionHandler(srv any, stream grpc.ServerStream) error {
	return srv.(sessionService).Session(stream)
}
