package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/lobber/internal/config"
	"github.com/cory-johannsen/lobber/internal/frontend/handlers"
)

// Server is the gRPC front end.
type Server struct {
	cfg    config.GRPCConfig
	bridge *handlers.Bridge
	grpc   *grpc.Server
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
}

// NewServer creates a Server with the lobby service registered.
//
// Precondition: bridge and logger must be non-nil.
func NewServer(cfg config.GRPCConfig, bridge *handlers.Bridge, logger *zap.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		bridge: bridge,
		grpc:   grpc.NewServer(grpc.WaitForHandlers(true)),
		logger: logger.Named("grpc"),
	}
	s.grpc.RegisterService(&serviceDesc, s)
	return s
}

// ListenAndServe serves until Stop is called.
//
// Postcondition: Returns nil after Stop, or the listen error.
func (s *Server) ListenAndServe() error {
	start := time.Now()
	lis, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.logger.Info("gRPC server listening",
		zap.String("addr", lis.Addr().String()),
		zap.String("service", ServiceName),
		zap.Duration("startup", time.Since(start)),
	)
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serving grpc: %w", err)
	}
	return nil
}

// Stop cancels every open session and waits for them to detach.
func (s *Server) Stop() {
	s.grpc.Stop()
	s.logger.Info("gRPC server stopped")
}

// Addr returns the bound address, or "" before the listener is up.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Session serves one client stream. Client frames carry protocol messages;
// server frames carry events.
func (s *Server) Session(stream grpc.ServerStream) error {
	ctx := stream.Context()
	remote := "unknown"
	if p, ok := peer.FromContext(ctx); ok {
		remote = p.Addr.String()
	}
	link, err := s.bridge.Attach(ctx, remote)
	if err != nil {
		s.logger.Warn("attach failed", zap.String("remote_addr", remote), zap.Error(err))
		return status.Error(codes.Unavailable, "Server unavailable.")
	}
	s.logger.Debug("session started", zap.String("remote_addr", remote))

	type ended struct {
		reason string
		err    error
	}
	received := make(chan ended, 1)
	go func() {
		reason, err := s.receive(ctx, link, stream)
		received <- ended{reason: reason, err: err}
	}()
	forwarded := make(chan error, 1)
	go func() { forwarded <- s.forward(link, stream) }()

	select {
	case r := <-received:
		link.Detach(r.reason)
		<-forwarded
		return r.err
	case err := <-forwarded:
		// The connection quit or the client stopped reading.
		link.Detach("Connection lost.")
		return err
	}
}

func (s *Server) receive(ctx context.Context, link *handlers.Link, stream grpc.ServerStream) (string, error) {
	for {
		frame := new(structpb.Struct)
		if err := stream.RecvMsg(frame); err != nil {
			if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
				return "Connection closed.", nil
			}
			return "Connection lost.", err
		}
		// A frame that cannot be rendered reaches the link empty and is
		// answered as malformed.
		raw, err := frameToJSON(frame)
		if err != nil {
			s.logger.Debug("rendering frame", zap.String("remote_addr", link.Remote()), zap.Error(err))
		}
		if err := link.Receive(ctx, raw); err != nil {
			return "Server shutting down.", status.Error(codes.Unavailable, "Server shutting down.")
		}
	}
}

// forward sends events until the link closes.
func (s *Server) forward(link *handlers.Link, stream grpc.ServerStream) error {
	for ev := range link.Events() {
		frame, err := eventFrame(ev)
		if err != nil {
			s.logger.Error("encoding event", zap.String("cmd", ev.Cmd), zap.Error(err))
			continue
		}
		if err := stream.SendMsg(frame); err != nil {
			s.logger.Debug("sending event", zap.String("remote_addr", link.Remote()), zap.Error(err))
			return err
		}
	}
	return nil
}
