// Package websocket serves the lobby protocol over WebSocket and exposes
// read-only HTTP views of the server state.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobber/internal/config"
	"github.com/cory-johannsen/lobber/internal/frontend/handlers"
	"github.com/cory-johannsen/lobber/internal/lobby"
	"github.com/cory-johannsen/lobber/internal/protocol"
)

const (
	shutdownTimeout = 5 * time.Second
	queryTimeout    = 2 * time.Second
)

// Server is the HTTP and WebSocket front end.
type Server struct {
	cfg      config.HTTPConfig
	bridge   *handlers.Bridge
	engine   *gin.Engine
	upgrader websocket.Upgrader
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// NewServer builds the router.
//
// Precondition: cfg must be valid; bridge and logger must be non-nil.
func NewServer(cfg config.HTTPConfig, bridge *handlers.Bridge, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Mode)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		bridge: bridge,
		logger: logger.Named("http"),
		ctx:    ctx,
		cancel: cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Lobby clients are served from arbitrary origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/healthz", s.health)
	api := r.Group("/api")
	api.GET("/ws", s.serveWS)
	api.GET("/applications", s.applications)
	api.GET("/applications/:application/lobbies", s.lobbies)
	s.engine = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves until Stop is called.
//
// Postcondition: Returns nil after Stop, or the listen error.
func (s *Server) ListenAndServe() error {
	start := time.Now()
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info("http server listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("mode", s.cfg.Mode),
		zap.Duration("startup", time.Since(start)),
	)
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}

// Stop closes every WebSocket, shuts the HTTP server down and waits for
// sessions to detach.
func (s *Server) Stop() {
	s.mu.Lock()
	s.cancel()
	srv := s.srv
	s.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", zap.Error(err))
		}
	}
	s.wg.Wait()
	s.logger.Info("http server stopped")
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

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": s.bridge.Sessions()})
}

func (s *Server) applications(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	names, err := s.bridge.Applications(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server unavailable."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": names})
}

func (s *Server) lobbies(c *gin.Context) {
	app := c.Param("application")
	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()
	list, err := s.bridge.Lobbies(ctx, app)
	switch {
	case errors.Is(err, lobby.ErrUnknownApplication):
		c.JSON(http.StatusNotFound, gin.H{"error": "No such application on the server."})
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Server unavailable."})
	default:
		if list == nil {
			list = []lobby.Summary{}
		}
		c.JSON(http.StatusOK, gin.H{"application": app, "lobbies": list})
	}
}

func (s *Server) serveWS(c *gin.Context) {
	if s.ctx.Err() != nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.String("remote_addr", c.Request.RemoteAddr), zap.Error(err))
		return
	}
	link, err := s.bridge.Attach(c.Request.Context(), c.Request.RemoteAddr)
	if err != nil {
		s.logger.Warn("attach failed", zap.String("remote_addr", c.Request.RemoteAddr), zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "Server unavailable."),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	s.wg.Add(2)
	stop := context.AfterFunc(s.ctx, func() { _ = ws.Close() })
	go func() {
		defer s.wg.Done()
		s.writePump(link, ws)
	}()
	defer s.wg.Done()
	defer stop()
	s.readPump(link, ws)
}

// readPump feeds inbound text frames to the link until the socket fails,
// then detaches.
func (s *Server) readPump(link *handlers.Link, ws *websocket.Conn) {
	reason := "Connection closed."
	defer func() { link.Detach(reason) }()

	ws.SetReadLimit(s.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait()))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "Connection lost."
				s.logger.Debug("websocket read", zap.String("remote_addr", link.Remote()), zap.Error(err))
			}
			return
		}
		if err := link.Receive(s.ctx, data); err != nil {
			reason = "Server shutting down."
			return
		}
	}
}

// writePump is the only writer of data frames. It pings every PingPeriod
// and sends a close frame once the link's events end.
func (s *Server) writePump(link *handlers.Link, ws *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case ev, ok := <-link.Events():
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data, err := protocol.Encode(ev)
			if err != nil {
				s.logger.Error("encoding event", zap.String("cmd", ev.Cmd), zap.Error(err))
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("websocket write", zap.String("remote_addr", link.Remote()), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
