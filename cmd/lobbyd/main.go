// Package main provides the lobby server binary. It serves the lobby
// protocol over telnet-style TCP lines, WebSocket and gRPC from one
// dispatch loop.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/lobber/internal/apps"
	"github.com/cory-johannsen/lobber/internal/config"
	"github.com/cory-johannsen/lobber/internal/frontend/handlers"
	"github.com/cory-johannsen/lobber/internal/frontend/rpc"
	"github.com/cory-johannsen/lobber/internal/frontend/telnet"
	"github.com/cory-johannsen/lobber/internal/frontend/websocket"
	"github.com/cory-johannsen/lobber/internal/lobby"
	"github.com/cory-johannsen/lobber/internal/observability"
	"github.com/cory-johannsen/lobber/internal/protocol"
	"github.com/cory-johannsen/lobber/internal/scripting"
	"github.com/cory-johannsen/lobber/internal/server"
	"github.com/cory-johannsen/lobber/internal/session"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	appsDir := flag.String("applications", "", "directory of application YAML files; overrides applications.dir")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if *appsDir != "" {
		cfg.Applications.Dir = *appsDir
	}

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting lobby server",
		zap.Bool("telnet", cfg.Telnet.Enabled),
		zap.Bool("http", cfg.HTTP.Enabled),
		zap.Bool("grpc", cfg.GRPC.Enabled),
	)

	defs, err := loadDefinitions(cfg.Applications)
	if err != nil {
		logger.Fatal("loading applications", zap.Error(err))
	}
	scripts := scripting.NewManager(logger)
	defer scripts.Close()

	manager := lobby.NewManager(logger)
	if err := apps.Register(manager, defs, scripts, logger); err != nil {
		logger.Fatal("registering applications", zap.Error(err))
	}
	logger.Info("applications registered", zap.Strings("applications", manager.Applications()))

	registry := session.NewRegistry(logger)
	loop := protocol.NewLoop(protocol.New(manager, registry, nil, logger), cfg.Server.InboxSize, logger)
	bridge := handlers.NewBridge(registry, loop, manager, cfg.Server.OutboxSize, logger)

	// Transports are added after the loop so they stop before it.
	lifecycle := server.NewLifecycle(logger)
	lifecycle.Add("dispatch", &server.FuncService{StartFn: loop.Start, StopFn: loop.Stop})

	if cfg.Telnet.Enabled {
		acceptor := telnet.NewAcceptor(cfg.Telnet, handlers.NewLineHandler(bridge, logger), logger)
		lifecycle.Add("telnet", &server.FuncService{StartFn: acceptor.ListenAndServe, StopFn: acceptor.Stop})
	}
	if cfg.HTTP.Enabled {
		httpServer := websocket.NewServer(cfg.HTTP, bridge, logger)
		lifecycle.Add("http", &server.FuncService{StartFn: httpServer.ListenAndServe, StopFn: httpServer.Stop})
	}
	if cfg.GRPC.Enabled {
		grpcServer := rpc.NewServer(cfg.GRPC, bridge, logger)
		lifecycle.Add("grpc", &server.FuncService{StartFn: grpcServer.ListenAndServe, StopFn: grpcServer.Stop})
	}

	logger.Info("lobby server initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("telnet_addr", cfg.Telnet.Addr()),
		zap.String("http_addr", cfg.HTTP.Addr()),
		zap.String("grpc_addr", cfg.GRPC.Addr()),
	)

	if err := lifecycle.Run(context.Background()); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

// loadDefinitions reads the configured application directory, or falls back
// to the built-in chat application when none is configured.
func loadDefinitions(cfg config.ApplicationsConfig) ([]*apps.Definition, error) {
	if cfg.Dir == "" {
		return []*apps.Definition{apps.Chat()}, nil
	}
	defs, err := apps.LoadDir(cfg.Dir)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		if def.ScriptInstructionLimit == 0 {
			def.ScriptInstructionLimit = cfg.ScriptInstructionLimit
		}
	}
	return defs, nil
}
