// Command ploinky-router is RT: the HTTP front door SUP
// spawns as its supervised child. It owns no container lifecycle of its
// own — AGM and CM run in the ploinkyd parent — it only serves /mcp,
// /mcps/<agent>/mcp, and /health against the workspace's AR/RTbl files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ploinky/ploinky/internal/common/config"
	"github.com/ploinky/ploinky/internal/common/logger"
	"github.com/ploinky/ploinky/internal/common/tracing"
	"github.com/ploinky/ploinky/internal/registry"
	"github.com/ploinky/ploinky/internal/router"
	"github.com/ploinky/ploinky/internal/routingtable"
	"github.com/ploinky/ploinky/internal/workspace"
)

func main() {
	// 1. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(2)
	}

	// 2. Initialize logger.
	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()
	logger.SetDefault(log)
	shutdownTracing := tracing.Init("ploinky-router")
	defer func() { _ = shutdownTracing(context.Background()) }()

	// 3. Resolve workspace paths.
	root, err := os.Getwd()
	if err != nil {
		log.Fatal("failed to resolve workspace root", zap.Error(err))
	}
	paths := workspace.NewPaths(root)

	// 4. Load AR and RTbl.
	ar, err := registry.Load(paths.Agents)
	if err != nil {
		log.Fatal("failed to load agent registry", zap.Error(err))
	}
	rtbl, err := routingtable.Load(paths.Routing)
	if err != nil {
		log.Fatal("failed to load routing table", zap.Error(err))
	}
	if err := rtbl.SetPort(cfg.Server.Port); err != nil {
		log.Fatal("failed to persist router listen port", zap.Error(err))
	}

	// 5. Build RT and start serving.
	srv := router.New(rtbl, ar, router.AllowAllAuthGate{}, log)

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info("router starting", zap.String("addr", addr))
		if err := srv.Start(addr); err != nil {
			log.Fatal("router exited unexpectedly", zap.Error(err))
		}
	}()

	// 6. Wait for shutdown signal, forwarded from SUP as SIGTERM/SIGINT.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("router shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("router shutdown error", zap.Error(err))
	}
}
