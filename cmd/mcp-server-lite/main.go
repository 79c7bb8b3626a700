// Package main provides the lightweight entry point for the Meditrek MCP
// server. It needs no external services: data lives in SQLite and adherence
// states are cached in memory.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/app"
	"github.com/meditrek-engine/internal/config"
	"github.com/meditrek-engine/internal/logging"
	"github.com/meditrek-engine/internal/mcp"
	"github.com/meditrek-engine/internal/repository"
	"github.com/meditrek-engine/internal/setup"
)

func main() {
	log.SetOutput(os.Stderr)

	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewCLI("lite")
		if err := cli.Run(os.Args[2:]); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	// Load lightweight configuration
	liteCfg := config.LoadLiteConfig()
	if err := liteCfg.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := liteCfg.ToDomain()

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	if err := liteCfg.EnsureDataDir(); err != nil {
		logger.WithError(err).Fatal("Failed to create data directory")
	}
	logger.WithFields(logrus.Fields{
		"data_dir": liteCfg.DataDir,
		"database": liteCfg.DBPath(),
	}).Info("Starting Meditrek MCP server (lite)")

	store, err := repository.NewSQLiteStore(liteCfg.DBPath())
	if err != nil {
		logger.WithError(err).Fatal("Failed to open SQLite store")
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	application, err := app.New(ctx, cfg, store, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}

	server, err := mcp.NewServer(application.Engine, mcp.ServerInfo{
		Name:    cfg.MCP.ServerName,
		Version: cfg.MCP.ServerVersion,
	}, logger, mcp.WithSweeper(application.Sweeper))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	if err := application.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start reminder sweep")
	}

	// Start MCP server
	runErr := server.RunStdio(ctx)

	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := application.Close(stopCtx); err != nil {
		logger.WithError(err).Warn("Shutdown did not complete cleanly")
	}

	if runErr != nil && ctx.Err() == nil {
		logger.WithError(runErr).Fatal("MCP server failed")
	}
	logger.Info("Meditrek MCP server (lite) stopped")
}
