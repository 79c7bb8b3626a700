package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/meditrek-engine/internal/app"
	"github.com/meditrek-engine/internal/config"
	"github.com/meditrek-engine/internal/logging"
	"github.com/meditrek-engine/internal/mcp"
)

func main() {
	// stdout carries the MCP stream; diagnostics go to stderr
	log.SetOutput(os.Stderr)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Ignoring .env: %v", err)
	}

	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	cfg.Logging.Output = "stderr"
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"name":    cfg.MCP.ServerName,
		"version": cfg.MCP.ServerVersion,
	}).Info("Starting Meditrek MCP server")

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down MCP server...")
		cancel()
	}()

	store, err := app.OpenPostgresStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}

	application, err := app.New(ctx, cfg, store, logger, app.WithCatalogDSN(configManager.CatalogDSN()))
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}

	// Create MCP server
	mcpServer, err := mcp.NewServer(application.Engine, mcp.ServerInfo{
		Name:    cfg.MCP.ServerName,
		Version: cfg.MCP.ServerVersion,
	}, logger, mcp.WithSweeper(application.Sweeper))
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	if err := application.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start reminder sweep")
	}

	runErr := mcpServer.RunStdio(ctx)

	stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := application.Close(stopCtx); err != nil {
		logger.WithError(err).Warn("Shutdown did not complete cleanly")
	}

	if runErr != nil && ctx.Err() == nil {
		logger.WithError(runErr).Fatal("MCP server failed")
	}
	logger.Info("Meditrek MCP server stopped")
}
