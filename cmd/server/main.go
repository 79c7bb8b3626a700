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

	"github.com/meditrek-engine/internal/api"
	"github.com/meditrek-engine/internal/app"
	"github.com/meditrek-engine/internal/config"
	"github.com/meditrek-engine/internal/logging"
)

var version = "dev"

func main() {
	// Optional .env for local runs
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
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"version":     version,
		"config_file": configManager.ConfigFile(),
	}).Info("Starting Meditrek engine server")

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

	store, err := app.OpenPostgresStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}

	application, err := app.New(ctx, cfg, store, logger, app.WithCatalogDSN(configManager.CatalogDSN()))
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize engine")
	}

	opts := []api.Option{api.WithVersion(version)}
	for name, check := range application.ReadinessChecks() {
		opts = append(opts, api.WithReadinessCheck(name, check))
	}
	if application.Hub != nil {
		opts = append(opts, api.WithReminderStream(application.Hub))
	}
	server := api.NewServer(cfg.Server, logger, opts...)

	if err := application.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start reminder sweep")
	}

	// Start server
	serveErr := server.Start(ctx)

	stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	if err := application.Close(stopCtx); err != nil {
		logger.WithError(err).Warn("Shutdown did not complete cleanly")
	}

	if serveErr != nil {
		logger.WithError(serveErr).Fatal("Server failed")
	}
	logger.Info("Server stopped")
}
