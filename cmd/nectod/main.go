package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"necto/internal/api"
	"necto/internal/config"
	"necto/internal/journal"
	"necto/internal/ledger/rpc"
	"necto/internal/marketplace"
	"necto/internal/payment"
	"necto/internal/repository/postgres"
	"necto/internal/routing"
	"necto/internal/state"
	"necto/internal/stream/nats"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: time.RFC3339})
	}

	appState := state.New()

	// Initialize attempt store
	if cfg.Database.Host != "" {
		store, err := postgres.New(cfg.Database.ConnString())
		if err != nil {
			logger.Warnf("Failed to initialize PostgreSQL attempt store: %v", err)
		} else {
			appState.Repository = store
			logger.Info("PostgreSQL attempt store initialized")
		}
	}

	// Initialize NATS stream
	var listeners []journal.Listener
	if cfg.NATS.URL != "" {
		st, err := nats.New(cfg.NATS.URL)
		if err != nil {
			logger.Warnf("Failed to initialize NATS stream: %v", err)
		} else {
			appState.Stream = st
			listeners = append(listeners, journal.NewStreamListener(st, logger))
			logger.Info("NATS stream initialized")
		}
	}

	// Provider marketplace gateway
	appState.Marketplace = marketplace.NewHTTPClient(cfg.Marketplace.BaseURL, cfg.Marketplace.APIKey)

	// Payment sequencer, only when a chain gateway is configured
	var payments *payment.Sequencer
	if cfg.Ledger.BaseURL != "" {
		ledgerClient := rpc.New(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Ledger.AgentAddress)
		appState.Ledger = ledgerClient
		payments = payment.New(ledgerClient, cfg.Ledger.AgentAddress, cfg.Ledger.EscrowAddress, logger)
		logger.Info("Ledger payment sequencer initialized")
	}

	engine, err := routing.New(appState.Marketplace, payments, routing.Config{
		Weights:           cfg.Routing.Weights,
		PollInterval:      cfg.Routing.PollInterval,
		DefaultBidTimeout: cfg.Routing.BidTimeout,
	}, logger, listeners...)
	if err != nil {
		logger.Fatalf("Failed to create routing engine: %v", err)
	}
	appState.Engine = engine

	router := api.SetupRoutes(appState)
	server := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: router,
	}

	go func() {
		logger.Infof("Starting Necto routing server on %s", cfg.Server.Address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Error shutting down HTTP server: %v", err)
	}

	if err := appState.Close(); err != nil {
		logger.Warnf("Error closing application state: %v", err)
	}

	logger.Info("Server exited gracefully")
}
