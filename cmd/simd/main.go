package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"btc-trading-sim/internal/config"
	"btc-trading-sim/internal/events"
	"btc-trading-sim/internal/feed"
	"btc-trading-sim/internal/logger"
	"btc-trading-sim/internal/pricefeed"
	"btc-trading-sim/internal/sim"
	"btc-trading-sim/internal/store"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database-backed store
	db, err := store.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	st := store.NewGormStore(db)
	log.Info("Database connection successful and schema migrated.")

	// Price source client
	client := pricefeed.NewRestClient(&cfg.PriceSource, log)

	// Change feed: websocket if configured, in-process otherwise.
	var channel events.Channel
	if cfg.Feed.URL != "" {
		channel = feed.NewWSChannel(log, cfg.Feed.URL)
	} else {
		channel = feed.NewMemoryChannel()
		log.Info("No change feed URL configured, using in-process feed")
	}

	service := sim.NewService(log, &cfg, st, client, channel)

	api := sim.NewAPIServer(service, cfg.Server.Port, log)
	api.Start()

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	service.Start(ctx)
	<-ctx.Done()
	service.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Warn("API server shutdown failed", zap.Error(err))
	}

	log.Info("Simulator has been shut down.")
}
