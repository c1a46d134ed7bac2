package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bingx-auto-trader/internal/auth"
	"bingx-auto-trader/internal/bingx"
	"bingx-auto-trader/internal/config"
	"bingx-auto-trader/internal/database"
	"bingx-auto-trader/internal/logger"
	"bingx-auto-trader/internal/server"
	"bingx-auto-trader/internal/store"
	"bingx-auto-trader/internal/trader"
	"bingx-auto-trader/internal/webhook"
	"go.uber.org/zap"
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

	if cfg.Auth.JWTSecret == "" {
		log.Fatal("auth.jwt_secret must be set")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Wire the trading pipeline
	st := store.NewStore(db)
	factory := bingx.NewFactory(cfg.Exchange, log)
	executor := trader.NewExecutor(log)
	dispatcher := webhook.NewDispatcher(log, st, st, factory.Client, executor, cfg.Trading.SettleDelay())
	authService := auth.NewService(db, log, cfg.Auth)

	srv := server.NewServer(cfg.Server, log, st, st, dispatcher, authService, factory.Client, executor)
	srv.Start()

	// Wait for shutdown signal
	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	<-sigchan
	log.Info("Shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", zap.Error(err))
	}

	log.Info("Server has been shut down.")
}
