package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbitrage-platform-go/internal/api"
	"arbitrage-platform-go/internal/auth"
	"arbitrage-platform-go/internal/config"
	"arbitrage-platform-go/internal/database"
	"arbitrage-platform-go/internal/ledger"
	"arbitrage-platform-go/internal/logger"
	"arbitrage-platform-go/internal/notifier"
	"arbitrage-platform-go/internal/support"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")

	// Wire the ledger core
	guard := ledger.NewGuard(db, log,
		time.Duration(cfg.Ledger.LockTimeoutMs)*time.Millisecond,
		cfg.Ledger.MaxConflictRetries)
	hook := notifier.NewWebhookNotifier(&cfg.Notifier, log)
	var settledHook ledger.Notifier
	if hook != nil {
		settledHook = hook
		log.Info("Settlement webhook enabled", zap.String("url", cfg.Notifier.WebhookURL))
	}
	engine := ledger.NewEngine(db, guard, log, decimal.NewFromFloat(cfg.Ledger.FeeRatePct), settledHook)
	reader := ledger.NewReader(db)
	reconciler := ledger.NewReconciler(db, guard, log,
		time.Duration(cfg.Ledger.RecoveryGraceSec)*time.Second,
		time.Duration(cfg.Ledger.RecoverySweepSec)*time.Second)

	// Collaborator services
	authSvc := auth.NewService(db, log, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLMin)*time.Minute)
	tickets := support.NewService(db, log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// Run the reconciliation sweep alongside the HTTP server
	go reconciler.Run(ctx)

	handlers := api.NewHandlers(log, db, engine, reader, authSvc, tickets)
	server := api.NewAPIServer(&cfg.Server, handlers, authSvc, log)
	server.Start()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("Failed to stop API server cleanly", zap.Error(err))
	}

	log.Info("Server has been shut down.")
}
