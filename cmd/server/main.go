/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the time-exchange ledger server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration from environment (LEDGER_* variables)
  2. Configure structured logging
  3. Open the store (SQLite or PostgreSQL)
  4. Wire engine, gate, and HTTP handler
  5. Start the settlement sweep scheduler
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the settlement scheduler, wait for a running sweep
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with the default embedded SQLite database
  ./server

  # Run against PostgreSQL
  LEDGER_DB_DRIVER=postgres LEDGER_DATABASE_URL=postgres://... ./server

SEE ALSO:
  - config/config.go: environment variables
  - api/server.go: router configuration
*/
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/timeshare/ledger-engine/api"
	"github.com/timeshare/ledger-engine/config"
	"github.com/timeshare/ledger-engine/gate"
	"github.com/timeshare/ledger-engine/ledger"
	"github.com/timeshare/ledger-engine/store/postgres"
	"github.com/timeshare/ledger-engine/store/sqlite"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	ctx := context.Background()

	// Open the store
	var st ledger.Store
	var closeStore func()
	switch cfg.DBDriver {
	case "postgres":
		pg, err := postgres.New(ctx, cfg.DSN(), postgres.PoolConfig{MaxConns: 10, MinConns: 2})
		if err != nil {
			log.WithError(err).Fatal("failed to connect to postgres")
		}
		st, closeStore = pg, pg.Close
	default:
		sq, err := sqlite.New(cfg.DBPath)
		if err != nil {
			log.WithError(err).Fatal("failed to open sqlite database")
		}
		st, closeStore = sq, func() { sq.Close() }
	}
	defer closeStore()

	// Domain wiring
	bonus, err := ledger.BonusPolicyByName(cfg.BonusPolicy)
	if err != nil {
		log.WithError(err).Fatal("invalid bonus policy")
	}
	engine := ledger.NewEngine(st, bonus)

	g := gate.NewGate(st)
	g.InitialGrant = ledger.NewHoursFromInt(cfg.InitialGrantHours)

	handler := api.NewHandler(engine, g, log)
	router := api.NewRouter(handler)

	// Settlement sweep
	scheduler := api.NewSettlementScheduler(engine, cfg.SettlementGrace, log)
	if err := scheduler.Start(cfg.SettlementSweepSpec); err != nil {
		log.WithError(err).Fatal("failed to start settlement scheduler")
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{
			"addr":   cfg.Addr(),
			"driver": cfg.DBDriver,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	scheduler.Stop()

	log.Info("server stopped")
}
