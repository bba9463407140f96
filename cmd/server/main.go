/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reward redemption engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Configure logging
  3. Open the payout vault
  4. Open the store and run migrations
  5. Seed the catalog, when CATALOG_PATH is set
  6. Wire the service, metrics and HTTP router
  7. Start the activation scheduler
  8. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      Database DSN or SQLite path (overrides DATABASE_URL)
           Use ":memory:" for in-memory database
  -env     .env file to load (default: .env)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler, waiting for a running sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  ENCRYPTION_KEY=... ./server -db="./data/redemptions.db"

  # Run in memory with a demo catalog
  ENCRYPTION_KEY=... CATALOG_PATH=catalog.yaml ./server -db=":memory:"

ENVIRONMENT:
  See config/config.go.

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Activation cron
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/redemption-engine/api"
	"github.com/warp/redemption-engine/config"
	"github.com/warp/redemption-engine/logging"
	"github.com/warp/redemption-engine/metrics"
	"github.com/warp/redemption-engine/rewards"
	"github.com/warp/redemption-engine/store/sqlstore"
	"github.com/warp/redemption-engine/vault"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides PORT)")
	dbURL := flag.String("db", "", "database DSN or SQLite path (overrides DATABASE_URL)")
	envFile := flag.String("env", ".env", ".env file to load")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbURL != "" {
		cfg.DatabaseURL = *dbURL
	}

	log, err := logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.Fatalf("Invalid logging configuration: %v", err)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	v, err := vault.New(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("open vault: %w", err)
	}

	// Initialize store
	store, err := sqlstore.Open(cfg.DatabaseDriver, cfg.DatabaseURL, sqlstore.WithLogger(log))
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	clientIDs := cfg.ClientIDs
	if cfg.CatalogPath != "" {
		catalog, err := rewards.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return err
		}
		stats, err := catalog.Seed(ctx, store, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("seed catalog: %w", err)
		}
		log.WithFields(logrus.Fields{
			"path":    cfg.CatalogPath,
			"tenants": stats.Tenants,
			"tiers":   stats.Tiers,
			"rewards": stats.Rewards,
			"users":   stats.Users,
		}).Info("Catalog seeded")

		if len(clientIDs) == 0 {
			for _, t := range catalog.Tenants {
				clientIDs = append(clientIDs, t.ClientID)
			}
		}
	}

	m := metrics.New()
	svc := rewards.NewService(store, v,
		rewards.WithLogger(log),
		rewards.WithObserver(m),
	)

	// Initialize handler
	handler := api.NewHandler(svc, log)
	handler.Health = store.Ping

	limiter := api.NewRateLimiter(cfg.ClaimRateLimit, cfg.ClaimRateBurst)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        m,
		ClaimLimiter:   limiter,
	})

	// Start scheduler
	scheduler := api.NewActivationScheduler(svc, clientIDs, log)
	scheduler.Schedule = cfg.ActivationSchedule
	scheduler.Enabled = cfg.ActivationEnabled && len(clientIDs) > 0
	if cfg.ActivationEnabled && len(clientIDs) == 0 {
		log.Warn("[Scheduler] No CLIENT_IDS configured")
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	// Idle rate-limit buckets are dropped every few minutes.
	stopCleanup := make(chan struct{})
	defer close(stopCleanup)
	go func() {
		t := time.NewTicker(5 * time.Minute)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				if n := limiter.Cleanup(); n > 0 {
					log.WithField("removed", n).Debug("Rate limiter buckets cleaned up")
				}
			case <-stopCleanup:
				return
			}
		}
	}()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"port":   cfg.Port,
			"driver": cfg.DatabaseDriver,
		}).Infof("Server starting on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("listen: %w", err)
	case <-quit:
	}

	log.Info("Shutting down server...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
