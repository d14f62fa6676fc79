/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the benefit engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment / app.env)
  2. Build the logger
  3. Initialize SQLite store
  4. Seed the YAML catalog when CATALOG_PATH is set
  5. Create engine, API handler and router
  6. Start server with graceful shutdown

ENVIRONMENT:
  APP_ENV               development | production (default: development)
  HTTP_HOST, HTTP_PORT  Listen address (default: 0.0.0.0:8080)
  DB_PATH               SQLite database path, ":memory:" allowed
  CATALOG_PATH          Optional YAML catalog of programs and rules
  CORS_ALLOWED_ORIGINS  Comma-separated origins
  SHUTDOWN_TIMEOUT      Graceful shutdown budget (default: 30s)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (SHUTDOWN_TIMEOUT)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/benefit-engine/api"
	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/config"
	"github.com/warp/benefit-engine/factory"
	"github.com/warp/benefit-engine/logger"
	"github.com/warp/benefit-engine/metrics"
	"github.com/warp/benefit-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	// Initialize store
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DB.Path).Msg("failed to initialize database")
	}
	defer store.Close()

	if cfg.Catalog.Path != "" {
		catalog, err := factory.LoadCatalogFile(cfg.Catalog.Path)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load catalog")
		}
		res, err := catalog.Seed(context.Background(), store, time.Now())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to seed catalog")
		}
		log.Info().
			Int("programs", res.Programs).
			Int("rules", res.Rules).
			Int("beneficiaries", res.Beneficiaries).
			Int("areas", res.Areas).
			Msg("catalog seeded")
	}

	m := metrics.Benefits()
	engine := benefit.NewEngine(store,
		benefit.WithLogger(log.With().Str("component", "engine").Logger()),
		benefit.WithObserver(m),
	)

	handler := api.NewHandler(engine, store, log)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Metrics:        m,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", server.Addr).Str("env", cfg.Environment).Msg("starting benefit engine")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
