/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the heat-pump monitor server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, TOML file, environment, flags)
  2. Build the logger
  3. Open the SQLite store and seed an empty database
  4. Create forecast and OCR clients
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config     TOML configuration file
  -addr       HTTP listen address (default: :3000)
  -db         SQLite database path (default: data/waermepumpe.db)
              Use ":memory:" for an in-memory database
  -seed       Seed JSON imported into an empty database (default: SEED_DATA.json)
  -log-level  debug, info, warn or error
  -env        dev or prod
  -env-file   dotenv file (default: .env, ignored when missing)

ENVIRONMENT:
  HP_CONFIG, HP_ENV, HP_LOG_LEVEL, HP_ADDR, HP_DB, HP_SEED, HP_PASSWORD,
  HP_PASSWORD_HASH (bcrypt, preferred over HP_PASSWORD),
  HP_LATITUDE, HP_LONGITUDE, HP_TIMEZONE, HP_CORS_ORIGINS,
  HP_FORECAST_URL, HP_OCR_URL, HP_OCR_MODEL, HP_PV_KWP, HP_PV_EFFICIENCY,
  OPENROUTER_API_KEY

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/wp.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Production
  HP_ENV=prod HP_PASSWORD_HASH='$2a$10$...' OPENROUTER_API_KEY=... ./server

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kindenheim/heatpump-monitor/api"
	"github.com/kindenheim/heatpump-monitor/forecast"
	"github.com/kindenheim/heatpump-monitor/internal/config"
	"github.com/kindenheim/heatpump-monitor/internal/logging"
	"github.com/kindenheim/heatpump-monitor/ocr"
	"github.com/kindenheim/heatpump-monitor/store/sqlite"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg, version)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	seeded, err := store.Seed(ctx, cfg.SeedPath)
	if err != nil {
		return fmt.Errorf("failed to seed database: %w", err)
	}
	if seeded.Readings > 0 || seeded.Summaries > 0 {
		logger.Info("database seeded", "readings", seeded.Readings, "summaries", seeded.Summaries, "file", cfg.SeedPath)
	}

	// External clients
	forecaster := forecast.New(forecast.Options{
		BaseURL:    cfg.Forecast.BaseURL,
		Timeout:    cfg.Forecast.Timeout,
		WeatherTTL: cfg.Forecast.WeatherTTL,
		SolarTTL:   cfg.Forecast.SolarTTL,
		PV:         forecast.PVSystem{PeakKW: cfg.Forecast.PVPeakKW, Efficiency: cfg.Forecast.PVEfficiency},
		Logger:     logger.With("component", "forecast"),
	})
	reader := ocr.New(ocr.Options{
		BaseURL: cfg.OCR.BaseURL,
		APIKey:  cfg.OCR.APIKey,
		Model:   cfg.OCR.Model,
		Timeout: cfg.OCR.Timeout,
		Logger:  logger.With("component", "ocr"),
	})
	if !reader.Configured() {
		logger.Warn("OPENROUTER_API_KEY not set, photo recognition disabled")
	}

	tz, err := cfg.Location.TimeZone()
	if err != nil {
		return err
	}
	// The current month follows the household's timezone, not the host's.
	now := func() time.Time { return time.Now().In(tz) }

	// Initialize handler
	handler := api.NewHandler(api.Deps{
		Store:    store,
		Forecast: forecaster,
		OCR:      reader,
		Location: forecast.Location{
			Latitude:  cfg.Location.Latitude,
			Longitude: cfg.Location.Longitude,
			Timezone:  cfg.Location.Timezone,
		},
		Logger: logger,
		Now:    now,
	})

	gate, err := api.NewGate(api.GateOptions{
		Password:     cfg.Password,
		PasswordHash: cfg.PasswordHash,
		Secure:       cfg.Prod(),
	})
	if err != nil {
		return err
	}
	if !gate.Enabled() {
		logger.Warn("no password configured, the dashboard is open to everyone")
	}

	router := api.NewRouter(handler, api.RouterOptions{
		Gate:        gate,
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // OCR calls can be slow
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr, "env", cfg.Env, "db", cfg.DBPath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
