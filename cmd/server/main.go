/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the bookstore server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load config (file + BOOKSTORE_* env)
  2. Build the zap logger
  3. Initialize the store (SQLite or in-memory)
  4. Optionally apply a seed file
  5. Wire services, API handler and router
  6. Start the challenge sweeper and the HTTP server
  7. Graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (optional)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides database.path
           Use ":memory:" for an in-memory database
  -seed    Seed JSON file, overrides seed.file
  -dev     Dev mode: scenario routes, codes exposed in prompts

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Stop the sweeper, close the database
  4. Exit

EXAMPLES:
  # Run with file database
  BOOKSTORE_AUTH_SECRET=s3cret ./server -db="./data/bookstore.db"

  # Local demo with scenarios
  ./server -dev -db=":memory:"

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
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

	"go.uber.org/zap"

	"github.com/warp/bookstore-engine/api"
	"github.com/warp/bookstore-engine/auth"
	"github.com/warp/bookstore-engine/catalog"
	"github.com/warp/bookstore-engine/commerce"
	memstore "github.com/warp/bookstore-engine/commerce/store"
	"github.com/warp/bookstore-engine/config"
	"github.com/warp/bookstore-engine/factory"
	"github.com/warp/bookstore-engine/logging"
	"github.com/warp/bookstore-engine/purchase"
	"github.com/warp/bookstore-engine/store/sqlite"
	"github.com/warp/bookstore-engine/topup"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port")
	dbPath := flag.String("db", "", "SQLite database path")
	seedPath := flag.String("seed", "", "Seed JSON file")
	dev := flag.Bool("dev", false, "Dev mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dev {
		cfg.Server.DevMode = true
		cfg.OTP.Expose = true
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = *dbPath
	}
	if *seedPath != "" {
		cfg.Seed.File = *seedPath
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development || cfg.Server.DevMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	store, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer closeStore()

	if cfg.Seed.File != "" {
		seed, err := factory.NewSeedFactory(commerce.SystemClock).LoadFile(cfg.Seed.File)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, store); err != nil {
			return err
		}
		logger.Info("seed applied", zap.String("file", cfg.Seed.File),
			zap.Int("users", len(seed.Users)), zap.Int("books", len(seed.Books)))
	}

	// Services
	secret := cfg.Auth.Secret
	if secret == "" {
		secret = "dev-" + commerce.NewID()
		logger.Warn("auth.secret not set, using a random secret; tokens will not survive a restart")
	}
	tokens, err := auth.NewTokens(secret, cfg.Auth.TokenTTL, commerce.SystemClock)
	if err != nil {
		return err
	}

	var notifier commerce.Notifier = commerce.NewLogNotifier(logger)
	if cfg.OTP.Expose {
		notifier = commerce.EchoNotifier{}
	}
	challenges := commerce.NewChallenges(store, commerce.ChallengeConfig{
		Codes:    commerce.RandomCode(cfg.OTP.Length),
		Notifier: notifier,
		TTL:      cfg.OTP.TTL,
		Clock:    commerce.SystemClock,
		Logger:   logger,
	})

	handler := api.NewHandler(api.Deps{
		Store:      store,
		Auth:       auth.NewService(store, tokens, commerce.SystemClock, logger),
		Catalog:    catalog.NewService(store, catalog.NewDirContent(cfg.Content.Dir), logger),
		Purchases:  purchase.NewService(store, challenges, commerce.SystemClock, logger),
		TopUps:     topup.NewService(store, challenges, commerce.SystemClock, logger),
		Challenges: challenges,
		Seeds:      factory.NewSeedFactory(commerce.SystemClock),
		Logger:     logger,
	})

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{DevMode: cfg.Server.DevMode, Logger: logger})

	sweeper := api.NewChallengeSweeper(challenges, logger)
	sweeper.CheckInterval = cfg.OTP.SweepInterval
	sweeper.Enabled = cfg.OTP.TTL > 0 && cfg.OTP.SweepInterval > 0
	sweeper.Start()
	defer sweeper.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Database.Driver),
			zap.Bool("dev_mode", cfg.Server.DevMode),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

type resettableStore interface {
	commerce.Store
	api.Resetter
}

func openStore(cfg *config.Config) (resettableStore, func(), error) {
	switch cfg.Database.Driver {
	case "memory":
		m := memstore.NewMemory()
		m.LockTimeout = cfg.Store.LockTimeout
		return m, func() {}, nil
	default:
		s, err := sqlite.NewWithOptions(cfg.Database.Path, sqlite.Options{LockTimeout: cfg.Store.LockTimeout})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}
