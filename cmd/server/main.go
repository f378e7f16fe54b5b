package main

import (
	"context"
	"errors"
	"flag"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hako/durafmt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/macrolens/foodfacts/config"
	httpDelivery "github.com/macrolens/foodfacts/internal/delivery/http"
	"github.com/macrolens/foodfacts/internal/domain"
	"github.com/macrolens/foodfacts/internal/infrastructure/cache"
	"github.com/macrolens/foodfacts/internal/infrastructure/openfoodfacts"
	"github.com/macrolens/foodfacts/internal/infrastructure/productstore"
	"github.com/macrolens/foodfacts/internal/usecase"
)

const shutdownTimeout = 15 * time.Second

func main() {
	envPath := flag.String("env", "", "path to .env file")
	logFormat := flag.String("log-format", "console", "log format (one of 'json', 'console')")
	flag.Parse()

	// Set up structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var logger zerolog.Logger
	switch *logFormat {
	case "console":
		output := zerolog.ConsoleWriter{Out: os.Stdout}
		logger = zerolog.New(output).With().Timestamp().Logger()
	case "json":
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		log.Fatal().Str("log_format", *logFormat).Msg("unknown log format given")
	}
	stdlog.SetFlags(0)
	stdlog.SetOutput(logger)

	// Load the .env file before reading configuration from the environment
	if err := config.LoadEnvFile(*envPath); err != nil {
		logger.Fatal().Err(err).Str("env_path", *envPath).Msg("error loading .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if !cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	logger.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Str("store_type", cfg.Store.Type).
		Str("store_path", cfg.Store.Path).
		Msg("starting foodfacts server")

	// Initialize infrastructure dependencies
	backend, err := newBackend(cfg.Store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not open product store")
	}
	store := productstore.New(backend, logger)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing product store")
		}
	}()

	upstream := openfoodfacts.NewClient(openfoodfacts.Config{
		BaseURL:           cfg.Upstream.BaseURL,
		UserAgent:         cfg.Upstream.UserAgent,
		Timeout:           cfg.Upstream.Timeout,
		RequestsPerMinute: cfg.Upstream.RequestsPerMinute,
	}, logger)
	logger.Info().
		Str("base_url", cfg.Upstream.BaseURL).
		Int("requests_per_minute", cfg.Upstream.RequestsPerMinute).
		Str("timeout", durafmt.Parse(cfg.Upstream.Timeout).String()).
		Msg("upstream API configured")

	var searchCache domain.SearchResultCache
	if cfg.SearchCache.Enabled {
		searchCache = cache.NewSearchCache(
			cache.NewMemoryStorage(cfg.SearchCache.StorageQuotaBytes),
			cache.SearchCacheConfig{
				TTL:               cfg.SearchCache.TTL,
				MaxTotalSizeBytes: cfg.SearchCache.MaxTotalSizeBytes,
				MaxEntries:        cfg.SearchCache.MaxEntries,
			},
			logger,
		)
		logger.Info().
			Str("ttl", durafmt.Parse(cfg.SearchCache.TTL).LimitFirstN(2).String()).
			Int64("max_total_size_bytes", cfg.SearchCache.MaxTotalSizeBytes).
			Int("max_entries", cfg.SearchCache.MaxEntries).
			Msg("search result cache enabled")
	}

	// Initialize usecase layer
	syncer := usecase.NewSyncWorker(store, usecase.SyncWorkerConfig{
		MaxRetries: cfg.Sync.MaxRetries,
		BaseDelay:  cfg.Sync.BaseDelay,
	}, logger)
	orchestrator := usecase.NewSearchOrchestrator(store, upstream, searchCache, syncer, usecase.SearchConfig{
		FetchSize:       cfg.Upstream.FetchSize,
		UpstreamTimeout: cfg.Upstream.Timeout,
	}, logger)
	reporter := usecase.NewStatsReporter(store)

	// Create HTTP handler with dependencies
	handler := httpDelivery.NewHandler(orchestrator, reporter, searchCache, logger)
	router := httpDelivery.SetupRouter(cfg, handler, logger)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-serverCtx.Done()
	logger.Info().Str("timeout", durafmt.Parse(shutdownTimeout).String()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	start := time.Now()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down HTTP server")
	}
	if err := syncer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("pending background syncs were abandoned")
	}
	logger.Info().Str("took", durafmt.Parse(time.Since(start)).LimitFirstN(2).String()).Msg("shutdown complete")
}

// newBackend opens the persistence backend selected by the store config
func newBackend(cfg config.StoreConfig, logger zerolog.Logger) (productstore.Backend, error) {
	switch cfg.Type {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return productstore.NewSQLiteBackend(cfg.Path, logger)
	default:
		return productstore.NewFileBackend(afero.NewOsFs(), cfg.Path), nil
	}
}
