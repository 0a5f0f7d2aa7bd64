// Package main provides the entry point for the paper search service HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/helixir/paper-search-service/internal/cache"
	"github.com/helixir/paper-search-service/internal/config"
	"github.com/helixir/paper-search-service/internal/database"
	"github.com/helixir/paper-search-service/internal/events"
	"github.com/helixir/paper-search-service/internal/identity"
	"github.com/helixir/paper-search-service/internal/observability"
	"github.com/helixir/paper-search-service/internal/papersources"
	"github.com/helixir/paper-search-service/internal/papersources/openalex"
	"github.com/helixir/paper-search-service/internal/papersources/pubmed"
	"github.com/helixir/paper-search-service/internal/papersources/semanticscholar"
	"github.com/helixir/paper-search-service/internal/ratelimit"
	"github.com/helixir/paper-search-service/internal/search"
	httpserver "github.com/helixir/paper-search-service/internal/server/http"
)

const metricsNamespace = "papersearch"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("paper-search-service starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics(metricsNamespace)
	}

	// Result cache, backed by Postgres.
	var resultCache cache.Store
	if cfg.Cache.Enabled {
		resultCache = cache.NewPgStore(db)
	}

	// Rate limiter with the configured backend. The postgres backend keeps a
	// memory store as fallback so a database outage degrades accuracy, not
	// availability.
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limits := map[string]int{ratelimit.CategorySearch: cfg.RateLimit.SearchLimit}

		memStore := ratelimit.NewMemoryStore()
		memStore.StartJanitor(ctx, cfg.RateLimit.Window, cfg.RateLimit.Window)

		opts := []ratelimit.Option{}
		if metrics != nil {
			opts = append(opts, ratelimit.WithFallbackHook(metrics.RecordRateLimitFallback))
		}

		switch cfg.RateLimit.Backend {
		case "postgres":
			opts = append(opts, ratelimit.WithFallback(memStore))
			limiter = ratelimit.NewLimiter(ratelimit.NewPgStore(db), limits, cfg.RateLimit.Window, logger, opts...)
		case "memory":
			limiter = ratelimit.NewLimiter(memStore, limits, cfg.RateLimit.Window, logger, opts...)
		default:
			return fmt.Errorf("unsupported rate limit backend: %s", cfg.RateLimit.Backend)
		}
	}

	// Register the enabled paper sources.
	registry := papersources.NewRegistry(cfg.Search.SourceTimeout)
	registry.Register(pubmed.New(pubmed.Config{
		BaseURL:   cfg.PaperSources.PubMed.BaseURL,
		APIKey:    cfg.PaperSources.PubMed.APIKey,
		Timeout:   cfg.PaperSources.PubMed.Timeout,
		RateLimit: cfg.PaperSources.PubMed.RateLimit,
		PageSize:  cfg.PaperSources.PubMed.PageSize,
		Enabled:   cfg.PaperSources.PubMed.Enabled,
	}))
	registry.Register(openalex.New(openalex.Config{
		BaseURL:   cfg.PaperSources.OpenAlex.BaseURL,
		Email:     cfg.PaperSources.OpenAlex.Email,
		Timeout:   cfg.PaperSources.OpenAlex.Timeout,
		RateLimit: cfg.PaperSources.OpenAlex.RateLimit,
		PageSize:  cfg.PaperSources.OpenAlex.PageSize,
		Enabled:   cfg.PaperSources.OpenAlex.Enabled,
	}))
	registry.Register(semanticscholar.NewClient(semanticscholar.Config{
		BaseURL:   cfg.PaperSources.SemanticScholar.BaseURL,
		APIKey:    cfg.PaperSources.SemanticScholar.APIKey,
		Timeout:   cfg.PaperSources.SemanticScholar.Timeout,
		RateLimit: cfg.PaperSources.SemanticScholar.RateLimit,
		PageSize:  cfg.PaperSources.SemanticScholar.PageSize,
		Enabled:   cfg.PaperSources.SemanticScholar.Enabled,
	}, nil))

	// Search analytics events.
	var emitter events.Emitter = events.NoopEmitter{}
	if cfg.Kafka.Enabled {
		kafkaEmitter := events.NewKafkaEmitter(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchSize:    cfg.Kafka.BatchSize,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, logger)
		defer func() {
			if closeErr := kafkaEmitter.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close kafka emitter")
			}
		}()
		emitter = kafkaEmitter
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka emitter initialized")
	}

	searchService := search.NewService(search.Config{
		Registry:          registry,
		Cache:             resultCache,
		Emitter:           emitter,
		Metrics:           metrics,
		Logger:            logger,
		PageSize:          cfg.Search.PageSize,
		CacheTTL:          cfg.Cache.TTL,
		CacheWriteTimeout: cfg.Cache.WriteTimeout,
	})

	resolver := identity.NewResolver(cfg.Auth.JWTSecret)

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, searchService, db, limiter, resolver, metrics, logger)

	// Prometheus metrics on a dedicated listener.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	errCh := make(chan error, 2)
	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	logger.Info().Str("http_address", httpCfg.Address).Msg("paper-search-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down paper-search-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("paper-search-service shutdown complete")
	return nil
}
