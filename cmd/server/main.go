package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/token-ledger/internal/config"
	"github.com/openclaw/token-ledger/internal/database"
	"github.com/openclaw/token-ledger/internal/handler"
	"github.com/openclaw/token-ledger/internal/jobs"
	"github.com/openclaw/token-ledger/internal/middleware"
	"github.com/openclaw/token-ledger/internal/redis"
	"github.com/openclaw/token-ledger/internal/service"
	"github.com/openclaw/token-ledger/internal/sse"
	"github.com/openclaw/token-ledger/internal/store"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")
	}

	ledgerStore, closeStore, err := openStore(cfg, redisClient)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("failed to open ledger store")
	}
	defer closeStore.Close()
	log.Info().Str("backend", cfg.StoreBackend).Msg("ledger store ready")

	opts := []service.Option{service.WithDefaultTokenLimit(cfg.DefaultTokenLimit)}

	var eventsHandler *handler.UsageEventsHandler
	if redisClient != nil {
		broker := sse.NewBroker(redisClient)
		defer broker.Close()

		opts = append(opts, service.WithPublisher(broker))
		eventsHandler = handler.NewUsageEventsHandler(broker)
	}

	accounting := service.NewAccountingService(ledgerStore, opts...)
	accountHandler := handler.NewAccountHandler(accounting, eventsHandler)

	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"backend":   cfg.StoreBackend,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	// The event stream is long-lived, so the request timeout only wraps the
	// rest of the API.
	r.Route("/v1/accounts", func(r chi.Router) {
		r.Get("/{accountID}/events", accountHandler.Events)
		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Mount("/", accountHandler.Routes())
		})
	})

	if cfg.BackupEnabled() {
		backupJob := jobs.NewBackupJob(accounting, store.NewFileStore(cfg.BackupPath), cfg.BackupInterval())
		backupJob.Start()
		defer backupJob.Stop()
		log.Info().
			Str("path", cfg.BackupPath).
			Dur("interval", cfg.BackupInterval()).
			Msg("snapshot backup enabled")
	}

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openStore returns the configured snapshot backend and whatever must be
// closed with it.
func openStore(cfg *config.Config, redisClient *redis.Client) (store.Store, io.Closer, error) {
	switch cfg.StoreBackend {
	case config.StoreBackendPostgres:
		db, err := database.Connect(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), config.StorePingTimeout)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}

		pg := store.NewPostgresStore(db.DB)
		if err := pg.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return pg, db, nil

	case config.StoreBackendRedis:
		return store.NewRedisStore(redisClient.Client, cfg.RedisSnapshotKey), nopCloser{}, nil

	default:
		return store.NewFileStore(cfg.StorePath), nopCloser{}, nil
	}
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
