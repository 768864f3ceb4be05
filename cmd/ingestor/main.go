package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/predatorx7/logcore/pkg/auth"
	"github.com/predatorx7/logcore/pkg/batch"
	"github.com/predatorx7/logcore/pkg/connmgr"
	"github.com/predatorx7/logcore/pkg/health"
	"github.com/predatorx7/logcore/pkg/ingress"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Info().Msg(".env not found, continuing with process environment")
	}

	zerolog.SetGlobalLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Logger = logger

	// 1. Connection Manager
	connCfg := connmgr.Config{
		URI:          os.Getenv("MONGO_URI"),
		DatabaseName: os.Getenv("MONGO_DATABASE"),
		RetryDelay:   envDuration("RETRY_DELAY", 0),
	}
	if connCfg.URI == "" {
		connCfg.URI = "mongodb://localhost:27017/logcore"
	}
	conn := connmgr.New(connCfg, logger)

	// 2. Batch Manager
	batchCfg := batch.Config{
		DefaultCollection: envOr("DEFAULT_COLLECTION", batch.DefaultCollection),
		BatchSize:         envInt("BATCH_SIZE", batch.DefaultBatchSize),
		FlushInterval:     envDuration("FLUSH_INTERVAL", batch.DefaultFlushInterval),
		MaxMemoryUsage:    int64(envInt("MAX_MEMORY_USAGE_BYTES", batch.DefaultMaxMemoryUsage)),
	}
	db := batch.NewMongoDatabase(conn)
	batchMgr := batch.New(batchCfg, db, logger)

	// 3. Ingress Service
	ingressSvc := ingress.New(batchMgr, batchCfg.DefaultCollection)

	// 4. Health Reporter
	registry := prometheus.NewRegistry()
	reporter := health.New(conn, batchMgr, registry)

	// 5. Auth
	authSecret := os.Getenv("AUTH_SECRET")
	if authSecret == "" {
		log.Warn().Msg("AUTH_SECRET not set, using default 'dev-secret'")
		authSecret = "dev-secret"
	}
	verifier := func(key string) (bool, string, string, error) {
		return auth.VerifyAPIKey(key, []byte(authSecret))
	}

	// 6. Router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	handler := NewHandler(ingressSvc, verifier)
	r.Post("/v1/logs", handler.HandleLogs)
	r.Get("/status", HandleStatus(reporter))
	r.Get("/healthz", HandleHealthz(reporter))
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	addr := ":" + port

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("starting ingestion service")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ingressSvc.Shutdown(shutdownCtx, 0); err != nil {
		log.Error().Err(err).Msg("batch shutdown did not complete cleanly")
	}
	if err := conn.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("connection manager shutdown failed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server shutdown failed")
	}
	log.Info().Msg("server exiting")
}

func parseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
