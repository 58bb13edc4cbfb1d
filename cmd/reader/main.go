package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Movchanets/MyMarketplace-sub003/internal/api"
	"github.com/Movchanets/MyMarketplace-sub003/internal/config"
	"github.com/Movchanets/MyMarketplace-sub003/internal/kafka"
	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
	redisClient "github.com/Movchanets/MyMarketplace-sub003/internal/redis"
	"github.com/Movchanets/MyMarketplace-sub003/internal/repository"
	"github.com/Movchanets/MyMarketplace-sub003/internal/service"
)

// setupLogging configures structured logging
func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = log.With().Str("service", cfg.ServiceName).Logger()
}

// initializeDatabase sets up and tests the database connection
func initializeDatabase(ctx context.Context, cfg *config.Config) *sqlx.DB {
	db, err := repository.Open(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMaxIdleConns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	log.Info().Msg("Database connection established")
	return db
}

// initializeCache sets up Redis cache with cluster support
func initializeCache(ctx context.Context, cfg *config.Config) (goredis.UniversalClient, *redisClient.CacheClient) {
	client := redisClient.NewUniversalClient(redisClient.ClientOptions{
		Addrs:       cfg.RedisAddrs,
		Password:    cfg.RedisPassword,
		ClusterMode: cfg.RedisClusterMode,
		MaxRetries:  cfg.RedisMaxRetries,
		PoolSize:    cfg.RedisPoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := redisClient.Ping(pingCtx, client); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}

	log.Info().Msg("Redis connection established")
	return client, redisClient.NewCacheClient(client, cfg.RedisTTL, cfg.RedisKeyPrefix)
}

func main() {
	cfg := config.LoadConfig("reader-service")
	setupLogging(cfg)
	log.Info().Msg("Starting Reader Service...")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.EnableTracing,
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     cfg.Version,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	db := initializeDatabase(ctx, cfg)
	defer db.Close()

	rdb, cache := initializeCache(ctx, cfg)
	defer cache.Close()

	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaConsumerGroup, cfg.KafkaEventsTopic)
	defer consumer.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	reader := service.NewAvailabilityService(repository.NewPostgresStore(db, cfg.TxMaxRetries), cache, metrics)
	handler := api.NewReaderHandler(reader, metrics, reg,
		api.HealthCheck{Name: "postgres", Check: db.PingContext},
		api.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx, rdb) }},
	)

	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      handler.SetupReaderRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("address", server.Addr).Msg("Reader Service HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	// Keeps cached availability in step with committed reservations.
	g.Go(func() error { return consumer.ConsumeEvents(gctx, reader) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down Reader Service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Reader Service exited with error")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Reader Service stopped")
}
