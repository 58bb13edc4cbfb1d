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
	log.Logger = log.With().
		Str("service", cfg.ServiceName).
		Str("instance_id", cfg.InstanceID).
		Logger()
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

// initializeRedis connects the cache used to drop stale availability after a sweep
func initializeRedis(ctx context.Context, cfg *config.Config) goredis.UniversalClient {
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
	return client
}

func main() {
	cfg := config.LoadConfig("sweeper-service")
	setupLogging(cfg)
	log.Info().Msg("Starting Sweeper Service...")

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

	rdb := initializeRedis(ctx, cfg)
	cache := redisClient.NewCacheClient(rdb, cfg.RedisTTL, cfg.RedisKeyPrefix)
	defer cache.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(reg)

	sweeper, err := service.NewCleanupService(repository.NewPostgresStore(db, cfg.TxMaxRetries), cache, metrics, service.CleanupConfig{
		BatchSize: cfg.CleanupBatchSize,
		Interval:  cfg.CleanupInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create sweeper")
	}

	ops := api.NewOpsHandler("sweeper-service", metrics, reg,
		api.HealthCheck{Name: "postgres", Check: db.PingContext},
	)
	server := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           ops.SetupOpsRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("address", server.Addr).Msg("Sweeper health server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Sweeper Service exited with error")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Sweeper Service stopped")
}
