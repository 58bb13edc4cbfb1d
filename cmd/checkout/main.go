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

	if cfg.DatabaseAutoMigrate {
		if err := repository.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply schema")
		}
	}

	log.Info().Msg("Database connection established")
	return db
}

// initializeRedis sets up the Redis client shared by the cache and the lock service
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
	log.Info().Bool("cluster_mode", cfg.RedisClusterMode).Msg("Redis connection established")

	return client
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// startHTTPServer serves until ctx is done, then drains in-flight requests
func startHTTPServer(ctx context.Context, g *errgroup.Group, cfg *config.Config, handler http.Handler) {
	server := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("address", server.Addr).Msg("Checkout Service HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("Shutting down Checkout Service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
}

func main() {
	cfg := config.LoadConfig("checkout-service")
	setupLogging(cfg)
	log.Info().Str("environment", cfg.Environment).Msg("Starting Checkout Service...")

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
	locker := redisClient.NewLockService(rdb, cfg.RedisKeyPrefix)

	publisher := kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaMaxAttempts)
	defer publisher.Close()

	reg := newRegistry()
	metrics := observability.NewMetrics(reg)
	store := repository.NewPostgresStore(db, cfg.TxMaxRetries)

	checkoutService, err := service.NewCheckoutService(store, locker, cache, metrics, service.CheckoutConfig{
		ReservationTTL: cfg.ReservationTTL,
		LockTTL:        cfg.CheckoutLockTTL,
		EnableLock:     cfg.EnableCheckoutLock,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create checkout service")
	}
	orderService := service.NewOrderService(store, cache, metrics, service.OrderConfig{})
	releaser, err := service.NewCleanupService(store, cache, metrics, service.CleanupConfig{
		BatchSize: cfg.CleanupBatchSize,
		Interval:  cfg.CleanupInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create release service")
	}

	log.Info().
		Dur("reservation_ttl", cfg.ReservationTTL).
		Bool("checkout_lock", cfg.EnableCheckoutLock).
		Dur("checkout_lock_ttl", cfg.CheckoutLockTTL).
		Int("tx_max_retries", cfg.TxMaxRetries).
		Msg("Service configuration loaded")

	handler := api.NewCheckoutHandler(checkoutService, orderService, releaser, metrics, reg,
		api.HealthCheck{Name: "postgres", Check: db.PingContext},
		api.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx, rdb) }},
	)

	relay := kafka.NewOutboxRelay(repository.NewOutboxRepository(db), publisher, metrics, kafka.RelayConfig{
		LockKey:      cfg.OutboxLockKey,
		BatchSize:    cfg.OutboxBatchSize,
		PollInterval: cfg.OutboxPollInterval,
	})

	g, gctx := errgroup.WithContext(ctx)
	startHTTPServer(gctx, g, cfg, handler.SetupCheckoutRoutes())
	g.Go(func() error { return relay.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Checkout Service exited with error")
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		log.Error().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("Checkout Service stopped")
}
