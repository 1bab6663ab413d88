package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"mail-router/internal/common/cache"
	"mail-router/internal/common/logging"
	"mail-router/internal/config"
	"mail-router/internal/handlers"
	"mail-router/internal/notifier"
	"mail-router/internal/redis"
	"mail-router/internal/routing"
	"mail-router/internal/server"
	"mail-router/internal/storage/postgres"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logging.NewDefaultLogger().Error("invalid configuration", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(logging.Config{Level: logging.ParseLevel(cfg.LogLevel)})
	if err != nil {
		logging.NewDefaultLogger().Error("failed to initialize logger", err)
		os.Exit(1)
	}
	if za, ok := logger.(*logging.ZapAdapter); ok {
		defer za.Sync()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Rule store.
	pgPort, _ := strconv.Atoi(cfg.PostgresPort)
	store, err := postgres.NewStore(ctx, &postgres.Config{
		Host:     cfg.PostgresHost,
		Port:     pgPort,
		Database: cfg.PostgresDB,
		Username: cfg.PostgresUser,
		Password: cfg.PostgresPassword,
		SSLMode:  cfg.PostgresSSLMode,
	}, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", err)
		os.Exit(1)
	}
	defer store.Close()

	checks := map[string]handlers.HealthChecker{
		"postgres": func() error {
			hctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return store.Health(hctx)
		},
	}

	// Redis is optional: without it the rule cache is process-local and
	// invalidation relies on the TTL.
	if cfg.RedisAddress != "" {
		redisDB, _ := strconv.Atoi(cfg.RedisDB)
		poolSize, _ := strconv.Atoi(cfg.RedisPoolSize)
		redisClient, err := redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       redisDB,
			PoolSize: poolSize,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", err)
			os.Exit(1)
		}
		defer redisClient.Close()

		remote := cache.NewRedisCache(redisClient.Raw(), "mailroute:")
		checks["redis"] = redisClient.Health

		provider := buildProvider(store, remote, cfg, logger)
		if err := redisClient.SubscribeRuleChanges(ctx, func(ctx context.Context, event redis.RuleChangeEvent) {
			logger.Info("invalidating cached rules after edit",
				logging.String("organization_id", event.OrganizationID),
				logging.String("domain_id", event.DomainID))
			provider.Invalidate(ctx, event.OrganizationID, event.DomainID)
		}); err != nil {
			logger.Error("failed to subscribe to rule changes", err)
			os.Exit(1)
		}
		run(ctx, cfg, store, provider, checks, logger)
		return
	}

	provider := buildProvider(store, nil, cfg, logger)
	run(ctx, cfg, store, provider, checks, logger)
}

func buildProvider(store *postgres.Store, remote cache.Cache, cfg *config.Config, logger logging.Logger) *routing.CachingProvider {
	repo := postgres.NewRuleRepository(store)
	return routing.NewCachingProvider(repo, remote, cfg.CacheTTL(), logger)
}

// run wires the engine, the periodic cache flush and the HTTP API, then
// blocks until shutdown.
func run(ctx context.Context, cfg *config.Config, store *postgres.Store, provider *routing.CachingProvider, checks map[string]handlers.HealthChecker, logger logging.Logger) {
	sink := postgres.NewStatsStore(store)
	engine := routing.NewEngine(provider, sink, logger, routing.EngineConfig{
		Budget: cfg.Budget(),
		Merge:  routing.MergePolicy(cfg.MergePolicy),
	})

	webhookTimeout, _ := time.ParseDuration(cfg.WebhookTimeout)
	maxAttempts, _ := strconv.Atoi(cfg.WebhookMaxAttempts)
	n := notifier.New(notifier.Config{
		Timeout:       webhookTimeout,
		MaxAttempts:   maxAttempts,
		InitialDelay:  time.Second,
		BackoffFactor: 2.0,
	}, logger)

	// Safety net against missed invalidation events: periodically drop every
	// cached snapshot so the store is re-read.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CacheFlushSchedule, func() {
		fctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		provider.Flush(fctx)
		logger.Info("periodic rule cache flush completed")
	}); err != nil {
		logger.Error("invalid cache flush schedule", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	h := handlers.New(engine, provider, n, logger, checks)
	srv := server.New(h.Router(), cfg.Port, cfg.TLSCert, cfg.TLSKey, logger)
	errCh := srv.Start()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server failed", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", err)
		os.Exit(1)
	}

	logger.Info("server exited")
}
