package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/fulfillment-core/internal/activities"
	"github.com/angelmondragon/fulfillment-core/internal/ops"
	"github.com/angelmondragon/fulfillment-core/internal/saga"
	"github.com/angelmondragon/fulfillment-core/pkg/config"
	"github.com/angelmondragon/fulfillment-core/pkg/db"
	"github.com/angelmondragon/fulfillment-core/pkg/discovery"
	"github.com/angelmondragon/fulfillment-core/pkg/instance"
	"github.com/angelmondragon/fulfillment-core/pkg/loadbalancer"
	"github.com/angelmondragon/fulfillment-core/pkg/logger"
	"github.com/angelmondragon/fulfillment-core/pkg/metrics"
	"github.com/angelmondragon/fulfillment-core/pkg/migrate"
	"github.com/angelmondragon/fulfillment-core/pkg/outbox"
	"github.com/angelmondragon/fulfillment-core/pkg/outbox/idempotency"
	"github.com/angelmondragon/fulfillment-core/pkg/pubsub"
	"github.com/angelmondragon/fulfillment-core/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "saga-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "saga-worker"

	logg = logger.New(logger.Options{
		ServiceName: "saga-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	registry := prometheus.NewRegistry()
	sagaMetrics := metrics.NewSagaMetrics(registry)
	balancerMetrics := metrics.NewBalancerMetrics(registry)

	strategy, err := loadbalancer.New(cfg.LoadBalancer.ParsedStrategy())
	if err != nil {
		logg.Error(context.Background(), "failed to build balancer strategy", err)
		os.Exit(1)
	}

	discoveryRegistry, err := discovery.NewRegistry(redisClient, cfg.Discovery)
	if err != nil {
		logg.Error(context.Background(), "failed to build discovery registry", err)
		os.Exit(1)
	}

	activityClient, err := activities.NewClient(activities.ClientParams{
		Discovery: discoveryRegistry,
		Strategy:  strategy,
		Config:    cfg.Activities,
		Logger:    logg,
		Metrics:   balancerMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create activity client", err)
		os.Exit(1)
	}

	sagaService, err := saga.NewService(saga.ServiceParams{
		Config:     cfg.Saga,
		Logger:     logg,
		Tx:         dbClient,
		Repository: saga.NewRepository(dbClient.DB()),
		Outbox:     outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Activities: activityClient,
		Metrics:    sagaMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create saga service", err)
		os.Exit(1)
	}

	dedup, err := idempotency.NewManager(redisClient, cfg.Eventing.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create idempotency manager", err)
		os.Exit(1)
	}

	worker, err := NewWorker(WorkerParams{
		Config:      cfg.Saga,
		Logger:      logg,
		Subscriber:  pubsubClient.SagaSubscription(),
		Saga:        sagaService,
		Idempotency: dedup,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create saga worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "saga-worker",
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting saga worker")

	opsServer := ops.NewServer(cfg.App.Port, logg, registry, map[string]ops.Pinger{
		"database": dbClient,
		"redis":    redisClient,
		"pubsub":   pubsubClient,
	})
	go func() {
		if err := opsServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "ops server stopped unexpectedly", err)
			stop()
		}
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "saga worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "saga worker shutting down gracefully")
}
