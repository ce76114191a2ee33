package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/faultline-io/faultline-backend/internal/maintenance"
	"github.com/faultline-io/faultline-backend/internal/queue"
	"github.com/faultline-io/faultline-backend/pkg/config"
	"github.com/faultline-io/faultline-backend/pkg/db"
	"github.com/faultline-io/faultline-backend/pkg/instance"
	"github.com/faultline-io/faultline-backend/pkg/logger"
	"github.com/faultline-io/faultline-backend/pkg/metrics"
	"github.com/faultline-io/faultline-backend/pkg/migrate"
	"github.com/faultline-io/faultline-backend/pkg/outbox"
	"github.com/faultline-io/faultline-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "maintenance-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "maintenance-worker"

	logg = logger.New(logger.Options{
		ServiceName: "maintenance-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "error closing database", err)
		}
	}()

	err = migrate.MaybeRunDev(ctx, cfg, logg, dbClient)
	requireResource(ctx, logg, "dev migrations", err)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "error closing redis", err)
		}
	}()

	lock, err := maintenance.NewRedisLock(redisClient, redisClient.LockKey("maintenance"), cfg.Maintenance.LockTTL)
	requireResource(ctx, logg, "maintenance lock", err)

	outboxJob, err := maintenance.NewOutboxRetentionJob(maintenance.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  outbox.NewRepository(dbClient.DB()),
		Retention:   cfg.Outbox.RetentionDays,
		MinAttempts: cfg.Outbox.MaxAttempts,
	})
	requireResource(ctx, logg, "outbox retention job", err)

	deadLetterJob, err := maintenance.NewDeadLetterRetentionJob(maintenance.DeadLetterRetentionJobParams{
		Logger:    logg,
		Sweeper:   queue.NewDeadLetterRepository(dbClient.DB()),
		Retention: cfg.Maintenance.DeadLetterRetention,
	})
	requireResource(ctx, logg, "dead letter retention job", err)

	service, err := maintenance.NewService(maintenance.ServiceParams{
		Logger:   logg,
		Registry: maintenance.NewRegistry(outboxJob, deadLetterJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Maintenance.Interval,
	})
	requireResource(ctx, logg, "maintenance service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "maintenance worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "maintenance worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "maintenance worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
