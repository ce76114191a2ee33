package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/faultline-io/faultline-backend/internal/events"
	"github.com/faultline-io/faultline-backend/internal/health"
	"github.com/faultline-io/faultline-backend/internal/notify"
	"github.com/faultline-io/faultline-backend/internal/ops"
	"github.com/faultline-io/faultline-backend/internal/projects"
	"github.com/faultline-io/faultline-backend/internal/queue"
	"github.com/faultline-io/faultline-backend/internal/users"
	"github.com/faultline-io/faultline-backend/pkg/config"
	"github.com/faultline-io/faultline-backend/pkg/db"
	"github.com/faultline-io/faultline-backend/pkg/instance"
	"github.com/faultline-io/faultline-backend/pkg/logger"
	"github.com/faultline-io/faultline-backend/pkg/metrics"
	"github.com/faultline-io/faultline-backend/pkg/migrate"
	"github.com/faultline-io/faultline-backend/pkg/outbox/idempotency"
	"github.com/faultline-io/faultline-backend/pkg/pubsub"
	"github.com/faultline-io/faultline-backend/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "notify-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "notify-worker"

	logg = logger.New(logger.Options{
		ServiceName: "notify-worker",
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

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "error closing pubsub client", err)
		}
	}()

	manager, err := idempotency.NewManager(redisClient, cfg.Outbox.IdempotencyTTL)
	requireResource(ctx, logg, "idempotency manager", err)

	throttler, err := notify.NewThrottler(redisClient, cfg.Notification, logg)
	requireResource(ctx, logg, "throttler", err)

	mailer, err := notify.NewHTTPMailer(cfg.Mail)
	requireResource(ctx, logg, "mailer", err)

	chat, err := notify.NewWebhookChatNotifier(cfg.Chat.WebhookURL)
	requireResource(ctx, logg, "chat notifier", err)

	notifyMetrics := metrics.NewNotifyMetrics(prometheus.DefaultRegisterer)

	dispatcher, err := notify.NewDispatcher(notify.DispatcherParams{
		Events:            events.NewRepository(dbClient.DB()),
		Projects:          projects.NewRepository(dbClient.DB()),
		Users:             users.NewRepository(dbClient.DB()),
		Idempotency:       manager,
		Throttler:         throttler,
		Mailer:            mailer,
		Chat:              chat,
		Metrics:           notifyMetrics,
		InternalProjectID: cfg.Ingest.InternalProjectID,
		AllowedOutbound:   cfg.Notification.AllowedOutboundAddrs,
		IsProd:            cfg.App.IsProd(),
		Logger:            logg,
	})
	requireResource(ctx, logg, "notification dispatcher", err)

	runner, err := queue.NewRunner(queue.RunnerParams{
		Name:          "notify",
		Subscription:  pubsubClient.NotificationsSubscription(),
		Handler:       dispatcher.Handle,
		DeadLetters:   queue.NewDeadLetterRepository(dbClient.DB()),
		MaxDeliveries: cfg.Notification.MaxDeliveries,
		Logger:        logg,
	})
	requireResource(ctx, logg, "queue runner", err)

	opsServer, err := newOpsServer(cfg, logg, dbClient, redisClient, pubsubClient)
	requireResource(ctx, logg, "ops server", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	go func() {
		if err := opsServer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(runCtx, "ops server failed", err)
		}
	}()

	logg.Info(runCtx, "notify worker ready")
	if err := runner.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "notify worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "notify worker shutting down gracefully")
}

func newOpsServer(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	pubsubClient *pubsub.Client,
) (*ops.Server, error) {
	checker, err := health.NewChecker(health.CheckerParams{
		CacheTTL:     cfg.Ops.HealthCacheTTL,
		ProbeTimeout: cfg.Ops.ProbeTimeout,
	})
	if err != nil {
		return nil, err
	}
	checker.Register("postgres", dbClient)
	checker.Register("redis", redisClient)
	checker.Register("pubsub", pubsubClient)
	return ops.NewServer(ops.ServerParams{
		Port:    cfg.Ops.Port,
		Checker: checker,
		Logger:  logg,
	})
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
