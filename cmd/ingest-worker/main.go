package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/faultline-io/faultline-backend/internal/analytics"
	"github.com/faultline-io/faultline-backend/internal/events"
	"github.com/faultline-io/faultline-backend/internal/health"
	"github.com/faultline-io/faultline-backend/internal/ingest"
	"github.com/faultline-io/faultline-backend/internal/ops"
	"github.com/faultline-io/faultline-backend/internal/parser"
	"github.com/faultline-io/faultline-backend/internal/projects"
	"github.com/faultline-io/faultline-backend/internal/queue"
	"github.com/faultline-io/faultline-backend/internal/stacks"
	"github.com/faultline-io/faultline-backend/pkg/bigquery"
	"github.com/faultline-io/faultline-backend/pkg/config"
	"github.com/faultline-io/faultline-backend/pkg/db"
	"github.com/faultline-io/faultline-backend/pkg/instance"
	"github.com/faultline-io/faultline-backend/pkg/logger"
	"github.com/faultline-io/faultline-backend/pkg/metrics"
	"github.com/faultline-io/faultline-backend/pkg/migrate"
	"github.com/faultline-io/faultline-backend/pkg/outbox"
	"github.com/faultline-io/faultline-backend/pkg/pubsub"
	"github.com/faultline-io/faultline-backend/pkg/redis"
	"github.com/faultline-io/faultline-backend/pkg/storage/gcs"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "ingest-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "ingest-worker"

	logg = logger.New(logger.Options{
		ServiceName: "ingest-worker",
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

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "gcs", err)
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(ctx, "error closing gcs client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "error closing bigquery client", err)
		}
	}()

	statsWriter, err := analytics.NewWriter(bqClient, analytics.Config{Table: cfg.BigQuery.IngestStatsTable})
	requireResource(ctx, logg, "ingest stats writer", err)
	defer func() {
		if err := statsWriter.Flush(ctx); err != nil {
			logg.Error(ctx, "error flushing ingest stats", err)
		}
	}()

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	broadcaster := stacks.NewOutboxBroadcaster(dbClient, outboxService, "ingest-worker")
	debouncer := stacks.NewDebouncer(broadcaster, cfg.Pipeline.StackChangedDebounce, logg)
	defer debouncer.Flush()

	stackRepo := stacks.NewRepository(dbClient.DB())
	resolver := stacks.NewResolver(stackRepo, redisClient, cfg.Pipeline.SignatureCacheTTL, logg)
	counter := stacks.NewCounter(stackRepo, resolver, debouncer, pipelineMetrics, logg)

	enrichment, err := ingest.EnrichmentRegistry(ingest.ContentFingerprinter{}, logg).
		Build(ctx, cfg.Ingest.DisabledPlugins, logg)
	requireResource(ctx, logg, "enrichment pipeline", err)

	upgrades, err := parser.UpgradeRegistry(logg).Build(ctx, nil, logg)
	requireResource(ctx, logg, "parser upgrade pipeline", err)
	parserService := parser.NewService([]parser.Variant{
		parser.NewV2Variant(),
		parser.NewV1Variant(upgrades),
	}, logg)

	consumer, err := ingest.NewConsumer(ingest.ConsumerParams{
		Blobs:           gcsClient,
		Parser:          parserService,
		Enrichment:      enrichment,
		Resolver:        resolver,
		StackRepo:       stackRepo,
		EventRepo:       events.NewRepository(dbClient.DB()),
		Projects:        projects.NewRepository(dbClient.DB()),
		Counter:         counter,
		DB:              dbClient,
		Outbox:          outboxService,
		Stats:           statsWriter,
		Metrics:         pipelineMetrics,
		MaxPayloadBytes: cfg.Ingest.MaxPayloadBytes,
		Logger:          logg,
	})
	requireResource(ctx, logg, "ingest consumer", err)

	runner, err := queue.NewRunner(queue.RunnerParams{
		Name:          "ingest",
		Subscription:  pubsubClient.EventsSubscription(),
		Handler:       consumer.Handle,
		DeadLetters:   queue.NewDeadLetterRepository(dbClient.DB()),
		MaxDeliveries: cfg.Ingest.MaxDeliveries,
		Metrics:       pipelineMetrics,
		Logger:        logg,
	})
	requireResource(ctx, logg, "queue runner", err)

	opsServer, err := newOpsServer(cfg, logg, dbClient, redisClient, pubsubClient, gcsClient, bqClient)
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

	logg.Info(runCtx, "ingest worker ready")
	if err := runner.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "ingest worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "ingest worker shutting down gracefully")
}

func newOpsServer(
	cfg *config.Config,
	logg *logger.Logger,
	dbClient *db.Client,
	redisClient *redis.Client,
	pubsubClient *pubsub.Client,
	gcsClient *gcs.Client,
	bqClient *bigquery.Client,
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
	checker.Register("gcs", gcsClient)
	checker.Register("bigquery", bqClient)
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
