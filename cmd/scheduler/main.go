// Command scheduler runs the producer role: it periodically scans
// subscriptions and due post rescans and publishes work onto the broker
// (spec.md §4.2).
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/louisb0/talos/internal/adapter/adminapi"
	"github.com/louisb0/talos/internal/adapter/queue/amqp"
	"github.com/louisb0/talos/internal/adapter/repo/postgres"
	"github.com/louisb0/talos/internal/config"
	"github.com/louisb0/talos/internal/platform/logging"
	"github.com/louisb0/talos/internal/platform/seed"
	"github.com/louisb0/talos/internal/platform/tracing"
	"github.com/louisb0/talos/internal/scheduler"
	"github.com/louisb0/talos/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		slog.Error("config validate failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	shutdownTracer, err := tracing.Setup(ctx, cfg, os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		slog.Error("schema migration failed", slog.Any("error", err))
		os.Exit(1)
	}

	contextDB := postgres.NewContextDB(pool)
	txDB := postgres.NewTxDB(pool)
	subsRepo := postgres.NewSubscriptionRepo(contextDB)
	postsRepo := postgres.NewPostRepo(contextDB, txDB)

	if cfg.SubscriptionsSeedFile != "" && (cfg.IsDev() || cfg.IsTest()) {
		rows, err := seed.Load(cfg.SubscriptionsSeedFile)
		if err != nil {
			slog.Error("seed load failed", slog.Any("error", err))
			os.Exit(1)
		}
		if err := subsRepo.Seed(ctx, rows); err != nil {
			slog.Error("seed insert failed", slog.Any("error", err))
			os.Exit(1)
		}
	}

	queueURL := amqp.BuildURL(cfg.BrokerUser, cfg.BrokerPassword, cfg.BrokerHost, cfg.BrokerPort)
	mq, err := amqp.New(amqp.Config{
		URL:      queueURL,
		Exchange: cfg.BrokerExchange,
		Queues:   []string{cfg.QueueCommunityRescan, cfg.QueuePostRescan},
	})
	if err != nil {
		slog.Error("queue connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = mq.Close() }()

	svc := &scheduler.Service{
		Subs:           subsRepo,
		Posts:          postsRepo,
		Batch:          postsRepo,
		Queue:          mq,
		CommunityQueue: cfg.QueueCommunityRescan,
		PostQueue:      cfg.QueuePostRescan,
	}

	loop := worker.ProducerLoop{
		Component:     cfg.ComponentName,
		StartupSleep:  cfg.StartupSleep,
		Interval:      cfg.RescanProducerSleepSecs,
		RetryAttempts: cfg.RetryAttempts,
		RetryDelay:    cfg.TimeBetweenAttempts,
		Pass:          svc.RunPass,
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":"+strconv.Itoa(cfg.MetricsPort), mux); err != nil {
			slog.Error("metrics server error", slog.Any("error", err))
		}
	}()

	adminSrv := adminapi.New(adminapi.Config{
		Username:     cfg.AdminUsername,
		PasswordHash: cfg.AdminPasswordHash,
		AuthEnabled:  cfg.AdminAuthEnabled(),
	}, subsRepo, pool)
	go func() {
		if err := http.ListenAndServe(":"+strconv.Itoa(cfg.AdminPort), adminSrv); err != nil {
			slog.Error("admin server error", slog.Any("error", err))
		}
	}()

	slog.Info("scheduler starting", slog.String("env", cfg.AppEnv))
	loop.Run(ctx)
	slog.Info("scheduler stopped")
}
