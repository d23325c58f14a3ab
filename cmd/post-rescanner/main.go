// Command post-rescanner runs the consumer role for the post.rescan queue:
// fetch a post's comment tree, persist new comments, and fan out follow-up
// requests for anything left unexpanded (spec.md §4.4).
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
	"github.com/redis/go-redis/v9"

	"github.com/louisb0/talos/internal/adapter/adminapi"
	"github.com/louisb0/talos/internal/adapter/httpclient"
	"github.com/louisb0/talos/internal/adapter/queue/amqp"
	"github.com/louisb0/talos/internal/adapter/repo/postgres"
	"github.com/louisb0/talos/internal/config"
	"github.com/louisb0/talos/internal/domain"
	"github.com/louisb0/talos/internal/platform/logging"
	"github.com/louisb0/talos/internal/platform/ratelimit"
	"github.com/louisb0/talos/internal/platform/retry"
	"github.com/louisb0/talos/internal/platform/tracing"
	"github.com/louisb0/talos/internal/postrescanner"
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
	commentsRepo := postgres.NewCommentRepo(contextDB, txDB)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("redis url parse failed", slog.Any("error", err))
			os.Exit(1)
		}
		rdb = redis.NewClient(opts)
	}
	limiter := ratelimit.New(rdb, ratelimit.NewBucketConfigFromPerMinute(cfg.UpstreamRatePerMinute))

	httpClient := httpclient.New(httpclient.Config{
		HomeURL:          cfg.UpstreamHomeURL,
		UserAgent:        cfg.UserAgent,
		RequestsPerToken: cfg.RequestsPerToken,
		Timeout:          cfg.HTTPTimeout,
	}, limiter)

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

	svc := &postrescanner.Service{
		Posts:     postsRepo,
		Comments:  commentsRepo,
		Queue:     mq,
		HTTP:      httpClient,
		BaseURL:   cfg.UpstreamBaseURL,
		PostQueue: cfg.QueuePostRescan,
		PostSleep: cfg.TimeBetweenPostRescans,
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

	handleOnePassWithRetry := func(ctx context.Context, body []byte) error {
		return retry.Fixed(ctx, cfg.ComponentName, cfg.RetryAttempts, cfg.TimeBetweenAttempts, domain.IsRetryable, func(ctx context.Context) error {
			return svc.HandleMessage(ctx, body)
		})
	}

	loop := worker.ConsumerLoop{
		Component: cfg.ComponentName,
		Consume: func(ctx context.Context) error {
			return mq.ConsumeForever(ctx, cfg.QueuePostRescan, handleOnePassWithRetry)
		},
	}

	slog.Info("post rescanner starting", slog.String("env", cfg.AppEnv))
	loop.Run(ctx)
	slog.Info("post rescanner stopped")
}
