package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rgbgroup/infinity-backend/internal/adjustment"
	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/callback"
	"github.com/rgbgroup/infinity-backend/internal/cron"
	"github.com/rgbgroup/infinity-backend/internal/orders"
	"github.com/rgbgroup/infinity-backend/internal/payment"
	"github.com/rgbgroup/infinity-backend/internal/payment/mellat"
	"github.com/rgbgroup/infinity-backend/internal/payment/snappay"
	"github.com/rgbgroup/infinity-backend/internal/wallet"
	"github.com/rgbgroup/infinity-backend/pkg/config"
	"github.com/rgbgroup/infinity-backend/pkg/db"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
	"github.com/rgbgroup/infinity-backend/pkg/metrics"
	"github.com/rgbgroup/infinity-backend/pkg/migrate"
	"github.com/rgbgroup/infinity-backend/pkg/outbox"
	"github.com/rgbgroup/infinity-backend/pkg/redis"
)

const lockKeyFormat = "inf:reconcile-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "reconcile-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "reconcile-worker"

	logg = logger.New(logger.Options{
		ServiceName: "reconcile-worker",
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

	payMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

	gateways := payment.NewRegistry()
	if cfg.Mellat.Enabled {
		gateways.Register(mellat.New(cfg.Mellat, logg, payMetrics))
	}
	if cfg.SnappPay.Enabled {
		gateways.Register(snappay.New(cfg.SnappPay, redisClient, logg, payMetrics))
	}

	gdb := dbClient.DB()
	ordersRepo := orders.NewRepository(gdb)
	refunds := adjustment.NewRepository(gdb)
	auditTrail := audit.NewEmitter(gdb)
	outboxRepo := outbox.NewRepository(gdb)
	outboxSvc := outbox.NewService(outboxRepo, logg)

	reconciler := callback.NewReconciler(ordersRepo, auditTrail, dbClient, outboxSvc, gateways, cfg.App, logg, payMetrics)
	settler := adjustment.NewSettler(
		refunds,
		ordersRepo,
		wallet.NewRepository(gdb),
		gateways,
		dbClient,
		auditTrail,
		outboxSvc,
		cfg.Refund,
		logg,
		payMetrics,
	)

	contractJob, err := cron.NewContractReconcileJob(cron.ContractReconcileJobParams{
		Logger:     logg,
		Reconciler: reconciler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create contract reconcile job", err)
		os.Exit(1)
	}
	refundJob, err := cron.NewRefundSettleJob(cron.RefundSettleJobParams{
		Logger:  logg,
		Settler: settler,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create refund settle job", err)
		os.Exit(1)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create worker lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(contractJob, refundJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Refund.PollInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Refund.PollInterval.String(),
	})
	logg.Info(ctx, "starting reconcile worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "reconcile worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "reconcile worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
