package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rgbgroup/infinity-backend/api/routes"
	"github.com/rgbgroup/infinity-backend/internal/adjustment"
	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/callback"
	"github.com/rgbgroup/infinity-backend/internal/discount"
	"github.com/rgbgroup/infinity-backend/internal/orders"
	"github.com/rgbgroup/infinity-backend/internal/payment"
	"github.com/rgbgroup/infinity-backend/internal/payment/mellat"
	"github.com/rgbgroup/infinity-backend/internal/payment/snappay"
	"github.com/rgbgroup/infinity-backend/internal/shipping"
	"github.com/rgbgroup/infinity-backend/internal/stock"
	"github.com/rgbgroup/infinity-backend/internal/wallet"
	"github.com/rgbgroup/infinity-backend/pkg/auth/session"
	"github.com/rgbgroup/infinity-backend/pkg/config"
	"github.com/rgbgroup/infinity-backend/pkg/db"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
	"github.com/rgbgroup/infinity-backend/pkg/metrics"
	"github.com/rgbgroup/infinity-backend/pkg/migrate"
	"github.com/rgbgroup/infinity-backend/pkg/outbox"
	"github.com/rgbgroup/infinity-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	payMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

	gateways := payment.NewRegistry()
	if cfg.Mellat.Enabled {
		gateways.Register(mellat.New(cfg.Mellat, logg, payMetrics))
	}
	if cfg.SnappPay.Enabled {
		gateways.Register(snappay.New(cfg.SnappPay, redisClient, logg, payMetrics))
	}
	if len(gateways.Providers()) == 0 {
		logg.Warn(context.Background(), "no payment gateways enabled, checkout will fail")
	}

	carrier := shipping.NewAnipoClient(cfg.Anipo, logg)

	gdb := dbClient.DB()
	ordersRepo := orders.NewRepository(gdb)
	stockRepo := stock.NewRepository(gdb)
	refunds := adjustment.NewRepository(gdb)
	discounts := discount.NewService(discount.NewRepository(gdb))
	auditTrail := audit.NewEmitter(gdb)
	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), logg)

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
	engine := adjustment.NewEngine(
		ordersRepo,
		refunds,
		stockRepo,
		discounts,
		auditTrail,
		dbClient,
		outboxSvc,
		gateways,
		settler,
		logg,
		payMetrics,
	)
	ordersSvc := orders.NewService(
		ordersRepo,
		stockRepo,
		discounts,
		auditTrail,
		dbClient,
		outboxSvc,
		gateways,
		carrier,
		cfg.App,
		logg,
		payMetrics,
	)
	reconciler := callback.NewReconciler(ordersRepo, auditTrail, dbClient, outboxSvc, gateways, cfg.App, logg, payMetrics)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
		"gateways": len(gateways.Providers()),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Sessions:      sessionManager,
			Orders:        ordersSvc,
			Reconciler:    reconciler,
			Adjustments:   engine,
			RefundSettler: settler,
			Refunds:       refunds,
			AuditTrail:    auditTrail,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
