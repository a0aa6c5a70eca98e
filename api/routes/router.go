package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rgbgroup/infinity-backend/api/controllers"
	"github.com/rgbgroup/infinity-backend/api/middleware"
	"github.com/rgbgroup/infinity-backend/internal/adjustment"
	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/callback"
	"github.com/rgbgroup/infinity-backend/internal/orders"
	"github.com/rgbgroup/infinity-backend/pkg/auth/session"
	"github.com/rgbgroup/infinity-backend/pkg/config"
	"github.com/rgbgroup/infinity-backend/pkg/db"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
	"github.com/rgbgroup/infinity-backend/pkg/redis"
)

type sessionManager interface {
	session.AccessSessionChecker
	Rotate(context.Context, string, string) (string, string, error)
	Revoke(context.Context, string) error
}

// Deps carries everything the HTTP surface needs.
type Deps struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         *redis.Client
	Sessions      sessionManager
	Orders        *orders.Service
	Reconciler    *callback.Reconciler
	Adjustments   *adjustment.Engine
	RefundSettler *adjustment.Settler
	Refunds       adjustment.Repository
	AuditTrail    audit.Emitter
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	callbackPolicy := middleware.NewRateLimitPolicy(
		"callback",
		cfg.RateLimit.CallbackWindow,
		cfg.RateLimit.CallbackIPLimit,
	)
	apiPolicy := middleware.NewRateLimitPolicy(
		"api",
		cfg.RateLimit.APIWindow,
		cfg.RateLimit.APIIPLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/logout", controllers.AuthLogout(deps.Sessions, cfg.JWT, logg))
		r.Post("/refresh", controllers.AuthRefresh(deps.Sessions, cfg.JWT, logg))
	})

	r.Route("/api/orders", func(r chi.Router) {
		// Gateways land here after the customer leaves the payment page.
		// No bearer auth: the reconciler verifies the callback with the
		// provider before anything mutates.
		r.Route("/payment-callback", func(r chi.Router) {
			if deps.Redis != nil {
				r.Use(middleware.RateLimit(callbackPolicy, deps.Redis, logg))
			}
			r.Get("/", controllers.PaymentCallback(deps.Reconciler, logg))
			r.Post("/", controllers.PaymentCallback(deps.Reconciler, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
			if deps.Redis != nil {
				r.Use(middleware.Idempotency(deps.Redis, logg))
				r.Use(middleware.RateLimit(apiPolicy, deps.Redis, logg))
			}

			r.Post("/checkout", controllers.Checkout(deps.Orders, logg))
			r.Get("/", controllers.ListOrders(deps.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(deps.Orders, logg))
			r.Get("/{orderId}/events", controllers.OrderAuditTrail(deps.Orders, deps.AuditTrail, logg))
			r.Post("/{orderId}/retry-payment", controllers.RetryPayment(deps.Orders, logg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, deps.Sessions, logg))
		r.Use(middleware.RequireStaff(logg))
		if deps.Redis != nil {
			r.Use(middleware.Idempotency(deps.Redis, logg))
			r.Use(middleware.RateLimit(apiPolicy, deps.Redis, logg))
		}

		r.Route("/orders", func(r chi.Router) {
			r.Post("/{orderId}/adjust-items", controllers.AdminAdjustItems(deps.Adjustments, logg))
			r.Post("/{orderId}/cancel", controllers.AdminCancelOrder(deps.Adjustments, logg))
			r.Post("/{orderId}/barcode", controllers.AdminIssueBarcode(deps.Orders, logg))
			r.Post("/{orderId}/barcode/void", controllers.AdminVoidBarcode(deps.Orders, logg))
			r.Post("/{orderId}/confirm-delivery", controllers.AdminConfirmDelivery(deps.Orders, logg))
			r.Get("/{orderId}", controllers.OrderDetail(deps.Orders, logg))
			r.Get("/{orderId}/events", controllers.OrderAuditTrail(deps.Orders, deps.AuditTrail, logg))
		})
		r.Route("/refunds", func(r chi.Router) {
			r.Get("/", controllers.AdminPendingRefunds(deps.Refunds, logg))
			r.Post("/{refundId}/settle", controllers.AdminSettleRefund(deps.Refunds, deps.RefundSettler, logg))
		})
		r.Get("/audit-events", controllers.AdminAuditTrail(deps.AuditTrail, logg))
	})

	return r
}
