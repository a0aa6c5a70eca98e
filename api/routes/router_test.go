package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/internal/adjustment"
	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/callback"
	"github.com/rgbgroup/infinity-backend/internal/orders"
	pkgAuth "github.com/rgbgroup/infinity-backend/pkg/auth"
	"github.com/rgbgroup/infinity-backend/pkg/config"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubSessions struct{}

func (stubSessions) HasSession(context.Context, string) (bool, error) { return true, nil }

func (stubSessions) Rotate(context.Context, string, string) (string, string, error) {
	return "", "", nil
}

func (stubSessions) Revoke(context.Context, string) error { return nil }

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "8080"},
		JWT: config.JWTConfig{
			Secret:            "router-test-secret",
			Issuer:            "infinity",
			ExpirationMinutes: 15,
			RefreshTTLHours:   720,
		},
		RateLimit: config.RateLimitConfig{
			CallbackWindow:  time.Minute,
			CallbackIPLimit: 60,
			APIWindow:       time.Minute,
			APIIPLimit:      300,
		},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "router-test"})
	var engine *adjustment.Engine
	var settler *adjustment.Settler
	var reconciler *callback.Reconciler
	var svc *orders.Service
	var trail audit.Emitter
	return NewRouter(Deps{
		Config:        cfg,
		Logger:        logg,
		DB:            stubPinger{},
		Sessions:      stubSessions{},
		Orders:        svc,
		Reconciler:    reconciler,
		Adjustments:   engine,
		RefundSettler: settler,
		AuditTrail:    trail,
	})
}

func mintToken(t *testing.T, cfg *config.Config, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   role,
		JTI:    uuid.NewString(),
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return token
}

func TestRouterHealthLive(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Infinity-Env"); got != "test" {
		t.Fatalf("expected env header test, got %q", got)
	}
}

func TestRouterHealthReadyReportsMissingCache(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without redis, got %d", rec.Code)
	}
}

func TestRouterServesMetrics(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouterRejectsUnauthenticatedOrderRoutes(t *testing.T) {
	router := newTestRouter(t, testConfig())

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/orders/checkout"},
		{http.MethodGet, "/api/orders"},
		{http.MethodPost, "/api/admin/orders/" + uuid.NewString() + "/cancel"},
		{http.MethodGet, "/api/admin/refunds"},
		{http.MethodGet, "/api/admin/audit-events"},
	}
	for _, tc := range paths {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}")))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestRouterBlocksCustomersFromAdminRoutes(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(t, cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/audit-events", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, cfg, enums.RoleUser))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer on admin surface, got %d", rec.Code)
	}
}

func TestRouterPaymentCallbackIsPublic(t *testing.T) {
	router := newTestRouter(t, testConfig())

	// No bearer token and no recognizable gateway fields: the handler
	// itself answers, proving the route has no auth gate.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/payment-callback", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty callback, got %d", rec.Code)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %q", envelope.Error.Code)
	}
}

func TestRouterUnknownRoute(t *testing.T) {
	router := newTestRouter(t, testConfig())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
