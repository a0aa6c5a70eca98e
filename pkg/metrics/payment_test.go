package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPaymentMetricsExports(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewPaymentMetrics(reg)

	metrics.ObserveGatewayCall("mellat", "pay_request", 120*time.Millisecond)
	metrics.IncCallback("mellat", "confirmed")
	metrics.IncTransition("paying", "started")
	metrics.IncRefund("wallet", "settled")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "payment_callbacks_total", "provider", "mellat"); err != nil {
		t.Fatalf("fetch callbacks: %v", err)
	} else if got != 1 {
		t.Fatalf("expected callbacks=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "order_transitions_total", "to", "started"); err != nil {
		t.Fatalf("fetch transitions: %v", err)
	} else if got != 1 {
		t.Fatalf("expected transitions=1, got %f", got)
	}

	if got, err := fetchCounterValue(mfs, "refund_outcomes_total", "method", "wallet"); err != nil {
		t.Fatalf("fetch refunds: %v", err)
	} else if got != 1 {
		t.Fatalf("expected refunds=1, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "gateway_request_duration_seconds", "operation", "pay_request"); err != nil {
		t.Fatalf("fetch gateway duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestPaymentMetricsNilSafe(t *testing.T) {
	var metrics *PaymentMetrics
	metrics.ObserveGatewayCall("mellat", "pay_request", time.Second)
	metrics.IncCallback("", "")
	metrics.IncTransition("", "")
	metrics.IncRefund("", "")
}
