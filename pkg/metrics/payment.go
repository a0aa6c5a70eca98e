package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records gateway traffic and lifecycle outcomes.
type PaymentMetrics struct {
	gatewayDuration *prometheus.HistogramVec
	callbacks       *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	refunds         *prometheus.CounterVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Duration of outbound payment gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "operation"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Gateway callbacks received, by provider and outcome.",
	}, []string{"provider", "outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order state transitions applied.",
	}, []string{"from", "to"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "refund_outcomes_total",
		Help: "Refund settlement outcomes, by method and status.",
	}, []string{"method", "status"})
	reg.MustRegister(gatewayDuration, callbacks, transitions, refunds)
	return &PaymentMetrics{
		gatewayDuration: gatewayDuration,
		callbacks:       callbacks,
		transitions:     transitions,
		refunds:         refunds,
	}
}

// ObserveGatewayCall records the duration of one gateway operation.
func (p *PaymentMetrics) ObserveGatewayCall(provider, operation string, duration time.Duration) {
	if p == nil || p.gatewayDuration == nil {
		return
	}
	p.gatewayDuration.WithLabelValues(normalizeLabel(provider), normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncCallback counts a received gateway callback.
func (p *PaymentMetrics) IncCallback(provider, outcome string) {
	if p == nil || p.callbacks == nil {
		return
	}
	p.callbacks.WithLabelValues(normalizeLabel(provider), normalizeLabel(outcome)).Inc()
}

// IncTransition counts an applied order state transition.
func (p *PaymentMetrics) IncTransition(from, to string) {
	if p == nil || p.transitions == nil {
		return
	}
	p.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

// IncRefund counts a refund outcome.
func (p *PaymentMetrics) IncRefund(method, status string) {
	if p == nil || p.refunds == nil {
		return
	}
	p.refunds.WithLabelValues(normalizeLabel(method), normalizeLabel(status)).Inc()
}
