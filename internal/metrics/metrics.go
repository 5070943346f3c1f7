// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	paymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_transitions_total",
			Help: "Payment lifecycle transitions by resulting status",
		},
		[]string{"status"},
	)

	approvalGateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "approval_gate_rejections_total",
			Help: "Staff approval gate rejections by reason",
		},
		[]string{"reason"},
	)

	settlementFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_submit_failures_total",
			Help: "Committed payments the settlement network rejected",
		},
	)

	authSweepExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sweep_expired_total",
			Help: "Auth windows failed by the background sweep",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(paymentTransitionsTotal)
	prometheus.MustRegister(approvalGateRejectionsTotal)
	prometheus.MustRegister(settlementFailuresTotal)
	prometheus.MustRegister(authSweepExpiredTotal)
}

// ObserveRequest records one completed HTTP request.
func ObserveRequest(method, route, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

// RecordTransition counts a persisted payment transition.
func RecordTransition(status string) {
	paymentTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordGateRejection counts an approval gate rejection.
func RecordGateRejection(reason string) {
	approvalGateRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordSettlementFailure counts a submission the settlement network rejected.
func RecordSettlementFailure() {
	settlementFailuresTotal.Inc()
}

// RecordSweepExpired counts windows failed by the sweep job.
func RecordSweepExpired(n int) {
	authSweepExpiredTotal.Add(float64(n))
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
