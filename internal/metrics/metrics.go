// Package metrics exposes Prometheus counters for the trade engine.
//
//   - perpbot_submission_attempts_total{leg,result}  order submission attempts
//   - perpbot_nonce_retries_total{leg}               retries caused by nonce races
//   - perpbot_trades_total{result}                   trades by final state
//   - perpbot_trade_duration_seconds{result}         wall time per trade
//   - perpbot_price_provider_requests_total{provider,result}
//   - perpbot_leverage_updates_total{result}
//
// Collectors are registered with the default registry in init() and served
// at /metrics by the HTTP server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	submissionAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbot_submission_attempts_total",
			Help: "Order submission attempts by leg and result (ok|nonce|rejected|transport).",
		},
		[]string{"leg", "result"},
	)

	nonceRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbot_nonce_retries_total",
			Help: "Retries triggered by invalid nonce responses.",
		},
		[]string{"leg"},
	)

	trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbot_trades_total",
			Help: "Trades by result (done|failed|partial).",
		},
		[]string{"result"},
	)

	tradeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "perpbot_trade_duration_seconds",
			Help:    "Wall time from intent to final state.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"result"},
	)

	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbot_price_provider_requests_total",
			Help: "Price provider lookups by provider and result (ok|error).",
		},
		[]string{"provider", "result"},
	)

	leverageUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perpbot_leverage_updates_total",
			Help: "Leverage configuration outcomes (applied|failed).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		submissionAttempts,
		nonceRetries,
		trades,
		tradeDuration,
		providerRequests,
		leverageUpdates,
	)
}

// Handler serves the default registry in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SubmissionAttempt counts one order submission attempt.
func SubmissionAttempt(leg, result string) {
	submissionAttempts.WithLabelValues(leg, result).Inc()
}

// NonceRetry counts a retry caused by a nonce conflict.
func NonceRetry(leg string) {
	nonceRetries.WithLabelValues(leg).Inc()
}

// Trade records a finished trade.
func Trade(result string, elapsed time.Duration) {
	trades.WithLabelValues(result).Inc()
	tradeDuration.WithLabelValues(result).Observe(elapsed.Seconds())
}

// ProviderRequest counts one price provider lookup.
func ProviderRequest(provider string, ok bool) {
	providerRequests.WithLabelValues(provider, okLabel(ok)).Inc()
}

// LeverageUpdate counts a leverage configuration outcome.
func LeverageUpdate(applied bool) {
	result := "failed"
	if applied {
		result = "applied"
	}
	leverageUpdates.WithLabelValues(result).Inc()
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
