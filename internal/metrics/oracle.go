package metrics

import "github.com/prometheus/client_golang/prometheus"

// Oracle Prometheus metrics.
var (
	OracleRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Name:      "oracle_requests_total",
			Help:      "Oracle generate attempts by outcome",
		},
		[]string{"model", "status"}, // ok, http_4xx, http_5xx, timeout, connection
	)

	OracleRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cardsense",
			Name:      "oracle_request_duration_seconds",
			Help:      "Oracle generate call duration in seconds, retries included",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180, 360},
		},
		[]string{"model"},
	)

	OracleRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Name:      "oracle_retries_total",
			Help:      "Oracle generate retries by reason",
		},
		[]string{"model", "reason"},
	)

	OracleBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cardsense",
			Name:      "oracle_breaker_state",
			Help:      "Oracle circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	PromptTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cardsense",
			Name:      "prompt_tokens",
			Help:      "Token count of prompts sent to the oracle",
			Buckets:   prometheus.ExponentialBuckets(128, 2, 8),
		},
	)
)

var oracleMetricsRegistered bool

// RegisterOracleMetrics registers oracle metrics. Must be called once from main.
func RegisterOracleMetrics() {
	if oracleMetricsRegistered {
		return
	}
	prometheus.MustRegister(OracleRequestsTotal)
	prometheus.MustRegister(OracleRequestDuration)
	prometheus.MustRegister(OracleRetriesTotal)
	prometheus.MustRegister(OracleBreakerState)
	prometheus.MustRegister(PromptTokens)
	oracleMetricsRegistered = true
}
