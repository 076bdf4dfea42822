package metrics

import "github.com/prometheus/client_golang/prometheus"

// Survey fingerprint metrics: embedding calls, the vector cache in front of
// them and the fingerprints that came out.
var (
	// EmbeddingRequestsTotal status is "success" or the failure kind
	// (timeout, canceled, http_<code>, transport, empty_response).
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Embedding calls made to fingerprint surveys, by outcome",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cardsense",
			Subsystem: "embedding",
			Name:      "request_duration_seconds",
			Help:      "Latency of successful embedding calls",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"provider", "model"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Subsystem: "embedding",
			Name:      "tokens_total",
			Help:      "Tokens reported by the embedding provider",
		},
		[]string{"provider", "model", "type"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Subsystem: "embedding",
			Name:      "cache_total",
			Help:      "Survey vector cache lookups",
		},
		[]string{"result"},
	)

	// FingerprintsTotal result is "ok" or "degraded" (zero vector served).
	FingerprintsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Subsystem: "fingerprint",
			Name:      "built_total",
			Help:      "Survey fingerprints built",
		},
		[]string{"result"},
	)
)

var fingerprintMetricsRegistered bool

// RegisterEmbeddingMetrics registers the fingerprint and embedding collectors.
func RegisterEmbeddingMetrics() {
	if fingerprintMetricsRegistered {
		return
	}
	for _, c := range []prometheus.Collector{
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingTokensTotal,
		EmbeddingCacheTotal,
		FingerprintsTotal,
	} {
		prometheus.MustRegister(c)
	}
	fingerprintMetricsRegistered = true
}
