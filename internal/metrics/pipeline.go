package metrics

import "github.com/prometheus/client_golang/prometheus"

// Recommendation pipeline metrics.
var (
	ResolveTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Name:      "resolve_total",
			Help:      "Resolved surveys by terminal state",
		},
		[]string{"state"},
	)

	ResolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cardsense",
			Name:      "resolve_duration_seconds",
			Help:      "End-to-end survey resolution time",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
		},
		[]string{"state"},
	)

	SimilarityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cardsense",
			Name:      "similarity_score",
			Help:      "Best similarity score returned by the survey index",
			Buckets:   []float64{0.5, 0.8, 0.9, 0.95, 0.97, 0.98, 0.99, 0.995, 1},
		},
	)

	ParseStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cardsense",
			Name:      "parse_stage_total",
			Help:      "Oracle outputs by the parser stage that produced items",
		},
		[]string{"stage"},
	)

	CandidateCards = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "cardsense",
			Name:      "candidate_cards",
			Help:      "Cards left after the candidate filter",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(ResolveTotal)
	prometheus.MustRegister(ResolveDuration)
	prometheus.MustRegister(SimilarityScore)
	prometheus.MustRegister(ParseStageTotal)
	prometheus.MustRegister(CandidateCards)
	pipelineMetricsRegistered = true
}
