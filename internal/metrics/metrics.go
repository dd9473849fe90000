package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PipelineRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinesuggest_pipeline_runs_total",
			Help: "Recommendation pipeline runs by outcome",
		},
		[]string{"outcome"}, // "ok", "no_import", "completion_error", "no_array", "invalid_shape", "store_error"
	)

	SuggestionsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cinesuggest_suggestions_saved_total",
			Help: "Suggestion rows appended to the store",
		},
	)

	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cinesuggest_completion_duration_seconds",
			Help:    "Latency of completion calls",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60},
		},
		[]string{"provider"},
	)

	FeedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinesuggest_feed_fetches_total",
			Help: "Letterboxd feed fetches by result",
		},
		[]string{"result"},
	)

	PosterResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinesuggest_poster_resolutions_total",
			Help: "Poster resolutions by source",
		},
		[]string{"source"}, // "cache", "lookup", "miss", "reconciled", "error"
	)

	MetadataLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinesuggest_metadata_lookups_total",
			Help: "External metadata lookups by provider and result",
		},
		[]string{"provider", "result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cinesuggest_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
