package ai

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	scoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "score_duration_seconds",
		Help:      "Duration of scoring provider requests",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"provider"})

	scoreFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "score_failures_total",
		Help:      "Number of scoring provider failures by kind",
	}, []string{"provider", "kind"})

	scoreFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "score_fallbacks_total",
		Help:      "Number of times a provider chain moved on to the next provider",
	}, []string{"from", "to"})

	scoreFlags = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gema",
		Subsystem: "ai",
		Name:      "score_flags_total",
		Help:      "Scores that were clamped or reported low confidence",
	}, []string{"provider", "flag"})
)

func recordFailure(provider Provider, err error) {
	kind := "other"
	switch {
	case errors.Is(err, ErrProviderUnreachable):
		kind = "unreachable"
	case errors.Is(err, ErrProviderInvalidResponse):
		kind = "invalid_response"
	}
	scoreFailures.WithLabelValues(string(provider), kind).Inc()
}

func recordFlags(result ScoreResult) {
	if result.Adjusted {
		scoreFlags.WithLabelValues(string(result.Provider), "adjusted").Inc()
	}
	if result.LowConfidence {
		scoreFlags.WithLabelValues(string(result.Provider), "low_confidence").Inc()
	}
}
