// Package metrics exposes Prometheus collectors for the leaderboard.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission outcomes
const (
	OutcomeAccepted    = "accepted"
	OutcomeInvalid     = "invalid"
	OutcomeIneligible  = "ineligible"
	OutcomeStoreFailed = "store_failed"
)

var (
	submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streme",
		Subsystem: "leaderboard",
		Name:      "submissions_total",
		Help:      "Score submissions by outcome",
	}, []string{"outcome"})

	reads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streme",
		Subsystem: "leaderboard",
		Name:      "reads_total",
		Help:      "Leaderboard read operations",
	}, []string{"operation"})

	storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streme",
		Subsystem: "leaderboard",
		Name:      "store_errors_total",
		Help:      "Backing store failures by operation",
	}, []string{"operation"})

	evictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "streme",
		Subsystem: "leaderboard",
		Name:      "evictions_total",
		Help:      "Sessions dropped by the retention cap",
	})

	retained = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "streme",
		Subsystem: "leaderboard",
		Name:      "retained_sessions",
		Help:      "Sessions currently retained",
	})
)

// ObserveSubmission counts one submission outcome
func ObserveSubmission(outcome string) {
	submissions.WithLabelValues(outcome).Inc()
}

// ObserveRead counts one read operation
func ObserveRead(operation string) {
	reads.WithLabelValues(operation).Inc()
}

// ObserveStoreError counts one failed load or save
func ObserveStoreError(operation string) {
	storeErrors.WithLabelValues(operation).Inc()
}

// ObserveRetention records evictions and the current retained count
func ObserveRetention(evicted, current int) {
	if evicted > 0 {
		evictions.Add(float64(evicted))
	}
	retained.Set(float64(current))
}

// Handler returns the Prometheus scrape handler
func Handler() http.Handler {
	return promhttp.Handler()
}
