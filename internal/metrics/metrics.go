// Package metrics holds the Prometheus collectors for store mutations and the
// query cache, registered on the default registry.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Conversation store metrics
var (
	// Mutation outcomes per operation
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convstore",
			Name:      "mutations_total",
			Help:      "Total store mutations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// Mutation duration histogram
	MutationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "convstore",
			Name:      "mutation_duration_seconds",
			Help:      "Store mutation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	// Cache scope invalidations
	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convstore",
			Name:      "cache_invalidations_total",
			Help:      "Total query cache invalidations by scope kind",
		},
		[]string{"kind"},
	)

	// Cache lookups
	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "convstore",
			Name:      "cache_lookups_total",
			Help:      "Total query cache lookups by result",
		},
		[]string{"result"},
	)
)

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// RecordMutation records a store mutation
func RecordMutation(operation string, err error, durationSec float64) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	MutationsTotal.WithLabelValues(operation, outcome).Inc()
	MutationDuration.WithLabelValues(operation).Observe(durationSec)
}

// RecordInvalidation records one invalidated cache scope
func RecordInvalidation(kind string) {
	CacheInvalidationsTotal.WithLabelValues(kind).Inc()
}

// RecordCacheLookup records a cache hit or miss
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(result).Inc()
}

// Write gathers g and writes every family in the Prometheus text format.
// A nil g means the default gatherer.
func Write(w io.Writer, g prometheus.Gatherer) error {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
