// Package metrics provides Prometheus metrics for the reconciliation pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeMerged   = "merged"
	OutcomePossible = "possible_match"
	OutcomePromoted = "promoted"
)

var (
	// RowsImportedTotal tracks raw snapshots created from uploaded rows
	RowsImportedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seed",
			Subsystem: "import",
			Name:      "rows_total",
			Help:      "Total number of rows saved as raw snapshots",
		},
		[]string{"source_type"},
	)

	// RowsSkippedTotal tracks malformed rows dropped during import
	RowsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seed",
			Subsystem: "import",
			Name:      "rows_skipped_total",
			Help:      "Total number of malformed rows skipped during import",
		},
		[]string{"source_type"},
	)

	SnapshotsMappedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seed",
			Subsystem: "mapping",
			Name:      "snapshots_total",
			Help:      "Total number of mapped snapshots produced",
		},
		[]string{"source_type"},
	)

	// FieldErrorsTotal tracks values left unset because coercion failed
	FieldErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seed",
			Subsystem: "mapping",
			Name:      "field_errors_total",
			Help:      "Total number of values that failed coercion",
		},
		[]string{"field"},
	)

	// MatchDecisionsTotal tracks matching outcomes
	MatchDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seed",
			Subsystem: "matching",
			Name:      "decisions_total",
			Help:      "Total number of matching decisions by outcome",
		},
		[]string{"outcome"},
	)

	UnmergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seed",
			Subsystem: "unmerge",
			Name:      "operations_total",
			Help:      "Total number of unmerge operations by status",
		},
		[]string{"status"},
	)

	// OperationDuration tracks engine run durations in seconds
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seed",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Duration of pipeline operations in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"operation"},
	)
)

// ObserveDuration records the time since start for operation.
func ObserveDuration(operation string, start time.Time) {
	OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
