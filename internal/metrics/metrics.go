package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for lifecycle cycles, membership
// changes and archival.
type Metrics struct {
	CyclesTotal     *prometheus.CounterVec   // nettsperre_cycles_total{action,result}
	CycleDuration   *prometheus.HistogramVec // nettsperre_cycle_duration_seconds{action}
	BlocksProcessed *prometheus.CounterVec   // nettsperre_blocks_processed_total{action,advanced}
	MemberChanges   *prometheus.CounterVec   // nettsperre_member_changes_total{operation,outcome}
	BlocksArchived  prometheus.Counter       // nettsperre_blocks_archived_total
	ArchiveHeld     prometheus.Counter       // nettsperre_archive_held_total
	StatsFailures   prometheus.Counter       // nettsperre_stats_failures_total
}

// New registers the collectors on registry, or on the default registerer when
// registry is nil.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	return &Metrics{
		CyclesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "nettsperre_cycles_total",
			Help: "Lifecycle cycles by action and result",
		}, []string{"action", "result"}),

		CycleDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nettsperre_cycle_duration_seconds",
			Help:    "Lifecycle cycle duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}, []string{"action"}),

		BlocksProcessed: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "nettsperre_blocks_processed_total",
			Help: "Blocks processed by lifecycle cycles, by whether their status advanced",
		}, []string{"action", "advanced"}),

		MemberChanges: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "nettsperre_member_changes_total",
			Help: "Group membership changes by operation and outcome",
		}, []string{"operation", "outcome"}),

		BlocksArchived: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "nettsperre_blocks_archived_total",
			Help: "Blocks moved to the history store",
		}),

		ArchiveHeld: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "nettsperre_archive_held_total",
			Help: "Blocks held back from archival because membership removal was not confirmed",
		}),

		StatsFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "nettsperre_stats_failures_total",
			Help: "Statistics records that could not be delivered",
		}),
	}
}

// ObserveDiff counts the outcome of one reconciliation pass.
func (m *Metrics) ObserveDiff(operation string, succeeded, failed, unchanged int) {
	if m == nil {
		return
	}
	m.MemberChanges.WithLabelValues(operation, "success").Add(float64(succeeded))
	m.MemberChanges.WithLabelValues(operation, "failed").Add(float64(failed))
	m.MemberChanges.WithLabelValues(operation, "unchanged").Add(float64(unchanged))
}
