package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the Prometheus collectors of the import pipeline.
type Metrics struct {
	Sessions       *prometheus.CounterVec
	StageDuration  *prometheus.HistogramVec
	StagedRows     prometheus.Counter
	MergedRows     prometheus.Counter
	ActiveSessions prometheus.Gauge
	SweptRelations prometheus.Counter
}

// NewMetrics registers the collectors with reg. A nil reg uses a private
// registry, which keeps tests and the CLI from touching the default one.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geoimport",
			Name:      "sessions_total",
			Help:      "Import sessions by action and outcome kind.",
		}, []string{"action", "outcome"}),
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geoimport",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"stage"}),
		StagedRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: "geoimport",
			Name:      "staged_rows_total",
			Help:      "CSV rows loaded into staging relations.",
		}),
		MergedRows: f.NewCounter(prometheus.CounterOpts{
			Namespace: "geoimport",
			Name:      "merged_rows_total",
			Help:      "Rows merged into destination tables.",
		}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "geoimport",
			Name:      "active_sessions",
			Help:      "Import sessions currently running.",
		}),
		SweptRelations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "geoimport",
			Name:      "swept_staging_relations_total",
			Help:      "Orphaned staging relations dropped by the janitor.",
		}),
	}
}

// observeStage records how long a stage took since start.
func (m *Metrics) observeStage(stage string, start time.Time) {
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// observeSession counts a finished session. err nil counts as "ok".
func (m *Metrics) observeSession(action Action, err error) {
	outcome := "ok"
	if err != nil {
		outcome = KindOf(err).String()
	}
	m.Sessions.WithLabelValues(string(action), outcome).Inc()
}
