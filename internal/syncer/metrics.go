package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type syncMetrics struct {
	passes   *prometheus.CounterVec
	duration prometheus.Histogram
	records  *prometheus.CounterVec
	lastSync prometheus.Gauge
}

func (m *syncMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.passes = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "moneysync_sync_passes_total",
		Help: "sync passes by outcome and mode",
	}, []string{"outcome", "mode"})
	m.duration = promautoFactory.NewHistogram(prometheus.HistogramOpts{
		Name:    "moneysync_sync_pass_duration_seconds",
		Help:    "wall time of applied sync passes",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})
	m.records = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "moneysync_sync_records_total",
		Help: "merged records by entity and deciding side",
	}, []string{"entity", "side"})
	m.lastSync = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "moneysync_last_sync_timestamp_seconds",
		Help: "unix time of the last applied sync pass",
	})
}

func (m *syncMetrics) observeMerge(entity string, st mergeCounts) {
	m.records.WithLabelValues(entity, "local").Add(float64(st.local))
	m.records.WithLabelValues(entity, "remote").Add(float64(st.remote))
}

type mergeCounts struct {
	local  int
	remote int
}
