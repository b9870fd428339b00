package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type relayMetrics struct {
	requests    *prometheus.CounterVec
	records     *prometheus.GaugeVec
	subscribers prometheus.Gauge
}

func (m *relayMetrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.requests = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Name: "moneysync_relay_requests_total",
		Help: "snapshot requests by method, entity and status code",
	}, []string{"method", "entity", "code"})
	m.records = promautoFactory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "moneysync_relay_snapshot_records",
		Help: "records in the latest stored snapshot",
	}, []string{"entity"})
	m.subscribers = promautoFactory.NewGauge(prometheus.GaugeOpts{
		Name: "moneysync_relay_subscribers",
		Help: "connected change feed clients",
	})
}
