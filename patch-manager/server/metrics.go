package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricsNamespace = "patch_manager"

type Metrics struct {
	callbacks *prometheus.CounterVec
	pending   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		callbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "callbacks_total",
			Help:      "Count of build callbacks by reported status and HTTP response code",
		}, []string{"status", "code"}),
		pending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "pending_callbacks",
			Help:      "Callbacks still expected before the server exits",
		}),
	}
}

func (m *Metrics) RecordCallback(status string, code string, pending int) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(status, code).Inc()
	m.pending.Set(float64(pending))
}

func (m *Metrics) SetPending(pending int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
}
