package honeypot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "honeypot_connections_total",
		Help: "Connections accepted across all emulated services.",
	})

	metricRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "honeypot_connections_rejected_total",
		Help: "Connections closed before service, by reason.",
	}, []string{"reason"})

	metricActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "honeypot_active_connections",
		Help: "Connections currently tracked by the poll loop.",
	})
)
