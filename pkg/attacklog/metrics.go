package attacklog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricAttacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "honeypot_attacks_total",
		Help: "Total attack records produced, by emulated service.",
	}, []string{"service"})

	metricStoreErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "honeypot_attack_store_errors_total",
		Help: "Persistence failures tolerated by the attack pipeline.",
	})

	metricRingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "honeypot_attack_ring_entries",
		Help: "Records currently held in the in-memory ring buffer.",
	})
)
