package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDenied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "honeypot_ratelimit_denied_total",
		Help: "Connection attempts denied by the per-source rate limiter.",
	})

	metricSources = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "honeypot_ratelimit_tracked_sources",
		Help: "Source addresses currently tracked by the rate limiter.",
	})
)
