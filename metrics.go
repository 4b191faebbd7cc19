package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Process-level metrics exposed on the /metrics endpoint. The per-pixel
// instruments live in internal/metrics and export through OTLP.

var (
	reportChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dbp",
			Subsystem: "report",
			Name:      "checks_total",
			Help:      "Total weekly report gate evaluations",
		},
		[]string{"result"},
	)
)

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// recordReportCheck counts one gate evaluation
func recordReportCheck(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	reportChecksTotal.WithLabelValues(result).Inc()
}
