package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	wfsRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wfs_requests_total",
			Help: "WFS operations by request verb.",
		},
		[]string{"operation"},
	)

	featuresIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "features_ingested_total",
			Help: "Features processed by the ingest pipeline.",
		},
		[]string{"outcome"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func IncWFSRequest(operation string) {
	wfsRequestsTotal.WithLabelValues(operation).Inc()
}

func AddIngested(imported, failed int) {
	if imported > 0 {
		featuresIngestedTotal.WithLabelValues("imported").Add(float64(imported))
	}
	if failed > 0 {
		featuresIngestedTotal.WithLabelValues("failed").Add(float64(failed))
	}
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
