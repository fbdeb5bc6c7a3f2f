package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var HTTPRequestDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "escrow",
	Name:      "http_request_duration_seconds",
	Help:      "HTTP request duration in seconds.",
	Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms - 8s+
}, []string{"route", "code"})

var HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "escrow",
	Name:      "http_requests_in_flight",
	Help:      "HTTP requests currently being served by the API.",
})
