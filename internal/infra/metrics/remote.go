package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		remoteRequestsTotal,
		remoteLatencyMs,
		streamFramesTotal,
		tokenRefreshesTotal,
	)
}

var (
	remoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_requests_total",
			Help: "Requests to the analysis service by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	remoteLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_request_latency_ms",
			Help:    "Analysis service request latency in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"endpoint"},
	)

	streamFramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_frames_total",
			Help: "Decoded stream frames, labeled ok or malformed.",
		},
		[]string{"result"},
	)

	tokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Credential exchanges by result.",
		},
		[]string{"result"},
	)
)

// ObserveRequest records one request; code 0 means the transport failed.
func ObserveRequest(endpoint string, code int, latencyMs int64) {
	remoteRequestsTotal.WithLabelValues(norm(endpoint), strconv.Itoa(code)).Inc()
	remoteLatencyMs.WithLabelValues(norm(endpoint)).Observe(float64(latencyMs))
}

func IncStreamFrame(ok bool) {
	result := "ok"
	if !ok {
		result = "malformed"
	}
	streamFramesTotal.WithLabelValues(result).Inc()
}

func IncTokenRefresh(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	tokenRefreshesTotal.WithLabelValues(result).Inc()
}
