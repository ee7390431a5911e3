package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(apiRequestsTotal, apiPanicsTotal) }

var (
	apiRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "control_api_requests_total",
			Help: "Control API requests by route pattern and status code.",
		},
		[]string{"route", "code"},
	)
	apiPanicsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "control_api_panics_total",
			Help: "Handler panics recovered by the control API.",
		},
	)
)

// ObserveAPIRequest records one control API request. route is the chi pattern, not the raw path.
func ObserveAPIRequest(route string, code int) {
	if route == "" {
		route = "unmatched"
	}
	apiRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}

func IncAPIPanic() { apiPanicsTotal.Inc() }
