// File: internal/infra/metrics/metrics.go
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// Handler exposes the default registry for scraping.
func Handler() http.Handler { return promhttp.Handler() }

// Collectors returns every enqueued collector, for registering on a custom registry.
func Collectors() []prometheus.Collector {
	out := make([]prometheus.Collector, len(collectors))
	copy(out, collectors)
	return out
}
