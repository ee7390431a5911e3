package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(researchJobsTotal, researchPollAttemptsTotal, researchStreamReconnects) }

var researchJobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_jobs_total",
		Help: "Research jobs by lifecycle status.",
	},
	[]string{"status"}, // 'started', 'completed', 'failed'
)

var researchPollAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_poll_attempts_total",
		Help: "Run-status poll attempts labeled by outcome.",
	},
	[]string{"outcome"}, // 'pending', 'completed', 'failed', 'error', 'timeout'
)

var researchStreamReconnects = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "research_stream_reconnects_total",
		Help: "Stream observers reopened after the stream ended early.",
	},
)

func IncJob(status string) {
	researchJobsTotal.WithLabelValues(norm(status)).Inc()
}

func IncPollAttempt(outcome string) {
	researchPollAttemptsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncStreamReconnect() { researchStreamReconnects.Inc() }
