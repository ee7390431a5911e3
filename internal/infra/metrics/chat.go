package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(chatTurnsTotal) }

var chatTurnsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chat_turns_total",
		Help: "Finished chat turns by outcome and mode.",
	},
	[]string{"outcome", "mode"}, // outcome: 'answer', 'error'; mode: 'live', 'demo'
)

func IncChatTurn(outcome, mode string) {
	chatTurnsTotal.WithLabelValues(norm(outcome), norm(mode)).Inc()
}
