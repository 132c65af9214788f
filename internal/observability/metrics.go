package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposed by the service. Registered once on the default
// registry; the gateway serves them on /metrics.
var (
	ChunksEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aibox",
		Name:      "chunks_emitted_total",
		Help:      "Streamed chunks by kind (text, thinking, tool_use, files, metadata).",
	}, []string{"kind"})

	TurnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aibox",
		Name:      "turn_duration_seconds",
		Help:      "End-to-end duration of a streamed turn.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"module", "mode"})

	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aibox",
		Name:      "active_agents",
		Help:      "Agent handles currently cached.",
	})

	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aibox",
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool name and outcome.",
	}, []string{"tool", "status"})

	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aibox",
		Name:      "provider_errors_total",
		Help:      "Provider failures by classified reason.",
	}, []string{"provider", "reason"})
)

// CountChunk increments the chunk counter for whichever payload the
// chunk carries.
func CountChunk(kind string) {
	ChunksEmitted.WithLabelValues(kind).Inc()
}
