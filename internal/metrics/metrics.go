package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	InboundMessages   *prometheus.CounterVec
	OutboundMessages  *prometheus.CounterVec
	ManualModeSkips   prometheus.Counter
	ReasoningRequests *prometheus.CounterVec
	ReasoningLatency  *prometheus.HistogramVec
	ToolExecutions    *prometheus.CounterVec
	StateTransitions  *prometheus.CounterVec
	OrdersFinalized   prometheus.Counter
	StateConflicts    prometheus.Counter
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_messages_total",
				Help:      "Total inbound customer messages by channel.",
			}, []string{"channel"}),
			OutboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outbound_messages_total",
				Help:      "Total outbound replies sent by channel.",
			}, []string{"channel"}),
			ManualModeSkips: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "manual_mode_skips_total",
				Help:      "Inbound messages recorded but not automated due to manual mode.",
			}),
			ReasoningRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reasoning_requests_total",
				Help:      "Total reasoning provider requests by outcome.",
			}, []string{"status"}),
			ReasoningLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "reasoning_request_duration_seconds",
				Help:      "Latency distribution for reasoning provider calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_executions_total",
				Help:      "Total tool calls applied by tool and outcome.",
			}, []string{"tool", "status"}),
			StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_transitions_total",
				Help:      "Conversation state transitions by origin and target state.",
			}, []string{"from", "to"}),
			OrdersFinalized: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_finalized_total",
				Help:      "Total orders created from carts.",
			}),
			StateConflicts: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "state_conflicts_total",
				Help:      "Optimistic conversation updates that lost the version race.",
			}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.InboundMessages,
			metricsInstance.OutboundMessages,
			metricsInstance.ManualModeSkips,
			metricsInstance.ReasoningRequests,
			metricsInstance.ReasoningLatency,
			metricsInstance.ToolExecutions,
			metricsInstance.StateTransitions,
			metricsInstance.OrdersFinalized,
			metricsInstance.StateConflicts,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
