// Package metrics centralizes Prometheus instrumentation for the breadcrumb
// runtime: dispatcher throughput, executor outcomes, and context-assembler
// rebuild latency, mirroring the teacher's observability.Metrics shape.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized set of Prometheus collectors for the runtime.
//
// Usage:
//
//	m := metrics.New()
//	m.EventsReceived.Inc()
//	m.ExecutorDuration.WithLabelValues("agent").Observe(time.Since(start).Seconds())
type Metrics struct {
	// EventsReceived counts SSE frames received by the Dispatcher.
	EventsReceived prometheus.Counter

	// EventsDropped counts frames dropped after lenient-repair failure or
	// per-consumer mailbox overflow. Labels: reason (malformed|overflow).
	EventsDropped *prometheus.CounterVec

	// Reconnects counts SSE reconnect attempts. Labels: reason (connect_error|disconnect).
	Reconnects *prometheus.CounterVec

	// ExecutorInvocations counts executor runs. Labels: kind (agent|tool|workflow), status (success|error|timeout|panic).
	ExecutorInvocations *prometheus.CounterVec

	// ExecutorDuration measures handler execution latency in seconds. Labels: kind.
	ExecutorDuration *prometheus.HistogramVec

	// ToolLoopDepth tracks the agent executor's current tool-loop recursion depth.
	ToolLoopDepth *prometheus.HistogramVec

	// ContextRebuilds counts Context Assembler rebuilds. Labels: consumer_id, outcome (written|version_conflict|dropped).
	ContextRebuilds *prometheus.CounterVec

	// ContextRebuildDuration measures the full fetch-dedupe-budget-write pass. Labels: consumer_id.
	ContextRebuildDuration *prometheus.HistogramVec

	// ContextTokens tracks the final token count written to a context breadcrumb. Labels: consumer_id.
	ContextTokens *prometheus.HistogramVec

	// BridgeWaits counts Event Bridge wait() outcomes. Labels: outcome (resolved|timeout|cancelled).
	BridgeWaits *prometheus.CounterVec

	// RecordClientCalls counts Record Client operations. Labels: op, status (ok|retried|failed).
	RecordClientCalls *prometheus.CounterVec

	// RecordClientDuration measures Record Client call latency. Labels: op.
	RecordClientDuration *prometheus.HistogramVec

	// ProcessingTableSize is a gauge of the Dispatcher's processing-status table occupancy.
	ProcessingTableSize prometheus.Gauge
}

// New registers and returns a fresh Metrics set against the default registry.
func New() *Metrics {
	return &Metrics{
		EventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "breadcrumb_events_received_total",
			Help: "Total SSE event frames received from the record store.",
		}),
		EventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "breadcrumb_events_dropped_total",
			Help: "Total SSE event frames dropped, by reason.",
		}, []string{"reason"}),
		Reconnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "breadcrumb_dispatcher_reconnects_total",
			Help: "Total SSE reconnect attempts, by trigger reason.",
		}, []string{"reason"}),
		ExecutorInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "breadcrumb_executor_invocations_total",
			Help: "Total executor invocations, by variant and outcome.",
		}, []string{"kind", "status"}),
		ExecutorDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "breadcrumb_executor_duration_seconds",
			Help:    "Executor handler latency in seconds, by variant.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"kind"}),
		ToolLoopDepth: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "breadcrumb_agent_tool_loop_depth",
			Help:    "Depth reached in the agent executor's tool-request loop.",
			Buckets: []float64{0, 1, 2, 3, 4},
		}, []string{"consumer_id"}),
		ContextRebuilds: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "breadcrumb_context_rebuilds_total",
			Help: "Total context rebuilds, by consumer and outcome.",
		}, []string{"consumer_id", "outcome"}),
		ContextRebuildDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "breadcrumb_context_rebuild_duration_seconds",
			Help:    "Context Assembler rebuild latency in seconds, by consumer.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"consumer_id"}),
		ContextTokens: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "breadcrumb_context_tokens",
			Help:    "Estimated token count of the written context breadcrumb, by consumer.",
			Buckets: []float64{100, 500, 1000, 2000, 4000, 8000},
		}, []string{"consumer_id"}),
		BridgeWaits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "breadcrumb_bridge_waits_total",
			Help: "Total Event Bridge wait() calls, by outcome.",
		}, []string{"outcome"}),
		RecordClientCalls: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "breadcrumb_record_client_calls_total",
			Help: "Total Record Client calls, by operation and status.",
		}, []string{"op", "status"}),
		RecordClientDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "breadcrumb_record_client_duration_seconds",
			Help:    "Record Client call latency in seconds, by operation.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"op"}),
		ProcessingTableSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "breadcrumb_dispatcher_processing_table_size",
			Help: "Current occupancy of the Dispatcher's processing-status table.",
		}),
	}
}
