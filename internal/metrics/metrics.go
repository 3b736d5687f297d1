// Package metrics defines the Prometheus collectors for the dispatcher,
// agent loop, scheduler, and subagent manager. cmd/nexus registers them on
// the default registry when metrics are enabled; no package in this module
// updates them, so the vectors export no series and SubagentsActive stays
// at zero.
//
// Grounded on internal/observability/metrics.go's Metrics struct and
// promauto-based constructor, trimmed to counters/gauges for this runtime's
// core subsystems (spec.md §9 names nexus_agent_inflight_turns
// specifically).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the set of collectors shared across the runtime.
type Metrics struct {
	// MessagesTotal counts inbound/outbound traffic per channel.
	// Labels: channel, direction (inbound|outbound)
	MessagesTotal *prometheus.CounterVec

	// AgentInflightTurns tracks turns currently running per channel.
	// Labels: channel
	AgentInflightTurns *prometheus.GaugeVec

	// AgentTurnDuration measures one full iterate-to-completion turn.
	// Labels: provider
	AgentTurnDuration *prometheus.HistogramVec

	// ToolExecutionsTotal counts tool invocations by outcome.
	// Labels: tool_name, status (success|error)
	ToolExecutionsTotal *prometheus.CounterVec

	// ToolExecutionDuration measures a single tool call.
	// Labels: tool_name
	ToolExecutionDuration *prometheus.HistogramVec

	// LLMRequestsTotal counts provider calls by outcome.
	// Labels: provider, status (success|error)
	LLMRequestsTotal *prometheus.CounterVec

	// SchedulerFiresTotal counts cron-triggered task runs.
	// Labels: task_id, status (success|error)
	SchedulerFiresTotal *prometheus.CounterVec

	// SubagentsActive tracks concurrently running subagent tasks.
	SubagentsActive prometheus.Gauge

	// SubagentsTotal counts subagent runs by terminal status.
	// Labels: status (completed|failed|cancelled)
	SubagentsTotal *prometheus.CounterVec
}

// New registers and returns the runtime's metric collectors against the
// default Prometheus registry.
func New() *Metrics {
	return &Metrics{
		MessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_messages_total",
				Help: "Total messages processed by channel and direction.",
			},
			[]string{"channel", "direction"},
		),
		AgentInflightTurns: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nexus_agent_inflight_turns",
				Help: "Turns currently executing in the agent loop, by channel.",
			},
			[]string{"channel"},
		),
		AgentTurnDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_agent_turn_duration_seconds",
				Help:    "Duration of a full agent turn, start to final reply.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider"},
		),
		ToolExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_tool_executions_total",
				Help: "Tool invocations by tool name and outcome.",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nexus_tool_execution_duration_seconds",
				Help:    "Duration of a single tool execution.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		LLMRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_llm_requests_total",
				Help: "LLM provider requests by provider and outcome.",
			},
			[]string{"provider", "status"},
		),
		SchedulerFiresTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_scheduler_fires_total",
				Help: "Scheduled task fires by task ID and outcome.",
			},
			[]string{"task_id", "status"},
		),
		SubagentsActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "nexus_subagents_active",
				Help: "Subagent tasks currently running.",
			},
		),
		SubagentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nexus_subagents_total",
				Help: "Subagent task runs by terminal status.",
			},
			[]string{"status"},
		),
	}
}
