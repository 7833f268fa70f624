package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central Prometheus metric set for the runtime. It tracks
// provider request performance, token spend, tool executions, agent tree
// activity, routing escalations, and rate limiter pressure.
type Metrics struct {
	// LLMRequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	LLMRequestDuration *prometheus.HistogramVec

	// LLMRequestCounter counts provider requests.
	// Labels: provider, model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	LLMTokensUsed *prometheus.CounterVec

	// LLMRetryCounter counts stream retries by provider and failure reason.
	LLMRetryCounter *prometheus.CounterVec

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_name, status (success|error|denied)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// ActiveAgents gauges live agents by tree depth.
	ActiveAgents *prometheus.GaugeVec

	// AgentSpawnCounter counts agent spawns by status (ok|depth_exceeded|fanout_exceeded).
	AgentSpawnCounter *prometheus.CounterVec

	// RoutingEscalations counts escalation hops by task type.
	RoutingEscalations *prometheus.CounterVec

	// RateLimitWaitDuration measures time spent waiting for rate limiter
	// capacity in seconds. Labels: provider, priority
	RateLimitWaitDuration *prometheus.HistogramVec

	// QueueDepth gauges request queue occupancy by state (pending|active).
	QueueDepth *prometheus.GaugeVec

	// DutyExecutions counts automated duty runs.
	// Labels: duty, status (success|failure|skipped)
	DutyExecutions *prometheus.CounterVec

	// ErrorCounter tracks errors by component and type.
	ErrorCounter *prometheus.CounterVec

	// DatabaseQueryDuration measures persistence query latency in seconds.
	// Labels: operation, table
	DatabaseQueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics with the default registry.
// Call once at startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with the given registerer. Tests pass
// a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vriksha_llm_request_duration_seconds",
				Help:    "Duration of LLM provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vriksha_llm_requests_total",
				Help: "Total LLM provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vriksha_llm_tokens_total",
				Help: "Total tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		LLMRetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vriksha_llm_retries_total",
				Help: "Total provider stream retries by provider and failure reason",
			},
			[]string{"provider", "reason"},
		),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vriksha_tool_executions_total",
				Help: "Total tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vriksha_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_name"},
		),

		ActiveAgents: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vriksha_active_agents",
				Help: "Current number of live agents by tree depth",
			},
			[]string{"depth"},
		),

		AgentSpawnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vriksha_agent_spawns_total",
				Help: "Total agent spawn attempts by outcome",
			},
			[]string{"status"},
		),

		RoutingEscalations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vriksha_routing_escalations_total",
				Help: "Total routing escalation hops by task type",
			},
			[]string{"task_type"},
		),

		RateLimitWaitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vriksha_ratelimit_wait_duration_seconds",
				Help:    "Time spent waiting for rate limiter capacity",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
			},
			[]string{"provider", "priority"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vriksha_queue_depth",
				Help: "Request queue occupancy by state",
			},
			[]string{"state"},
		),

		DutyExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vriksha_duty_executions_total",
				Help: "Total automated duty executions by duty and status",
			},
			[]string{"duty", "status"},
		),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vriksha_errors_total",
				Help: "Total errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		DatabaseQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vriksha_database_query_duration_seconds",
				Help:    "Duration of persistence queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation", "table"},
		),
	}
}

// RecordLLMRequest records one provider request outcome.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, inputTokens, outputTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if inputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

// RecordRetry records one stream retry.
func (m *Metrics) RecordRetry(provider, reason string) {
	m.LLMRetryCounter.WithLabelValues(provider, reason).Inc()
}

// RecordToolExecution records one tool invocation outcome.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordEscalation counts one routing escalation hop.
func (m *Metrics) RecordEscalation(taskType string) {
	m.RoutingEscalations.WithLabelValues(taskType).Inc()
}

// RecordDutyExecution records one automated duty run.
func (m *Metrics) RecordDutyExecution(duty, status string) {
	m.DutyExecutions.WithLabelValues(duty, status).Inc()
}

// RecordDatabaseQuery records persistence query latency.
func (m *Metrics) RecordDatabaseQuery(operation, table string, durationSeconds float64) {
	m.DatabaseQueryDuration.WithLabelValues(operation, table).Observe(durationSeconds)
}
