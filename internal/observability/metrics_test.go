package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordLLMRequestCountsTokens(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordLLMRequest("anthropic", "claude-sonnet-4-5", "success", 1.2, 100, 40)
	m.RecordLLMRequest("anthropic", "claude-sonnet-4-5", "success", 0.8, 50, 10)
	m.RecordLLMRequest("openai", "gpt-4o", "error", 0.1, 0, 0)

	if got := testutil.ToFloat64(m.LLMRequestCounter.WithLabelValues("anthropic", "claude-sonnet-4-5", "success")); got != 2 {
		t.Errorf("request counter = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-5", "input")); got != 150 {
		t.Errorf("input tokens = %v", got)
	}
	if got := testutil.ToFloat64(m.LLMTokensUsed.WithLabelValues("anthropic", "claude-sonnet-4-5", "output")); got != 50 {
		t.Errorf("output tokens = %v", got)
	}
	// Zero-token outcomes must not create token series.
	if got := testutil.CollectAndCount(m.LLMTokensUsed); got != 2 {
		t.Errorf("token series = %d, want 2", got)
	}
}

func TestRecordToolAndDutyExecutions(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordToolExecution("web_search", "success", 0.4)
	m.RecordToolExecution("web_search", "denied", 0)
	m.RecordDutyExecution("daily-summary", "success")
	m.RecordDutyExecution("daily-summary", "failure")
	m.RecordDutyExecution("daily-summary", "failure")

	if got := testutil.ToFloat64(m.ToolExecutionCounter.WithLabelValues("web_search", "denied")); got != 1 {
		t.Errorf("denied tools = %v", got)
	}
	if got := testutil.ToFloat64(m.DutyExecutions.WithLabelValues("daily-summary", "failure")); got != 2 {
		t.Errorf("duty failures = %v", got)
	}
}

func TestRecordRetryAndEscalation(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())

	m.RecordRetry("openai", "rate_limited")
	m.RecordEscalation("coding")
	m.RecordEscalation("coding")
	m.RecordError("routing", "exhausted")

	if got := testutil.ToFloat64(m.LLMRetryCounter.WithLabelValues("openai", "rate_limited")); got != 1 {
		t.Errorf("retries = %v", got)
	}
	if got := testutil.ToFloat64(m.RoutingEscalations.WithLabelValues("coding")); got != 2 {
		t.Errorf("escalations = %v", got)
	}
	if got := testutil.ToFloat64(m.ErrorCounter.WithLabelValues("routing", "exhausted")); got != 1 {
		t.Errorf("errors = %v", got)
	}
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	a := NewMetricsWith(prometheus.NewRegistry())
	b := NewMetricsWith(prometheus.NewRegistry())

	a.RecordEscalation("research")
	if got := testutil.ToFloat64(b.RoutingEscalations.WithLabelValues("research")); got != 0 {
		t.Errorf("cross-registry leak: %v", got)
	}
}
