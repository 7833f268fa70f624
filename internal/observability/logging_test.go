package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func captureLogger(t *testing.T, cfg LogConfig) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg.Output = &buf
	return NewLogger(cfg), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	line := strings.TrimSpace(buf.String())
	var record map[string]any
	if err := json.Unmarshal([]byte(line), &record); err != nil {
		t.Fatalf("decode log line %q: %v", line, err)
	}
	return record
}

func TestLoggerEmitsJSON(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{Level: "info", Format: "json"})
	logger.Info(context.Background(), "agent started", "agent_purpose", "research")

	record := decodeLine(t, buf)
	if record["msg"] != "agent started" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["agent_purpose"] != "research" {
		t.Errorf("agent_purpose = %v", record["agent_purpose"])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{Level: "warn", Format: "json"})
	logger.Debug(context.Background(), "noise")
	logger.Info(context.Background(), "more noise")
	if buf.Len() != 0 {
		t.Fatalf("below-threshold output: %s", buf.String())
	}
	logger.Warn(context.Background(), "kept")
	if buf.Len() == 0 {
		t.Fatal("warn should pass a warn-level logger")
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{Level: "info", Format: "json"})

	logger.Info(context.Background(), "provider configured",
		"detail", "api_key=sk-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa set")

	out := buf.String()
	if strings.Contains(out, "sk-aaaa") {
		t.Errorf("key leaked: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("no redaction marker: %s", out)
	}
}

func TestLoggerRedactsSensitiveMapKeys(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{Level: "info", Format: "json"})
	logger.Info(context.Background(), "config loaded", "settings", map[string]any{
		"password": "hunter22",
		"profile":  "hybrid",
	})

	out := buf.String()
	if strings.Contains(out, "hunter22") {
		t.Errorf("password leaked: %s", out)
	}
	if !strings.Contains(out, "hybrid") {
		t.Errorf("non-sensitive value dropped: %s", out)
	}
}

func TestLoggerAddsContextCorrelation(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{Level: "info", Format: "json"})

	ctx := AddRequestID(context.Background(), "req-7")
	ctx = AddSessionID(ctx, "sess-3")
	ctx = AddAgentID(ctx, "agent-1")
	logger.Info(ctx, "turn complete")

	record := decodeLine(t, buf)
	if record["request_id"] != "req-7" || record["session_id"] != "sess-3" || record["agent_id"] != "agent-1" {
		t.Errorf("correlation attrs missing: %v", record)
	}
}

func TestWithFieldsPersists(t *testing.T) {
	logger, buf := captureLogger(t, LogConfig{Level: "info", Format: "json"})
	child := logger.WithFields("component", "router")
	child.Info(context.Background(), "escalating")

	record := decodeLine(t, buf)
	if record["component"] != "router" {
		t.Errorf("component = %v", record["component"])
	}
}

func TestLogLevelFromString(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":    slog.LevelDebug,
		"info":     slog.LevelInfo,
		"warn":     slog.LevelWarn,
		"warning":  slog.LevelWarn,
		"error":    slog.LevelError,
		"whatever": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}
