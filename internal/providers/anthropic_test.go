package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vrikshahq/vriksha/pkg/models"
)

func anthropicSSEServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("expected http.Flusher")
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
			flusher.Flush()
		}
	}))
}

func TestNewAnthropicAdapterValidation(t *testing.T) {
	if _, err := NewAnthropicAdapter(AnthropicConfig{}); err == nil {
		t.Error("expected error for missing API key")
	}

	adapter, err := NewAnthropicAdapter(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewAnthropicAdapter: %v", err)
	}
	if adapter.defaultModel == "" {
		t.Error("default model should be applied")
	}
	if adapter.ID() != "anthropic" {
		t.Errorf("ID = %q, want anthropic", adapter.ID())
	}
}

func TestAnthropicStreamText(t *testing.T) {
	server := anthropicSSEServer(t, []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_123","type":"message","role":"assistant","usage":{"input_tokens":9}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	})
	defer server.Close()

	adapter, err := NewAnthropicAdapter(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicAdapter: %v", err)
	}

	events, err := adapter.Stream(context.Background(), "", []models.Message{
		models.NewTextMessage(models.RoleUser, "hi"),
	}, StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text, startID string
	var done *models.StreamEvent
	for ev := range events {
		switch ev.Type {
		case models.EventStart:
			startID = ev.MessageID
		case models.EventText:
			text += ev.Text
		case models.EventDone:
			e := ev
			done = &e
		case models.EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	if startID != "msg_123" {
		t.Errorf("start message id = %q, want msg_123", startID)
	}
	if text != "Hello world" {
		t.Errorf("text = %q, want %q", text, "Hello world")
	}
	if done == nil {
		t.Fatal("missing done event")
	}
	if done.StopReason != models.StopEndTurn {
		t.Errorf("stop reason = %s, want end_turn", done.StopReason)
	}
	if done.Usage.InputTokens != 9 || done.Usage.OutputTokens != 5 {
		t.Errorf("usage = %+v, want 9/5", done.Usage)
	}
}

func TestAnthropicStreamToolUse(t *testing.T) {
	server := anthropicSSEServer(t, []string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_456","type":"message","role":"assistant","usage":{"input_tokens":4}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"tool_123","name":"get_weather","input":{}}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"London\"}"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":11}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	})
	defer server.Close()

	adapter, err := NewAnthropicAdapter(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewAnthropicAdapter: %v", err)
	}

	events, err := adapter.Stream(context.Background(), "claude-sonnet-4-20250514", []models.Message{
		models.NewTextMessage(models.RoleUser, "weather in london"),
	}, StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var calls []models.ToolCall
	var stop models.StopReason
	for ev := range events {
		switch ev.Type {
		case models.EventToolCall:
			calls = append(calls, *ev.ToolCall)
		case models.EventDone:
			stop = ev.StopReason
		case models.EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	if len(calls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(calls))
	}
	if calls[0].ID != "tool_123" || calls[0].Name != "get_weather" {
		t.Errorf("call = %+v", calls[0])
	}
	if string(calls[0].Arguments) != `{"city":"London"}` {
		t.Errorf("accumulated args = %s", calls[0].Arguments)
	}
	if stop != models.StopToolUse {
		t.Errorf("stop reason = %s, want tool_use", stop)
	}
}

func TestMapAnthropicStopReason(t *testing.T) {
	cases := map[string]models.StopReason{
		"end_turn":      models.StopEndTurn,
		"max_tokens":    models.StopMaxTokens,
		"tool_use":      models.StopToolUse,
		"stop_sequence": models.StopSequence,
		"":              models.StopEndTurn,
	}
	for in, want := range cases {
		if got := mapAnthropicStopReason(in); got != want {
			t.Errorf("mapAnthropicStopReason(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestConvertAnthropicMessagesSkipsSystem(t *testing.T) {
	msgs := []models.Message{
		models.NewTextMessage(models.RoleSystem, "be terse"),
		models.NewTextMessage(models.RoleUser, "hi"),
		{
			Role: models.RoleAssistant,
			Parts: []models.ContentPart{
				models.ToolCallPart(models.ToolCall{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"q":"x"}`)}),
			},
		},
		{
			Role: models.RoleToolResult,
			Parts: []models.ContentPart{
				models.ToolResultPart(models.ToolResult{ToolCallID: "c1", Content: "found"}),
			},
		},
	}

	got, err := convertAnthropicMessages(msgs)
	if err != nil {
		t.Fatalf("convertAnthropicMessages: %v", err)
	}
	// System goes to params.System, the other three survive.
	if len(got) != 3 {
		t.Fatalf("messages = %d, want 3", len(got))
	}
}

func TestConvertAnthropicMessagesRejectsBadToolArgs(t *testing.T) {
	msgs := []models.Message{
		{
			Role: models.RoleAssistant,
			Parts: []models.ContentPart{
				models.ToolCallPart(models.ToolCall{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{broken`)}),
			},
		},
	}
	if _, err := convertAnthropicMessages(msgs); err == nil {
		t.Error("expected error for malformed tool arguments")
	}
}

func TestSystemPromptConcatenation(t *testing.T) {
	msgs := []models.Message{
		models.NewTextMessage(models.RoleSystem, "first"),
		models.NewTextMessage(models.RoleUser, "ignored"),
		models.NewTextMessage(models.RoleSystem, "second"),
	}
	if got := systemPrompt(msgs); got != "first\n\nsecond" {
		t.Errorf("systemPrompt = %q", got)
	}
}
