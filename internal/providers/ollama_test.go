package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vrikshahq/vriksha/pkg/models"
)

func TestBuildOllamaMessages_ToolCallsAndResults(t *testing.T) {
	msgs := []models.Message{
		models.NewTextMessage(models.RoleSystem, "sys"),
		models.NewTextMessage(models.RoleUser, "hi"),
		{
			Role: models.RoleAssistant,
			Parts: []models.ContentPart{
				models.ToolCallPart(models.ToolCall{ID: "call-1", Name: "lookup", Arguments: json.RawMessage(`{"q":"test"}`)}),
			},
		},
		{
			Role: models.RoleToolResult,
			Parts: []models.ContentPart{
				models.ToolResultPart(models.ToolResult{ToolCallID: "call-1", Content: "ok"}),
			},
		},
	}

	got := buildOllamaMessages(msgs)
	if len(got) != 4 {
		t.Fatalf("messages = %d, want 4", len(got))
	}
	if got[0].Role != "system" || got[0].Content != "sys" {
		t.Fatalf("system message mismatch: %+v", got[0])
	}
	if got[2].Role != "assistant" || len(got[2].ToolCalls) != 1 {
		t.Fatalf("assistant tool calls missing: %+v", got[2])
	}
	if got[2].ToolCalls[0].Function.Name != "lookup" {
		t.Errorf("tool name = %q, want %q", got[2].ToolCalls[0].Function.Name, "lookup")
	}
	if got[3].Role != "tool" || got[3].ToolName != "lookup" || got[3].Content != "ok" {
		t.Errorf("tool result message mismatch: %+v", got[3])
	}
}

func TestOllamaStreamTextAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		lines := []string{
			`{"message":{"role":"assistant","content":"Hel"},"done":false}`,
			`{"message":{"role":"assistant","content":"lo"},"done":false}`,
			`{"done":true,"prompt_eval_count":12,"eval_count":7}`,
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
		}
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(OllamaConfig{BaseURL: server.URL, DefaultModel: "llama3"})
	events, err := adapter.Stream(context.Background(), "", []models.Message{
		models.NewTextMessage(models.RoleUser, "hi"),
	}, StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text string
	var done *models.StreamEvent
	sawStart := false
	for ev := range events {
		switch ev.Type {
		case models.EventStart:
			sawStart = true
		case models.EventText:
			text += ev.Text
		case models.EventDone:
			e := ev
			done = &e
		case models.EventError:
			t.Fatalf("unexpected error event: %v", ev.Err)
		}
	}

	if !sawStart {
		t.Error("missing start event")
	}
	if text != "Hello" {
		t.Errorf("text = %q, want %q", text, "Hello")
	}
	if done == nil {
		t.Fatal("missing done event")
	}
	if done.Usage.InputTokens != 12 || done.Usage.OutputTokens != 7 {
		t.Errorf("usage = %+v, want 12/7", done.Usage)
	}
	if done.StopReason != models.StopEndTurn {
		t.Errorf("stop reason = %s, want end_turn", done.StopReason)
	}
}

func TestOllamaStreamToolCallDedup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"role":"assistant","tool_calls":[{"function":{"name":"lookup","arguments":{"q":"x"}}}]},"done":false}`,
			`{"message":{"role":"assistant","tool_calls":[{"function":{"name":"lookup","arguments":{"q":"x"}}}]},"done":false}`,
			`{"done":true,"prompt_eval_count":1,"eval_count":1}`,
		}
		for _, line := range lines {
			w.Write([]byte(line + "\n"))
		}
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(OllamaConfig{BaseURL: server.URL})
	events, err := adapter.Stream(context.Background(), "llama3", []models.Message{
		models.NewTextMessage(models.RoleUser, "hi"),
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
		t.Fatalf("tool calls = %d, want 1 after dedup", len(calls))
	}
	if calls[0].Name != "lookup" {
		t.Errorf("tool name = %q, want lookup", calls[0].Name)
	}
	if stop != models.StopToolUse {
		t.Errorf("stop reason = %s, want tool_use", stop)
	}
}

func TestOllamaStreamServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(OllamaConfig{BaseURL: server.URL})
	_, err := adapter.Stream(context.Background(), "missing", nil, StreamOptions{})
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
	pe, ok := GetProviderError(err)
	if !ok {
		t.Fatalf("error should be a ProviderError, got %T", err)
	}
	if pe.Status != http.StatusNotFound || pe.Reason != FailureInvalidRequest {
		t.Errorf("unexpected classification: %+v", pe)
	}
}

func TestOllamaStreamMidStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"message":{"role":"assistant","content":"par"},"done":false}` + "\n"))
		w.Write([]byte(`{"error":"runner crashed"}` + "\n"))
	}))
	defer server.Close()

	adapter := NewOllamaAdapter(OllamaConfig{BaseURL: server.URL, Timeout: 5 * time.Second})
	events, err := adapter.Stream(context.Background(), "llama3", nil, StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var last models.StreamEvent
	for ev := range events {
		last = ev
	}
	if last.Type != models.EventError {
		t.Fatalf("last event = %s, want error", last.Type)
	}
}

func TestOllamaStreamCancelReleasesProducer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fl, _ := w.(http.Flusher)
		for {
			if _, err := w.Write([]byte(`{"message":{"role":"assistant","content":"chunk"},"done":false}` + "\n")); err != nil {
				return
			}
			if fl != nil {
				fl.Flush()
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(time.Millisecond):
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	adapter := NewOllamaAdapter(OllamaConfig{BaseURL: server.URL})
	events, err := adapter.Stream(ctx, "llama3", []models.Message{
		models.NewTextMessage(models.RoleUser, "hi"),
	}, StreamOptions{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, ok := <-events; !ok {
			t.Fatal("stream closed before any events")
		}
	}

	// Cancel and stop receiving. The producer must notice the dead context
	// on its next send rather than park on the unbuffered channel.
	cancel()
	time.Sleep(100 * time.Millisecond)

	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("event after cancel = %+v, want closed channel", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel still open after cancel; producer goroutine is parked")
	}
}

func TestOllamaDefaultsAndModelRequired(t *testing.T) {
	adapter := NewOllamaAdapter(OllamaConfig{})
	if adapter.baseURL != "http://localhost:11434" {
		t.Errorf("base URL = %q, want default", adapter.baseURL)
	}
	if _, err := adapter.Stream(context.Background(), "", nil, StreamOptions{}); err == nil {
		t.Error("expected error when no model configured")
	}
}
