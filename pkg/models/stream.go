package models

import "time"

// StopReason explains why a provider finished a response.
type StopReason string

const (
	// StopEndTurn means the model finished its turn normally.
	StopEndTurn StopReason = "end_turn"

	// StopMaxTokens means generation hit the output token limit.
	StopMaxTokens StopReason = "max_tokens"

	// StopToolUse means the model paused to request tool execution.
	StopToolUse StopReason = "tool_use"

	// StopSequence means a configured stop sequence was produced.
	StopSequence StopReason = "stop_sequence"
)

// Usage accounts tokens consumed by a provider call. The usage carried by a
// done event is the final authoritative value for the request.
type Usage struct {
	InputTokens     int `json:"input_tokens"`
	OutputTokens    int `json:"output_tokens"`
	CacheReadTokens int `json:"cache_read_tokens,omitempty"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheReadTokens += o.CacheReadTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// StreamEventType discriminates the StreamEvent union.
type StreamEventType string

const (
	// EventStart opens a provider stream. Exactly one per stream.
	EventStart StreamEventType = "start"

	// EventText carries a response text delta.
	EventText StreamEventType = "text"

	// EventThinking carries a reasoning text delta.
	EventThinking StreamEventType = "thinking"

	// EventToolCall carries a fully assembled tool invocation.
	EventToolCall StreamEventType = "tool_call"

	// EventToolResult carries a provider-surfaced tool return. Only emitted
	// by providers that execute tools server-side.
	EventToolResult StreamEventType = "tool_result"

	// EventUsage carries an interim usage report. May repeat.
	EventUsage StreamEventType = "usage"

	// EventError terminates a stream on transport failure.
	EventError StreamEventType = "error"

	// EventDone closes a stream normally with the final usage.
	EventDone StreamEventType = "done"

	// EventRetry reports a backoff retry of the underlying stream. Emitted
	// by the retry wrapper, never by adapters themselves.
	EventRetry StreamEventType = "retry"
)

// StreamEvent is the closed union of events produced by a provider stream.
// A well-formed stream begins with exactly one start event and ends with
// exactly one done event, unless it terminates early with an error event.
type StreamEvent struct {
	Type StreamEventType `json:"type"`

	// MessageID is set on start events.
	MessageID string `json:"message_id,omitempty"`

	// Text is set on text and thinking events.
	Text string `json:"text,omitempty"`

	// ToolCall is set on tool_call events.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// ToolResult is set on tool_result events.
	ToolResult *ToolResult `json:"tool_result,omitempty"`

	// Usage is set on usage and done events.
	Usage *Usage `json:"usage,omitempty"`

	// Err is set on error events.
	Err error `json:"-"`

	// StopReason and Cost are set on done events.
	StopReason StopReason `json:"stop_reason,omitempty"`
	Cost       float64    `json:"cost,omitempty"`

	// Retry is set on retry events.
	Retry *RetryInfo `json:"retry,omitempty"`
}

// RetryInfo describes one backoff retry for observability.
type RetryInfo struct {
	Attempt    int           `json:"attempt"`
	MaxRetries int           `json:"max_retries"`
	Delay      time.Duration `json:"delay"`
	Err        error         `json:"-"`
	StatusCode int           `json:"status_code,omitempty"`
}

// StartEvent builds a start event.
func StartEvent(messageID string) StreamEvent {
	return StreamEvent{Type: EventStart, MessageID: messageID}
}

// TextEvent builds a text delta event.
func TextEvent(text string) StreamEvent {
	return StreamEvent{Type: EventText, Text: text}
}

// ThinkingEvent builds a thinking delta event.
func ThinkingEvent(text string) StreamEvent {
	return StreamEvent{Type: EventThinking, Text: text}
}

// ToolCallEvent builds a tool_call event.
func ToolCallEvent(call ToolCall) StreamEvent {
	return StreamEvent{Type: EventToolCall, ToolCall: &call}
}

// UsageEvent builds an interim usage event.
func UsageEvent(usage Usage) StreamEvent {
	return StreamEvent{Type: EventUsage, Usage: &usage}
}

// ErrorEvent builds a terminal error event.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, Err: err}
}

// DoneEvent builds a terminal done event.
func DoneEvent(reason StopReason, usage Usage) StreamEvent {
	return StreamEvent{Type: EventDone, StopReason: reason, Usage: &usage}
}
