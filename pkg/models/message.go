// Package models contains the shared data model for the Vriksha runtime:
// conversation messages, tool calls and results, and the provider stream
// event union consumed by the agent prompt loop.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem is the system prompt role.
	RoleSystem Role = "system"

	// RoleUser is the end-user role.
	RoleUser Role = "user"

	// RoleAssistant is the model response role.
	RoleAssistant Role = "assistant"

	// RoleToolResult carries tool outputs back into the conversation.
	RoleToolResult Role = "tool_result"
)

// PartType identifies the kind of a content part within a message.
type PartType string

const (
	// PartText is plain response or prompt text.
	PartText PartType = "text"

	// PartThinking is extended reasoning text streamed by supporting models.
	PartThinking PartType = "thinking"

	// PartImage is inline image data for vision-capable models.
	PartImage PartType = "image"

	// PartToolCall is a tool invocation requested by the assistant.
	PartToolCall PartType = "tool_call"

	// PartToolResult is the outcome of an executed tool call.
	PartToolResult PartType = "tool_result"
)

// ToolCall is a tool invocation requested by the assistant. Arguments are
// delivered whole; providers that stream incremental argument deltas
// accumulate them internally before emitting the call.
type ToolCall struct {
	// ID correlates the call with its eventual tool result.
	ID string `json:"id"`

	// Name is the tool to invoke.
	Name string `json:"name"`

	// Arguments is the JSON-encoded input matching the tool's schema.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of a single tool call.
type ToolResult struct {
	// ToolCallID references the ToolCall this result answers.
	ToolCallID string `json:"tool_call_id"`

	// Content is the tool output, or a human-readable failure description
	// when IsError is set.
	Content string `json:"content"`

	// IsError marks failed executions, policy denials, and unknown tools.
	IsError bool `json:"is_error,omitempty"`
}

// ContentPart is one element of a message body. Exactly the field matching
// Type is populated.
type ContentPart struct {
	Type PartType `json:"type"`

	// Text is set for PartText and PartThinking.
	Text string `json:"text,omitempty"`

	// MediaType and Data are set for PartImage.
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"data,omitempty"`

	// ToolCall is set for PartToolCall.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// ToolResult is set for PartToolResult.
	ToolResult *ToolResult `json:"tool_result,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ThinkingPart builds a thinking content part.
func ThinkingPart(text string) ContentPart {
	return ContentPart{Type: PartThinking, Text: text}
}

// ToolCallPart builds a tool_call content part.
func ToolCallPart(call ToolCall) ContentPart {
	return ContentPart{Type: PartToolCall, ToolCall: &call}
}

// ToolResultPart builds a tool_result content part.
func ToolResultPart(result ToolResult) ContentPart {
	return ContentPart{Type: PartToolResult, ToolResult: &result}
}

// Message is one element of an agent's conversation context. Contexts are
// append-only; messages are never mutated after being appended.
type Message struct {
	Role      Role          `json:"role"`
	Parts     []ContentPart `json:"parts"`
	CreatedAt time.Time     `json:"created_at,omitzero"`
}

// NewTextMessage builds a message holding a single text part.
func NewTextMessage(role Role, text string) Message {
	return Message{
		Role:      role,
		Parts:     []ContentPart{TextPart(text)},
		CreatedAt: time.Now(),
	}
}

// Text concatenates all text parts of the message.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Thinking concatenates all thinking parts of the message.
func (m Message) Thinking() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartThinking {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns all tool_call parts in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range m.Parts {
		if p.Type == PartToolCall && p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolResults returns all tool_result parts in order.
func (m Message) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range m.Parts {
		if p.Type == PartToolResult && p.ToolResult != nil {
			results = append(results, *p.ToolResult)
		}
	}
	return results
}
