package agent

import (
	"time"

	"github.com/vrikshahq/vriksha/pkg/models"
)

// EventType names the events an agent emits to its sink.
type EventType string

const (
	EventAgentStart      EventType = "agent:start"
	EventAgentText       EventType = "agent:text"
	EventAgentThinking   EventType = "agent:thinking"
	EventAgentToolCall   EventType = "agent:tool_call"
	EventAgentToolResult EventType = "agent:tool_result"
	EventAgentUsage      EventType = "agent:usage"
	EventAgentDone       EventType = "agent:done"
	EventAgentAbort      EventType = "agent:abort"
	EventAgentError      EventType = "agent:error"

	// EventSubagentSpawn is emitted by a parent when it creates a child.
	EventSubagentSpawn EventType = "subagent:spawn"

	// EventSubagentEvent wraps a child's event on its way up the tree, one
	// wrap per hop, so the root sees a flattened stream of all descendant
	// activity.
	EventSubagentEvent EventType = "subagent:event"
)

// Event is one agent lifecycle or stream observation.
type Event struct {
	Type    EventType `json:"type"`
	AgentID string    `json:"agent_id"`
	Time    time.Time `json:"time"`

	// Text carries text and thinking deltas.
	Text string `json:"text,omitempty"`

	ToolCall   *models.ToolCall   `json:"tool_call,omitempty"`
	ToolResult *models.ToolResult `json:"tool_result,omitempty"`
	Usage      *models.Usage      `json:"usage,omitempty"`
	StopReason models.StopReason  `json:"stop_reason,omitempty"`
	Err        error              `json:"-"`

	// Wrapper fields, set on subagent:spawn and subagent:event.
	SourceAgentID string `json:"source_agent_id,omitempty"`
	SourcePurpose string `json:"source_purpose,omitempty"`
	SourceDepth   int    `json:"source_depth,omitempty"`
	Original      *Event `json:"original,omitempty"`
}

// EventSink receives agent events. Sinks are invoked synchronously from the
// stream consumer and must not block.
type EventSink func(Event)

// Unwrap follows subagent:event wrappers to the innermost event.
func (e Event) Unwrap() Event {
	ev := e
	for ev.Type == EventSubagentEvent && ev.Original != nil {
		ev = *ev.Original
	}
	return ev
}

// WrapDepth counts how many subagent:event wrappers enclose the innermost
// event.
func (e Event) WrapDepth() int {
	depth := 0
	ev := e
	for ev.Type == EventSubagentEvent && ev.Original != nil {
		depth++
		ev = *ev.Original
	}
	return depth
}
