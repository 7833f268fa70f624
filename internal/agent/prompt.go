package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/vrikshahq/vriksha/internal/observability"
	"github.com/vrikshahq/vriksha/internal/providers"
	"github.com/vrikshahq/vriksha/pkg/models"
)

// Prompt runs one user turn through the agent's provider, dispatching tool
// calls until the model stops asking for them, and returns the final
// assistant message. Only idle or completed agents may be prompted.
func (a *Agent) Prompt(ctx context.Context, userText string) (models.Message, error) {
	a.mu.Lock()
	if a.status != StatusIdle && a.status != StatusCompleted {
		a.mu.Unlock()
		return models.Message{}, ErrPromptConflict
	}
	if a.provider == nil {
		a.mu.Unlock()
		return models.Message{}, ErrNoProvider
	}

	promptCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.status = StatusRunning
	a.messages = append(a.messages, models.NewTextMessage(models.RoleUser, userText))
	a.mu.Unlock()
	defer cancel()

	promptCtx = observability.AddAgentID(promptCtx, a.id)
	if a.tracer != nil {
		var span trace.Span
		promptCtx, span = a.tracer.Start(promptCtx, "agent.prompt")
		defer span.End()
	}

	msg, err := a.runLoop(promptCtx)

	a.mu.Lock()
	a.cancel = nil
	switch {
	case err == nil:
		a.status = StatusCompleted
	case promptCtx.Err() != nil && a.status != StatusCompleted:
		a.status = StatusAborted
	default:
		a.status = StatusError
	}
	status := a.status
	a.mu.Unlock()

	switch status {
	case StatusAborted:
		a.emit(Event{Type: EventAgentAbort, AgentID: a.id, Time: time.Now(), Err: err})
		a.abortRunningChildren()
	case StatusError:
		a.emit(Event{Type: EventAgentError, AgentID: a.id, Time: time.Now(), Err: err})
	}
	return msg, err
}

// runLoop drives provider rounds until a non-tool-use stop.
func (a *Agent) runLoop(ctx context.Context) (models.Message, error) {
	for {
		assistant, stop, calls, err := a.streamOnce(ctx)
		if err != nil {
			return models.Message{}, err
		}

		a.mu.Lock()
		a.messages = append(a.messages, assistant)
		a.mu.Unlock()

		if stop != models.StopToolUse || len(calls) == 0 {
			a.emit(Event{Type: EventAgentDone, AgentID: a.id, Time: time.Now(), StopReason: stop})
			return assistant, nil
		}

		for _, call := range calls {
			if ctx.Err() != nil {
				return models.Message{}, ctx.Err()
			}
			result := a.dispatchTool(ctx, call)
			a.mu.Lock()
			a.messages = append(a.messages, models.Message{
				Role:  models.RoleToolResult,
				Parts: []models.ContentPart{models.ToolResultPart(result)},
			})
			a.mu.Unlock()
			a.emit(Event{Type: EventAgentToolResult, AgentID: a.id, Time: time.Now(), ToolResult: &result})
		}
	}
}

// streamOnce consumes one provider stream, emitting events and accumulating
// the assistant message.
func (a *Agent) streamOnce(ctx context.Context) (models.Message, models.StopReason, []models.ToolCall, error) {
	a.mu.Lock()
	msgs := make([]models.Message, len(a.messages))
	copy(msgs, a.messages)
	provider := a.provider
	opts := providers.StreamOptions{
		Tools:       a.toolDefinitions(),
		Temperature: a.temperature,
		MaxTokens:   a.maxTokens,
	}
	a.mu.Unlock()

	events, err := provider.Stream(ctx, msgs, opts)
	if err != nil {
		return models.Message{}, "", nil, err
	}

	var (
		text     strings.Builder
		thinking strings.Builder
		calls    []models.ToolCall
		stop     models.StopReason
		done     bool
	)

	for ev := range events {
		if ctx.Err() != nil {
			return models.Message{}, "", nil, ctx.Err()
		}
		switch ev.Type {
		case models.EventStart:
			a.emit(Event{Type: EventAgentStart, AgentID: a.id, Time: time.Now()})
		case models.EventText:
			text.WriteString(ev.Text)
			a.emit(Event{Type: EventAgentText, AgentID: a.id, Time: time.Now(), Text: ev.Text})
		case models.EventThinking:
			thinking.WriteString(ev.Text)
			a.emit(Event{Type: EventAgentThinking, AgentID: a.id, Time: time.Now(), Text: ev.Text})
		case models.EventToolCall:
			if ev.ToolCall != nil {
				calls = append(calls, *ev.ToolCall)
				a.emit(Event{Type: EventAgentToolCall, AgentID: a.id, Time: time.Now(), ToolCall: ev.ToolCall})
			}
		case models.EventUsage:
			if ev.Usage != nil {
				a.emit(Event{Type: EventAgentUsage, AgentID: a.id, Time: time.Now(), Usage: ev.Usage})
			}
		case models.EventDone:
			stop = ev.StopReason
			done = true
			if ev.Usage != nil {
				a.mu.Lock()
				a.usage.Add(*ev.Usage)
				a.mu.Unlock()
				a.emit(Event{Type: EventAgentUsage, AgentID: a.id, Time: time.Now(), Usage: ev.Usage})
			}
		case models.EventError:
			err := ev.Err
			if err == nil {
				err = fmt.Errorf("agent: provider stream failed")
			}
			return models.Message{}, "", nil, err
		case models.EventRetry:
			// Observability only; the retry layer already logs these.
		}
	}
	if !done {
		if ctx.Err() != nil {
			return models.Message{}, "", nil, ctx.Err()
		}
		return models.Message{}, "", nil, fmt.Errorf("agent: provider stream ended without done")
	}

	assistant := models.Message{Role: models.RoleAssistant}
	if thinking.Len() > 0 {
		assistant.Parts = append(assistant.Parts, models.ThinkingPart(thinking.String()))
	}
	if text.Len() > 0 {
		assistant.Parts = append(assistant.Parts, models.TextPart(text.String()))
	}
	for _, call := range calls {
		assistant.Parts = append(assistant.Parts, models.ToolCallPart(call))
	}
	return assistant, stop, calls, nil
}

// dispatchTool runs one tool call through the policy gate, schema
// validation, and the handler. Failures become isError tool results rather
// than loop errors.
func (a *Agent) dispatchTool(ctx context.Context, call models.ToolCall) (result models.ToolResult) {
	result = models.ToolResult{ToolCallID: call.ID}
	started := time.Now()
	status := "ok"
	defer func() {
		if r := recover(); r != nil {
			result.Content = fmt.Sprintf("tool %s panicked: %v", call.Name, r)
			result.IsError = true
			status = "panic"
		}
		if a.metrics != nil {
			a.metrics.RecordToolExecution(call.Name, status, time.Since(started).Seconds())
		}
	}()

	if a.policy != nil {
		if decision := a.policy.Check(call.Name, call.Arguments); !decision.Allowed {
			result.Content = "Policy denied: " + decision.Reason
			result.IsError = true
			status = "denied"
			return result
		}
	}

	handler, ok := a.tools.Get(call.Name)
	if !ok {
		result.Content = fmt.Sprintf("Unknown tool %s", call.Name)
		result.IsError = true
		status = "unknown"
		return result
	}

	if err := a.tools.Validate(call.Name, call.Arguments); err != nil {
		result.Content = err.Error()
		result.IsError = true
		status = "invalid_args"
		return result
	}

	res, err := handler.Execute(ctx, call.Arguments)
	if err != nil {
		result.Content = err.Error()
		result.IsError = true
		status = "error"
		return result
	}
	result.Content = res.Content
	result.IsError = res.IsError
	if res.IsError {
		status = "error"
	}
	return result
}

func (a *Agent) toolDefinitions() []providers.ToolDefinition {
	defs := a.tools.Definitions()
	if len(defs) == 0 {
		return nil
	}
	out := make([]providers.ToolDefinition, len(defs))
	for i, d := range defs {
		schema := d.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out[i] = providers.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: schema,
		}
	}
	return out
}

func (a *Agent) abortRunningChildren() {
	for _, child := range a.Children() {
		if child.Status() == StatusRunning {
			child.Abort()
		}
	}
}
