package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/vrikshahq/vriksha/pkg/models"
)

// AnthropicConfig configures the Anthropic adapter.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL overrides the default API base URL.
	BaseURL string

	// DefaultModel is used when a stream call passes an empty model id.
	DefaultModel string
}

// AnthropicAdapter streams from the Anthropic Messages API. Tool input JSON
// arrives as input_json_delta fragments which are accumulated per content
// block and emitted as one tool_call event at content_block_stop.
type AnthropicAdapter struct {
	client       anthropic.Client
	defaultModel string
}

var _ Adapter = (*AnthropicAdapter)(nil)

// NewAnthropicAdapter creates an Anthropic adapter.
func NewAnthropicAdapter(cfg AnthropicConfig) (*AnthropicAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicAdapter{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// ID returns the provider identifier.
func (a *AnthropicAdapter) ID() string { return "anthropic" }

// Name returns the provider name.
func (a *AnthropicAdapter) Name() string { return "Anthropic" }

// Models returns the served model set.
func (a *AnthropicAdapter) Models() []Model {
	return []Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

// Stream starts a streaming Messages request.
func (a *AnthropicAdapter) Stream(ctx context.Context, modelID string, msgs []models.Message, opts StreamOptions) (<-chan models.StreamEvent, error) {
	model := modelID
	if model == "" {
		model = a.defaultModel
	}

	params, err := a.buildParams(model, msgs, opts)
	if err != nil {
		return nil, NewProviderError("anthropic", model, err)
	}

	stream := a.client.Messages.NewStreaming(ctx, params)
	out := make(chan models.StreamEvent)
	go a.consume(ctx, stream, out, model)
	return out, nil
}

func (a *AnthropicAdapter) buildParams(model string, msgs []models.Message, opts StreamOptions) (anthropic.MessageNewParams, error) {
	converted, err := convertAnthropicMessages(msgs)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}

	if system := systemPrompt(msgs); system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(opts.Temperature))
	}
	if len(opts.Tools) > 0 {
		tools, err := convertAnthropicTools(opts.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, err
		}
		params.Tools = tools
	}
	if opts.EnableThinking {
		budget := int64(opts.ThinkingBudgetTokens)
		if budget < 1024 {
			budget = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}
	return params, nil
}

// maxEmptyStreamEvents bounds consecutive no-op events before the stream is
// treated as malformed.
const maxEmptyStreamEvents = 300

func (a *AnthropicAdapter) consume(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], out chan<- models.StreamEvent, model string) {
	defer close(out)

	var toolCall *models.ToolCall
	var toolInput strings.Builder
	var usage models.Usage
	stopReason := models.StopEndTurn
	emptyEvents := 0
	started := false

	for stream.Next() {
		if ctx.Err() != nil {
			return
		}

		event := stream.Current()
		processed := false

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			usage.InputTokens = int(ms.Message.Usage.InputTokens)
			usage.CacheReadTokens = int(ms.Message.Usage.CacheReadInputTokens)
			if !sendEvent(ctx, out, models.StartEvent(ms.Message.ID)) {
				return
			}
			started = true
			processed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				tu := block.AsToolUse()
				toolCall = &models.ToolCall{ID: tu.ID, Name: tu.Name}
				toolInput.Reset()
				processed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !sendEvent(ctx, out, models.TextEvent(delta.Text)) {
						return
					}
					processed = true
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					if !sendEvent(ctx, out, models.ThinkingEvent(delta.Thinking)) {
						return
					}
					processed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					toolInput.WriteString(delta.PartialJSON)
					processed = true
				}
			}

		case "content_block_stop":
			if toolCall != nil {
				raw := toolInput.String()
				if raw == "" {
					raw = "{}"
				}
				toolCall.Arguments = json.RawMessage(raw)
				if !sendEvent(ctx, out, models.ToolCallEvent(*toolCall)) {
					return
				}
				toolCall = nil
				processed = true
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(md.Usage.OutputTokens)
				if !sendEvent(ctx, out, models.UsageEvent(usage)) {
					return
				}
			}
			if md.Delta.StopReason != "" {
				stopReason = mapAnthropicStopReason(string(md.Delta.StopReason))
			}
			processed = true

		case "message_stop":
			if !started {
				sendEvent(ctx, out, models.ErrorEvent(NewProviderError("anthropic", model, errors.New("stream ended before message_start"))))
				return
			}
			sendEvent(ctx, out, models.DoneEvent(stopReason, usage))
			return

		case "error":
			sendEvent(ctx, out, models.ErrorEvent(NewProviderError("anthropic", model, errors.New("anthropic stream error"))))
			return
		}

		if processed {
			emptyEvents = 0
		} else {
			emptyEvents++
			if emptyEvents >= maxEmptyStreamEvents {
				sendEvent(ctx, out, models.ErrorEvent(NewProviderError("anthropic", model,
					fmt.Errorf("stream appears malformed: %d consecutive empty events", emptyEvents))))
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		sendEvent(ctx, out, models.ErrorEvent(wrapAnthropicError(err, model)))
		return
	}
	// Stream ended without message_stop; treat as transport failure.
	sendEvent(ctx, out, models.ErrorEvent(NewProviderError("anthropic", model, errors.New("stream closed before message_stop"))))
}

func mapAnthropicStopReason(reason string) models.StopReason {
	switch reason {
	case "max_tokens":
		return models.StopMaxTokens
	case "tool_use":
		return models.StopToolUse
	case "stop_sequence":
		return models.StopSequence
	default:
		return models.StopEndTurn
	}
}

func convertAnthropicMessages(msgs []models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, msg := range msgs {
		// System messages are passed separately via params.System.
		if msg.Role == models.RoleSystem {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				if part.Text != "" {
					content = append(content, anthropic.NewTextBlock(part.Text))
				}
			case models.PartToolCall:
				if part.ToolCall == nil {
					continue
				}
				var input map[string]any
				if err := json.Unmarshal(part.ToolCall.Arguments, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call arguments: %w", err)
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
			case models.PartToolResult:
				if part.ToolResult == nil {
					continue
				}
				content = append(content, anthropic.NewToolResultBlock(
					part.ToolResult.ToolCallID,
					part.ToolResult.Content,
					part.ToolResult.IsError,
				))
			}
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// User and tool_result roles both map to user messages.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func convertAnthropicTools(tools []ToolDefinition) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, tool.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name)
		}
		param.OfTool.Description = anthropic.String(tool.Description)
		result = append(result, param)
	}
	return result, nil
}

func wrapAnthropicError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := NewProviderError("anthropic", model, err).WithStatus(apiErr.StatusCode)
		if apiErr.Response != nil {
			if ra := parseRetryAfter(apiErr.Response.Header.Get("Retry-After")); ra > 0 {
				pe = pe.WithRetryAfter(ra)
			}
		}
		return pe
	}
	return NewProviderError("anthropic", model, err)
}
