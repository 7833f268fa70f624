package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vrikshahq/vriksha/pkg/models"
)

// OpenAICompatConfig configures an adapter for any OpenAI-compatible chat
// completions endpoint. The ID distinguishes compat targets (groq, mistral,
// xai, ...) from one another in the registry.
type OpenAICompatConfig struct {
	// ID is the registry identifier, e.g. "openai" or "groq".
	ID string

	// Name is the human-readable provider name.
	Name string

	// APIKey authenticates requests (required).
	APIKey string

	// BaseURL overrides the default OpenAI API base URL. Compat targets
	// must set this.
	BaseURL string

	// DefaultModel is used when a stream call passes an empty model id.
	DefaultModel string

	// KnownModels seeds Models() for targets without a discovery endpoint.
	KnownModels []Model
}

// OpenAIAdapter streams from OpenAI-compatible chat completion endpoints.
// Tool calls arrive incrementally across delta chunks keyed by index and are
// assembled before a single tool_call event is emitted per call.
type OpenAIAdapter struct {
	client       *openai.Client
	id           string
	name         string
	defaultModel string
	knownModels  []Model
}

var _ Adapter = (*OpenAIAdapter)(nil)

// NewOpenAIAdapter creates an adapter for the given OpenAI-compatible target.
func NewOpenAIAdapter(cfg OpenAICompatConfig) (*OpenAIAdapter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.ID == "" {
		cfg.ID = "openai"
	}
	if cfg.Name == "" {
		cfg.Name = "OpenAI"
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIAdapter{
		client:       openai.NewClientWithConfig(clientCfg),
		id:           cfg.ID,
		name:         cfg.Name,
		defaultModel: cfg.DefaultModel,
		knownModels:  cfg.KnownModels,
	}, nil
}

// ID returns the provider identifier.
func (a *OpenAIAdapter) ID() string { return a.id }

// Name returns the provider name.
func (a *OpenAIAdapter) Name() string { return a.name }

// Models returns the configured model set.
func (a *OpenAIAdapter) Models() []Model {
	if len(a.knownModels) > 0 {
		return a.knownModels
	}
	return []Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", ContextSize: 128000, SupportsVision: true},
		{ID: "o3-mini", Name: "o3-mini", ContextSize: 200000},
	}
}

// ValidateKey performs a cheap authenticated call to verify credentials.
func (a *OpenAIAdapter) ValidateKey(ctx context.Context, _ string) error {
	_, err := a.client.ListModels(ctx)
	if err != nil {
		return wrapOpenAIError(err, a.id, "")
	}
	return nil
}

// Stream starts a streaming chat completion request.
func (a *OpenAIAdapter) Stream(ctx context.Context, modelID string, msgs []models.Message, opts StreamOptions) (<-chan models.StreamEvent, error) {
	model := modelID
	if model == "" {
		model = a.defaultModel
	}
	if model == "" {
		return nil, NewProviderError(a.id, "", errors.New("no model specified and no default configured"))
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertOpenAIMessages(msgs),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	if len(opts.Tools) > 0 {
		req.Tools = convertOpenAITools(opts.Tools)
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(err, a.id, model)
	}

	out := make(chan models.StreamEvent)
	go a.consume(ctx, stream, out, model)
	return out, nil
}

func (a *OpenAIAdapter) consume(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- models.StreamEvent, model string) {
	defer close(out)
	defer stream.Close()

	// Tool calls stream incrementally keyed by index; arguments accumulate
	// across chunks until the finish reason arrives.
	pending := make(map[int]*models.ToolCall)
	var usage models.Usage
	stopReason := models.StopEndTurn
	started := false
	toolsEmitted := false

	flushTools := func() bool {
		if toolsEmitted {
			return true
		}
		indexes := make([]int, 0, len(pending))
		for idx := range pending {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)
		for _, idx := range indexes {
			tc := pending[idx]
			if tc.ID == "" || tc.Name == "" {
				continue
			}
			if len(tc.Arguments) == 0 {
				tc.Arguments = json.RawMessage("{}")
			}
			if !sendEvent(ctx, out, models.ToolCallEvent(*tc)) {
				return false
			}
		}
		toolsEmitted = true
		return true
	}

	for {
		if ctx.Err() != nil {
			return
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !started {
					sendEvent(ctx, out, models.ErrorEvent(NewProviderError(a.id, model, errors.New("stream closed before any data"))))
					return
				}
				if !flushTools() {
					return
				}
				sendEvent(ctx, out, models.DoneEvent(stopReason, usage))
				return
			}
			sendEvent(ctx, out, models.ErrorEvent(wrapOpenAIError(err, a.id, model)))
			return
		}

		if !started {
			if !sendEvent(ctx, out, models.StartEvent(resp.ID)) {
				return
			}
			started = true
		}

		// The final chunk carries usage with an empty choice list when
		// stream_options.include_usage is set.
		if resp.Usage != nil {
			usage.InputTokens = resp.Usage.PromptTokens
			usage.OutputTokens = resp.Usage.CompletionTokens
			if !sendEvent(ctx, out, models.UsageEvent(usage)) {
				return
			}
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			if !sendEvent(ctx, out, models.TextEvent(choice.Delta.Content)) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call := pending[idx]
			if call == nil {
				call = &models.ToolCall{}
				pending[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Arguments = append(call.Arguments, tc.Function.Arguments...)
			}
		}

		switch choice.FinishReason {
		case openai.FinishReasonToolCalls:
			stopReason = models.StopToolUse
			if !flushTools() {
				return
			}
		case openai.FinishReasonLength:
			stopReason = models.StopMaxTokens
		case openai.FinishReasonStop:
			stopReason = models.StopEndTurn
		}
	}
}

func convertOpenAIMessages(msgs []models.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleSystem,
				Content: msg.Text(),
			})

		case models.RoleUser:
			result = append(result, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Text(),
			})

		case models.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, tc := range msg.ToolCalls() {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			result = append(result, m)

		case models.RoleToolResult:
			// One message per result, linked by tool_call_id.
			for _, tr := range msg.ToolResults() {
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    tr.Content,
					ToolCallID: tr.ToolCallID,
				})
			}
		}
	}
	return result
}

func convertOpenAITools(tools []ToolDefinition) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.InputSchema, &schema); err != nil {
			// A bad schema degrades that one tool rather than the request.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  schema,
			},
		}
	}
	return result
}

func wrapOpenAIError(err error, provider, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewProviderError(provider, model, err).WithStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewProviderError(provider, model, err).WithStatus(reqErr.HTTPStatusCode)
	}
	return NewProviderError(provider, model, err)
}
