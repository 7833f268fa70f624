package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/vrikshahq/vriksha/pkg/models"
)

// OllamaConfig configures the Ollama adapter.
type OllamaConfig struct {
	// BaseURL is the Ollama server address. Defaults to localhost:11434.
	BaseURL string

	// DefaultModel is used when a stream call passes an empty model id.
	DefaultModel string

	// Timeout bounds each HTTP request. Defaults to 2 minutes.
	Timeout time.Duration
}

// OllamaAdapter streams from a local Ollama server. Responses are
// newline-delimited JSON objects, one per line, the final one carrying
// done=true with token counts.
type OllamaAdapter struct {
	client       *http.Client
	baseURL      string
	defaultModel string
}

var _ Adapter = (*OllamaAdapter)(nil)

// NewOllamaAdapter creates an Ollama adapter.
func NewOllamaAdapter(cfg OllamaConfig) *OllamaAdapter {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaAdapter{
		client:       &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		defaultModel: strings.TrimSpace(cfg.DefaultModel),
	}
}

// ID returns the provider identifier.
func (a *OllamaAdapter) ID() string { return "ollama" }

// Name returns the provider name.
func (a *OllamaAdapter) Name() string { return "Ollama" }

// Models returns the configured default model, if any. Ollama serves
// whatever is pulled locally so the static list is best-effort.
func (a *OllamaAdapter) Models() []Model {
	if a.defaultModel == "" {
		return nil
	}
	return []Model{{ID: a.defaultModel, Name: a.defaultModel}}
}

// Stream sends a streaming chat request to the Ollama server.
func (a *OllamaAdapter) Stream(ctx context.Context, modelID string, msgs []models.Message, opts StreamOptions) (<-chan models.StreamEvent, error) {
	model := strings.TrimSpace(modelID)
	if model == "" {
		model = a.defaultModel
	}
	if model == "" {
		return nil, NewProviderError("ollama", "", errors.New("model is required"))
	}

	payload := ollamaChatRequest{
		Model:    model,
		Stream:   true,
		Messages: buildOllamaMessages(msgs),
	}
	if len(opts.Tools) > 0 {
		payload.Tools = convertOpenAITools(opts.Tools)
	}
	options := map[string]any{}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if len(options) > 0 {
		payload.Options = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, NewProviderError("ollama", model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			return nil, NewProviderError("ollama", model,
				fmt.Errorf("ollama status %d (read body failed: %w)", resp.StatusCode, readErr)).WithStatus(resp.StatusCode)
		}
		return nil, NewProviderError("ollama", model,
			fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
	}

	out := make(chan models.StreamEvent)
	go a.consume(ctx, resp.Body, out, model)
	return out, nil
}

func (a *OllamaAdapter) consume(ctx context.Context, body io.ReadCloser, out chan<- models.StreamEvent, model string) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, 64<<10)
	scanner.Buffer(buf, 1<<20)

	// Ollama may repeat tool calls across lines; dedupe by call identity.
	emitted := map[string]struct{}{}
	started := false
	sawToolCall := false

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp ollamaChatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			sendEvent(ctx, out, models.ErrorEvent(NewProviderError("ollama", model, fmt.Errorf("decode response: %w", err))))
			return
		}
		if resp.Error != "" {
			sendEvent(ctx, out, models.ErrorEvent(NewProviderError("ollama", model, errors.New(resp.Error))))
			return
		}

		if !started {
			// Ollama has no message id; synthesize one for the stream.
			if !sendEvent(ctx, out, models.StartEvent(uuid.NewString())) {
				return
			}
			started = true
		}

		if resp.Message != nil {
			if resp.Message.Thinking != "" {
				if !sendEvent(ctx, out, models.ThinkingEvent(resp.Message.Thinking)) {
					return
				}
			}
			if resp.Message.Content != "" {
				if !sendEvent(ctx, out, models.TextEvent(resp.Message.Content)) {
					return
				}
			}
			for _, tc := range resp.Message.ToolCalls {
				callID := strings.TrimSpace(tc.ID)
				if callID == "" {
					callID = ollamaToolCallKey(tc)
					if callID == "" {
						callID = uuid.NewString()
					}
				}
				if _, ok := emitted[callID]; ok {
					continue
				}
				emitted[callID] = struct{}{}

				call := models.ToolCall{
					ID:        callID,
					Name:      strings.TrimSpace(tc.Function.Name),
					Arguments: tc.Function.Arguments,
				}
				if len(call.Arguments) == 0 {
					call.Arguments = json.RawMessage("{}")
				}
				if !sendEvent(ctx, out, models.ToolCallEvent(call)) {
					return
				}
				sawToolCall = true
			}
		}

		if resp.Done {
			usage := models.Usage{
				InputTokens:  resp.PromptEvalCount,
				OutputTokens: resp.EvalCount,
			}
			if !sendEvent(ctx, out, models.UsageEvent(usage)) {
				return
			}
			reason := models.StopEndTurn
			if sawToolCall {
				reason = models.StopToolUse
			}
			sendEvent(ctx, out, models.DoneEvent(reason, usage))
			return
		}
	}

	if err := scanner.Err(); err != nil {
		sendEvent(ctx, out, models.ErrorEvent(NewProviderError("ollama", model, err)))
		return
	}
	sendEvent(ctx, out, models.ErrorEvent(NewProviderError("ollama", model, errors.New("stream closed before done"))))
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Tools    []openai.Tool       `json:"tools,omitempty"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content,omitempty"`
	Thinking  string           `json:"thinking,omitempty"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	Done            bool               `json:"done"`
	Error           string             `json:"error"`
	EvalCount       int                `json:"eval_count"`
	PromptEvalCount int                `json:"prompt_eval_count"`
}

type ollamaToolCall struct {
	ID       string             `json:"id,omitempty"`
	Type     string             `json:"type,omitempty"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ollamaToolCallKey derives a stable dedupe key for tool calls without ids.
func ollamaToolCallKey(tc ollamaToolCall) string {
	name := strings.TrimSpace(tc.Function.Name)
	if name == "" {
		return ""
	}
	return name + ":" + string(tc.Function.Arguments)
}

func buildOllamaMessages(msgs []models.Message) []ollamaChatMessage {
	result := make([]ollamaChatMessage, 0, len(msgs))

	// Tool results reference calls by id; Ollama wants the tool name back.
	toolNames := map[string]string{}
	for _, msg := range msgs {
		for _, tc := range msg.ToolCalls() {
			if tc.ID != "" && tc.Name != "" {
				toolNames[tc.ID] = tc.Name
			}
		}
	}

	for _, msg := range msgs {
		switch msg.Role {
		case models.RoleSystem:
			result = append(result, ollamaChatMessage{Role: "system", Content: msg.Text()})

		case models.RoleUser:
			result = append(result, ollamaChatMessage{Role: "user", Content: msg.Text()})

		case models.RoleAssistant:
			m := ollamaChatMessage{Role: "assistant", Content: msg.Text()}
			for _, tc := range msg.ToolCalls() {
				args := tc.Arguments
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				m.ToolCalls = append(m.ToolCalls, ollamaToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ollamaToolFunction{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, m)

		case models.RoleToolResult:
			for _, tr := range msg.ToolResults() {
				result = append(result, ollamaChatMessage{
					Role:     "tool",
					Content:  tr.Content,
					ToolName: toolNames[tr.ToolCallID],
				})
			}
		}
	}
	return result
}
