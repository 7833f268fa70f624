// Package providers implements streaming LLM provider adapters for the
// Vriksha runtime.
//
// Each adapter is a black box that turns (model, conversation, options) into
// a lazy sequence of models.StreamEvent values delivered over a channel. A
// well-formed sequence starts with exactly one start event and ends with
// exactly one done event; transport failures end the sequence with a single
// error event instead. Adapters never retry internally; retry is owned by
// the retry package so backoff behavior is uniform across providers.
package providers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/vrikshahq/vriksha/pkg/models"
)

// Model describes an available model and its capabilities.
type Model struct {
	// ID is the API identifier for the model.
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// ContextSize is the maximum token context window.
	ContextSize int `json:"context_size,omitempty"`

	// SupportsVision indicates if the model can process images.
	SupportsVision bool `json:"supports_vision,omitempty"`
}

// ToolDefinition describes a tool exposed to the model.
type ToolDefinition struct {
	// Name is the function identifier presented to the model.
	Name string `json:"name"`

	// Description tells the model when to use the tool.
	Description string `json:"description"`

	// InputSchema is the JSON Schema for the tool's arguments.
	InputSchema json.RawMessage `json:"input_schema"`
}

// StreamOptions carries per-call streaming parameters. Cancellation is
// cooperative through the context passed to Stream; when it fires the
// adapter stops producing events promptly and closes the channel.
type StreamOptions struct {
	// Tools lists tool definitions available to the model.
	Tools []ToolDefinition

	// MaxTokens caps the response length. Zero uses the provider default.
	MaxTokens int

	// Temperature controls sampling. Zero omits the parameter.
	Temperature float32

	// EnableThinking turns on extended reasoning for supporting models.
	EnableThinking bool

	// ThinkingBudgetTokens bounds extended reasoning when enabled.
	ThinkingBudgetTokens int
}

// Adapter is the pluggable provider boundary. Implementations must be safe
// for concurrent use; each Stream call produces an independent sequence
// consumed by exactly one consumer.
type Adapter interface {
	// ID returns the stable provider identifier used for routing.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the models this adapter can serve.
	Models() []Model

	// Stream starts a streaming request and returns the event sequence.
	// An error return means the request could not be started at all;
	// failures after the stream opens arrive as error events.
	Stream(ctx context.Context, modelID string, context []models.Message, opts StreamOptions) (<-chan models.StreamEvent, error)
}

// sendEvent delivers ev unless ctx fires first, reporting whether the event
// was sent. Producer goroutines must use it for every send: a consumer that
// abandons the channel on cancellation would otherwise park the producer on
// an unbuffered send forever, leaking the goroutine and its transport.
func sendEvent(ctx context.Context, out chan<- models.StreamEvent, ev models.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// KeyValidator is implemented by adapters that can verify credentials.
type KeyValidator interface {
	ValidateKey(ctx context.Context, key string) error
}

// Registry holds the process-wide set of registered adapters. It is
// populated at startup and read-mostly thereafter.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter keyed by its ID, replacing any previous entry.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.ID()] = a
}

// Get returns the adapter for the given provider id.
func (r *Registry) Get(id string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[id]
	return a, ok
}

// Has reports whether a provider id is registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// IDs returns the registered provider ids.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	return ids
}

// systemPrompt extracts and concatenates system messages from the context.
func systemPrompt(msgs []models.Message) string {
	var system string
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Text()
		}
	}
	return system
}
