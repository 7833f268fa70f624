// Package agent implements the supervised agent tree: spawning, delegation,
// the prompt loop with tool dispatch, and event bubbling toward the root.
package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vrikshahq/vriksha/internal/observability"
	"github.com/vrikshahq/vriksha/internal/providers"
	"github.com/vrikshahq/vriksha/internal/routing"
	"github.com/vrikshahq/vriksha/internal/tools"
	"github.com/vrikshahq/vriksha/pkg/models"
)

// Status is the agent lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
	StatusError     Status = "error"
)

const (
	// DefaultMaxDepth bounds how deep the agent tree may grow.
	DefaultMaxDepth = 5

	// DefaultMaxSubAgents bounds children per parent.
	DefaultMaxSubAgents = 8
)

var (
	// ErrPromptConflict is returned when an agent is prompted while a
	// prompt is already in flight.
	ErrPromptConflict = errors.New("agent: prompt already in progress")

	// ErrNoProvider is returned when an agent with no provider binding is
	// prompted.
	ErrNoProvider = errors.New("agent: no provider bound")

	// ErrDepthExceeded is returned by Spawn past the depth bound.
	ErrDepthExceeded = errors.New("agent: max depth exceeded")

	// ErrTooManySubAgents is returned by Spawn past the fan-out bound.
	ErrTooManySubAgents = errors.New("agent: max sub-agents exceeded")

	// ErrChildRunning is returned by RemoveChild for a running child.
	ErrChildRunning = errors.New("agent: child is running")

	// ErrChildNotFound is returned by RemoveChild for an unknown id.
	ErrChildNotFound = errors.New("agent: child not found")
)

// ProviderBinding streams one completion for an agent's context. It is
// satisfied by a fixed adapter+model pair or by the routing pipeline.
type ProviderBinding interface {
	Stream(ctx context.Context, msgs []models.Message, opts providers.StreamOptions) (<-chan models.StreamEvent, error)
}

// AdapterBinding binds an agent to one adapter and model.
type AdapterBinding struct {
	Adapter providers.Adapter
	Model   string
}

// Stream implements ProviderBinding.
func (b AdapterBinding) Stream(ctx context.Context, msgs []models.Message, opts providers.StreamOptions) (<-chan models.StreamEvent, error) {
	return b.Adapter.Stream(ctx, b.Model, msgs, opts)
}

// PipelineBinding binds an agent to the routing pipeline, which picks the
// provider and model per request.
type PipelineBinding struct {
	Pipeline *routing.Pipeline
}

// Stream implements ProviderBinding.
func (b PipelineBinding) Stream(ctx context.Context, msgs []models.Message, opts providers.StreamOptions) (<-chan models.StreamEvent, error) {
	_, events, err := b.Pipeline.Stream(ctx, msgs, opts)
	return events, err
}

// Config configures a root agent.
type Config struct {
	// Purpose is the human-readable role of the agent.
	Purpose string

	// SystemPrompt seeds the context as a system message when set.
	SystemPrompt string

	Provider ProviderBinding
	Tools    *tools.Registry
	Policy   tools.PolicyEngine

	// Sink receives this agent's events plus wrapped descendant events.
	Sink EventSink

	// MaxDepth and MaxSubAgents bound the tree. Zero applies defaults.
	MaxDepth     int
	MaxSubAgents int

	// Temperature and MaxTokens are passed through to the provider.
	Temperature float32
	MaxTokens   int

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// SpawnConfig configures a child agent. Zero-valued fields inherit from the
// parent.
type SpawnConfig struct {
	Purpose      string
	SystemPrompt string

	Provider ProviderBinding
	Tools    *tools.Registry
	Policy   tools.PolicyEngine
	Sink     EventSink

	// BubbleEvents controls whether this child's events propagate to the
	// parent. Nil means true.
	BubbleEvents *bool

	Temperature *float32
	MaxTokens   int
}

// Agent is one node of the supervised tree. A parent exclusively owns its
// children; children hold a back-reference for traversal and bubbling only.
type Agent struct {
	id      string
	purpose string
	depth   int
	parent  *Agent

	mu       sync.Mutex
	children []*Agent
	status   Status
	messages []models.Message
	cancel   context.CancelFunc
	usage    models.Usage

	provider ProviderBinding
	tools    *tools.Registry
	policy   tools.PolicyEngine
	sink     EventSink
	bubble   bool

	maxDepth     int
	maxSubAgents int
	temperature  float32
	maxTokens    int

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
}

// New creates a root agent.
func New(cfg Config) *Agent {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.MaxSubAgents <= 0 {
		cfg.MaxSubAgents = DefaultMaxSubAgents
	}
	if cfg.Tools == nil {
		cfg.Tools = tools.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	a := &Agent{
		id:           uuid.NewString(),
		purpose:      cfg.Purpose,
		status:       StatusIdle,
		provider:     cfg.Provider,
		tools:        cfg.Tools,
		policy:       cfg.Policy,
		sink:         cfg.Sink,
		bubble:       true,
		maxDepth:     cfg.MaxDepth,
		maxSubAgents: cfg.MaxSubAgents,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
	}
	if cfg.SystemPrompt != "" {
		a.messages = append(a.messages, models.NewTextMessage(models.RoleSystem, cfg.SystemPrompt))
	}
	return a
}

// ID returns the agent's unique id.
func (a *Agent) ID() string { return a.id }

// Purpose returns the agent's role description.
func (a *Agent) Purpose() string { return a.purpose }

// Depth returns the agent's depth in the tree; the root is 0.
func (a *Agent) Depth() int { return a.depth }

// Status returns the current lifecycle state.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Messages returns a copy of the agent's conversation context.
func (a *Agent) Messages() []models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Usage returns the accumulated token usage across prompts.
func (a *Agent) Usage() models.Usage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// SetProvider rebinds the agent's provider.
func (a *Agent) SetProvider(p ProviderBinding) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.provider = p
}

// RegisterTool adds a tool to the agent's registry.
func (a *Agent) RegisterTool(h tools.Handler) error {
	return a.tools.Register(h)
}

// Spawn creates a child agent, inheriting provider, tools, policy, and
// limits unless overridden. It enforces the depth and fan-out bounds and
// emits subagent:spawn.
func (a *Agent) Spawn(cfg SpawnConfig) (*Agent, error) {
	a.mu.Lock()
	if a.depth+1 > a.maxDepth {
		a.mu.Unlock()
		a.recordSpawn("depth_exceeded")
		return nil, ErrDepthExceeded
	}
	if len(a.children) >= a.maxSubAgents {
		a.mu.Unlock()
		a.recordSpawn("fanout_exceeded")
		return nil, ErrTooManySubAgents
	}

	child := &Agent{
		id:           uuid.NewString(),
		purpose:      cfg.Purpose,
		depth:        a.depth + 1,
		parent:       a,
		status:       StatusIdle,
		provider:     a.provider,
		tools:        a.tools.Clone(),
		policy:       a.policy,
		sink:         cfg.Sink,
		bubble:       cfg.BubbleEvents == nil || *cfg.BubbleEvents,
		maxDepth:     a.maxDepth,
		maxSubAgents: a.maxSubAgents,
		temperature:  a.temperature,
		maxTokens:    a.maxTokens,
		logger:       a.logger,
		metrics:      a.metrics,
		tracer:       a.tracer,
	}
	if cfg.Provider != nil {
		child.provider = cfg.Provider
	}
	if cfg.Tools != nil {
		child.tools = cfg.Tools
	}
	if cfg.Policy != nil {
		child.policy = cfg.Policy
	}
	if cfg.Temperature != nil {
		child.temperature = *cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		child.maxTokens = cfg.MaxTokens
	}
	if cfg.SystemPrompt != "" {
		child.messages = append(child.messages, models.NewTextMessage(models.RoleSystem, cfg.SystemPrompt))
	}

	a.children = append(a.children, child)
	a.mu.Unlock()

	a.recordSpawn("ok")
	if a.metrics != nil {
		a.metrics.ActiveAgents.WithLabelValues(depthLabel(child.depth)).Inc()
	}
	a.emit(Event{
		Type:          EventSubagentSpawn,
		AgentID:       a.id,
		Time:          time.Now(),
		SourceAgentID: child.id,
		SourcePurpose: child.purpose,
		SourceDepth:   child.depth,
	})
	return child, nil
}

func (a *Agent) recordSpawn(outcome string) {
	if a.metrics != nil {
		a.metrics.AgentSpawnCounter.WithLabelValues(outcome).Inc()
	}
}

// emit delivers an event to this agent's sink and bubbles it to the parent.
func (a *Agent) emit(ev Event) {
	if a.sink != nil {
		a.sink(ev)
	}
	if a.bubble && a.parent != nil {
		a.parent.bubbleFrom(a, ev)
	}
}

// bubbleFrom wraps a child's event once and propagates it further up, so an
// event at depth d reaches the root with exactly d wraps.
func (a *Agent) bubbleFrom(child *Agent, ev Event) {
	wrapped := Event{
		Type:          EventSubagentEvent,
		AgentID:       a.id,
		Time:          ev.Time,
		SourceAgentID: child.id,
		SourcePurpose: child.purpose,
		SourceDepth:   child.depth,
		Original:      &ev,
	}
	if a.sink != nil {
		a.sink(wrapped)
	}
	if a.bubble && a.parent != nil {
		a.parent.bubbleFrom(a, wrapped)
	}
}

func depthLabel(depth int) string {
	switch depth {
	case 0:
		return "0"
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "4+"
	}
}
