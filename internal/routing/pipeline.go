package routing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/vrikshahq/vriksha/internal/observability"
	"github.com/vrikshahq/vriksha/internal/providers"
	"github.com/vrikshahq/vriksha/internal/retry"
	"github.com/vrikshahq/vriksha/pkg/models"
)

// ExhaustedError reports that every provider in the escalation chain failed.
type ExhaustedError struct {
	// Attempts is the number of providers tried.
	Attempts int

	// Cause is the last provider failure.
	Cause error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("routing: providers exhausted after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

// TemperatureAdjust optionally reshapes the base temperature per request.
type TemperatureAdjust func(base float32, task TaskType, c Complexity) float32

// Config configures a Pipeline.
type Config struct {
	// Profile selects the binding table and escalation chain.
	Profile Profile

	// Bindings overrides the profile binding table when non-nil.
	Bindings map[TaskType]Binding

	// Chain overrides the profile escalation chain when non-nil.
	Chain []Binding

	// MaxEscalations caps provider switches per stream. Zero derives the
	// cap from the chain length.
	MaxEscalations int

	// Retry configures per-provider stream retries, applied before any
	// escalation.
	Retry retry.Config

	// TemperatureAdjust is an optional hook over the base temperature.
	TemperatureAdjust TemperatureAdjust
}

// Decision is the routing outcome for one request.
type Decision struct {
	TaskType             TaskType   `json:"task_type"`
	TaskConfidence       float64    `json:"task_confidence"`
	Complexity           Complexity `json:"complexity"`
	ComplexityConfidence float64    `json:"complexity_confidence"`

	// Confidence combines both classifier confidences (geometric mean).
	Confidence float64 `json:"confidence"`

	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Rationale   string  `json:"rationale"`
	Temperature float32 `json:"temperature"`

	// SkipLLM is set when the task binds to the sentinel provider; the
	// caller handles it without a model call.
	SkipLLM bool `json:"skip_llm"`

	// EscalatedFrom lists provider ids abandoned mid-stream, in order.
	// Populated only after the stream returned by Stream has closed.
	EscalatedFrom []string `json:"escalated_from,omitempty"`
}

// Pipeline classifies requests and streams them through the bound provider,
// escalating along the profile chain when a provider fails.
type Pipeline struct {
	cfg      Config
	bindings map[TaskType]Binding
	chain    []Binding
	registry *providers.Registry
	streamer *retry.Streamer
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewPipeline creates a pipeline over the registered providers. logger and
// metrics may be nil.
func NewPipeline(cfg Config, registry *providers.Registry, logger *observability.Logger, metrics *observability.Metrics) *Pipeline {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	bindings := cfg.Bindings
	if bindings == nil {
		bindings = Bindings(cfg.Profile)
	}
	chain := cfg.Chain
	if chain == nil {
		chain = Chain(cfg.Profile)
	}
	if cfg.MaxEscalations <= 0 {
		cfg.MaxEscalations = len(chain)
	}
	if cfg.Retry == (retry.Config{}) {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Pipeline{
		cfg:      cfg,
		bindings: bindings,
		chain:    chain,
		registry: registry,
		streamer: retry.NewStreamer(cfg.Retry),
		logger:   logger,
		metrics:  metrics,
	}
}

// Classify runs both classifiers and resolves the binding, complexity floor,
// strong-model upgrade, and temperature for the request.
func (p *Pipeline) Classify(msgs []models.Message, hasTools bool) Decision {
	in := InputFrom(msgs, hasTools)
	task := ClassifyTask(in)
	comp := ClassifyComplexity(in)

	level := comp.Level
	if floor, ok := minComplexityOverrides[task.Type]; ok && level < floor {
		level = floor
	}

	binding, ok := p.bindings[task.Type]
	if !ok {
		binding = p.bindings[TaskChat]
	}
	binding = upgradeBinding(p.cfg.Profile, task.Type, level, binding)

	temp := baseTemperature(task.Type)
	if p.cfg.TemperatureAdjust != nil {
		temp = p.cfg.TemperatureAdjust(temp, task.Type, level)
	}

	return Decision{
		TaskType:             task.Type,
		TaskConfidence:       task.Confidence,
		Complexity:           level,
		ComplexityConfidence: comp.Confidence,
		Confidence:           math.Sqrt(task.Confidence * comp.Confidence),
		Provider:             binding.Provider,
		Model:                binding.Model,
		Rationale:            binding.Rationale,
		Temperature:          temp,
		SkipLLM:              binding.Provider == SkipProvider,
	}
}

// Stream classifies the request and streams it through the decided provider.
// Provider failures escalate along the chain, weakest first; when every
// candidate fails the stream ends with an ExhaustedError event. The returned
// Decision is updated with escalations once the stream closes.
func (p *Pipeline) Stream(ctx context.Context, msgs []models.Message, opts providers.StreamOptions) (*Decision, <-chan models.StreamEvent, error) {
	decision := p.Classify(msgs, len(opts.Tools) > 0)
	opts.Temperature = decision.Temperature

	if decision.SkipLLM {
		out := make(chan models.StreamEvent, 1)
		out <- models.DoneEvent(models.StopEndTurn, models.Usage{})
		close(out)
		return &decision, out, nil
	}

	candidates := p.candidates(decision)
	if len(candidates) == 0 {
		return &decision, nil, fmt.Errorf("routing: no registered provider for task %s", decision.TaskType)
	}

	out := make(chan models.StreamEvent)
	go p.run(ctx, &decision, candidates, msgs, opts, out)
	return &decision, out, nil
}

// candidates is the decided binding followed by the escalation chain,
// filtered to registered providers and deduplicated, capped so at most
// MaxEscalations switches can happen.
func (p *Pipeline) candidates(decision Decision) []Binding {
	all := append([]Binding{{decision.Provider, decision.Model, decision.Rationale}}, p.chain...)

	var out []Binding
	seen := make(map[string]struct{})
	for _, b := range all {
		key := b.Provider + "/" + b.Model
		if _, dup := seen[key]; dup || !p.registry.Has(b.Provider) {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, b)
		if len(out) == p.cfg.MaxEscalations+1 {
			break
		}
	}
	return out
}

func (p *Pipeline) run(ctx context.Context, decision *Decision, candidates []Binding, msgs []models.Message, opts providers.StreamOptions, out chan<- models.StreamEvent) {
	defer close(out)

	for i, cand := range candidates {
		adapter, ok := p.registry.Get(cand.Provider)
		if !ok {
			continue
		}
		decision.Provider = cand.Provider
		decision.Model = cand.Model

		events := p.streamer.Stream(ctx, func(ctx context.Context) (<-chan models.StreamEvent, error) {
			return adapter.Stream(ctx, cand.Model, msgs, opts)
		})

		var failure error
		for ev := range events {
			if ev.Type == models.EventError {
				failure = ev.Err
				break
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				// The consumer may already have walked away; closing the
				// channel is the only guaranteed signal.
				return
			}
		}
		if failure == nil {
			return
		}

		if ctx.Err() != nil || errors.Is(failure, context.Canceled) || errors.Is(failure, context.DeadlineExceeded) {
			select {
			case out <- models.ErrorEvent(failure):
			case <-ctx.Done():
			}
			return
		}
		if i == len(candidates)-1 {
			select {
			case out <- models.ErrorEvent(&ExhaustedError{Attempts: len(candidates), Cause: failure}):
			case <-ctx.Done():
			}
			return
		}

		decision.EscalatedFrom = append(decision.EscalatedFrom, cand.Provider)
		if p.metrics != nil {
			p.metrics.RecordEscalation(string(decision.TaskType))
		}
		p.logger.Warn(ctx, "provider stream failed, escalating",
			"provider", cand.Provider,
			"model", cand.Model,
			"next_provider", candidates[i+1].Provider,
			"error", failure,
		)
	}
}
