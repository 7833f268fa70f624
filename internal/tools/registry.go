// Package tools defines the tool boundary of the runtime: handler
// registration, JSON Schema argument validation, and the policy gate
// consulted before every dispatch.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Definition describes one tool to providers and policy engines.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Result is a tool execution outcome. IsError marks failures that should be
// surfaced to the model rather than abort the loop.
type Result struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Handler executes one tool. Execute must observe ctx for cancellation.
type Handler interface {
	Definition() Definition
	Execute(ctx context.Context, args json.RawMessage) (Result, error)
}

// PolicyDecision is the outcome of a policy check.
type PolicyDecision struct {
	Allowed bool
	Reason  string
}

// PolicyEngine gates tool dispatch. A nil engine allows everything.
type PolicyEngine interface {
	Check(toolName string, args json.RawMessage) PolicyDecision
}

// Registry holds the tools available to one agent. Registration compiles the
// tool's input schema; dispatch validates arguments against it.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	schemas  map[string]*jsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		schemas:  make(map[string]*jsonschema.Schema),
	}
}

// Register adds a handler, compiling its input schema. A handler with no
// schema accepts any arguments. Re-registering a name replaces the handler.
func (r *Registry) Register(h Handler) error {
	def := h.Definition()
	if def.Name == "" {
		return fmt.Errorf("tools: handler has no name")
	}

	var schema *jsonschema.Schema
	if len(def.InputSchema) > 0 {
		compiler := jsonschema.NewCompiler()
		url := "inmem://" + def.Name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(def.InputSchema)); err != nil {
			return fmt.Errorf("tools: schema for %s: %w", def.Name, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return fmt.Errorf("tools: schema for %s: %w", def.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = h
	if schema != nil {
		r.schemas[def.Name] = schema
	} else {
		delete(r.schemas, def.Name)
	}
	return nil
}

// Get returns the handler for a tool name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Validate checks arguments against the tool's compiled schema. Unknown
// tools and tools without schemas pass.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema := r.schemas[name]
	r.mu.RUnlock()
	if schema == nil {
		return nil
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var value any
	if err := json.Unmarshal(args, &value); err != nil {
		return fmt.Errorf("tools: arguments for %s are not valid JSON: %w", name, err)
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("tools: arguments for %s: %w", name, err)
	}
	return nil
}

// Definitions returns all registered definitions, sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.handlers))
	for _, h := range r.handlers {
		out = append(out, h.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	defs := r.Definitions()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Clone returns a shallow copy of the registry, sharing handlers and
// compiled schemas. Used when a child agent inherits its parent's tools.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	clone := NewRegistry()
	for name, h := range r.handlers {
		clone.handlers[name] = h
	}
	for name, s := range r.schemas {
		clone.schemas[name] = s
	}
	return clone
}

// Func adapts a plain function into a Handler.
type Func struct {
	Def Definition
	Fn  func(ctx context.Context, args json.RawMessage) (Result, error)
}

// Definition implements Handler.
func (f Func) Definition() Definition { return f.Def }

// Execute implements Handler.
func (f Func) Execute(ctx context.Context, args json.RawMessage) (Result, error) {
	return f.Fn(ctx, args)
}

// AllowList is a PolicyEngine permitting only the named tools.
type AllowList map[string]struct{}

// NewAllowList builds an AllowList from tool names.
func NewAllowList(names ...string) AllowList {
	l := make(AllowList, len(names))
	for _, n := range names {
		l[n] = struct{}{}
	}
	return l
}

// Check implements PolicyEngine.
func (l AllowList) Check(toolName string, _ json.RawMessage) PolicyDecision {
	if _, ok := l[toolName]; ok {
		return PolicyDecision{Allowed: true}
	}
	return PolicyDecision{Allowed: false, Reason: fmt.Sprintf("tool %s is not in the allow list", toolName)}
}
