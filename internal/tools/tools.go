// Package tools implements the capability registry exposed to agent
// executors: web search, page fetching, image generation, and working
// directory inspection. Tools surface to the model through provider
// function calling; their results come back as conversation records.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/operantlabs/operant/internal/observability"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	// Name returns the tool name for function calling.
	// Must be a valid function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description of what the tool
	// does. The model uses it to decide when to call the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's parameters.
	Schema() json.RawMessage

	// Execute runs the tool with parameters matching Schema.
	Execute(ctx context.Context, params json.RawMessage) (*Result, error)
}

// Result contains the output of one tool execution. Failures the model can
// recover from are communicated with IsError rather than a Go error.
type Result struct {
	// Content is the tool's output (text, JSON, etc.).
	Content string `json:"content"`

	// IsError marks the result as an error condition.
	IsError bool `json:"is_error,omitempty"`

	// Files lists paths of any files the tool produced.
	Files []string `json:"files,omitempty"`
}

// Errorf builds an error Result for the model to react to.
func Errorf(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Parameter limits guarding the registry against runaway inputs.
const (
	// MaxNameLength is the maximum length of a tool name.
	MaxNameLength = 256

	// MaxParamsSize is the maximum size of tool parameter JSON (10MB).
	MaxParamsSize = 10 << 20
)

// ErrDuplicateTool is returned by Register when a name is already taken.
var ErrDuplicateTool = errors.New("tool already registered")

// Registry manages available tools with thread-safe registration and
// lookup. Registration order is preserved for listings.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	tracer *observability.Tracer
}

// SetTracer enables a span around every Execute call.
func (r *Registry) SetTracer(t *observability.Tracer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tracer = t
}

// NewRegistry creates an empty registry ready for registration.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. A name collision is rejected rather than replacing
// the existing tool.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" {
		return errors.New("tool name is empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxNameLength)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns the registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out)
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Execute runs a tool by name with the given JSON parameters. An unknown
// name or oversized parameters produce an error Result, not a Go error, so
// the model can correct itself.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*Result, error) {
	if len(name) > MaxNameLength {
		return Errorf("tool name exceeds maximum length of %d characters", MaxNameLength), nil
	}
	if len(params) > MaxParamsSize {
		return Errorf("tool parameters exceed maximum size of %d bytes", MaxParamsSize), nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	tracer := r.tracer
	r.mu.RUnlock()
	if !ok {
		return Errorf("tool not found: %s", name), nil
	}

	if tracer != nil {
		var span trace.Span
		ctx, span = tracer.TraceToolExecution(ctx, name)
		defer span.End()
		result, err := tool.Execute(ctx, params)
		if err != nil {
			tracer.RecordError(span, err)
		} else if result != nil && result.IsError {
			span.SetStatus(codes.Error, result.Content)
		}
		return result, err
	}
	return tool.Execute(ctx, params)
}

// Describe renders a one-line-per-tool listing for prompt injection.
func (r *Registry) Describe() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return "No tools are currently available."
	}

	var b strings.Builder
	for _, name := range r.order {
		fmt.Fprintf(&b, "- %s: %s\n", name, r.tools[name].Description())
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// schemaOf reflects a JSON Schema from a parameter struct. Built-in tools
// describe their arguments with jsonschema struct tags.
func schemaOf(v any) json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(v)
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}
