// Package tools defines schema-validated callable tools and the registry the
// tool loop draws from. Arguments are validated against the tool's JSON
// Schema before the handler runs; handler panics are contained and returned
// as errors.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"tandem/pkg/adapters/llm"
	"tandem/pkg/errmodel"
)

// Descriptor declares the static interface of a tool. InputSchema is a JSON
// Schema (draft 2020-12).
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Handler executes a tool with already-validated args.
type Handler func(ctx context.Context, args map[string]any) (map[string]any, error)

// Tool pairs a descriptor with its handler.
type Tool struct {
	Descriptor Descriptor
	Handler    Handler
}

// Registry keeps tools by name. A registry is assembled per deployment and
// handed to the tool loop; it is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool. The input schema must compile.
func (r *Registry) Register(t Tool) error {
	if t.Descriptor.Name == "" {
		return fmt.Errorf("tools: empty tool name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: nil handler for %q", t.Descriptor.Name)
	}
	if err := CompileSchema(t.Descriptor.InputSchema); err != nil {
		return fmt.Errorf("tools: invalid schema for %q: %w", t.Descriptor.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Descriptor.Name]; exists {
		return fmt.Errorf("tools: %q already registered", t.Descriptor.Name)
	}
	r.tools[t.Descriptor.Name] = t
	return nil
}

// Resolve returns a tool by name.
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Schemas renders the registry in the shape offered to a provider.
func (r *Registry) Schemas() []llm.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]llm.ToolSchema, 0, len(names))
	for _, n := range names {
		d := r.tools[n].Descriptor
		out = append(out, llm.ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		})
	}
	return out
}

// SafeInvoke validates args against the tool's input schema and runs the
// handler with panic containment. Validation failures are protocol errors;
// handler panics come back as system errors, never as a crash.
func SafeInvoke(ctx context.Context, t Tool, args map[string]any) (out map[string]any, err error) {
	if err := Validate(t.Descriptor.InputSchema, args); err != nil {
		return nil, errmodel.Protocol("invalid_tool_args", "tool input validation failed",
			map[string]any{"tool": t.Descriptor.Name, "error": err.Error()})
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = errmodel.System("tool_panic", "tool handler panicked",
				map[string]any{"tool": t.Descriptor.Name, "panic": fmt.Sprint(r)}, nil)
		}
	}()
	return t.Handler(ctx, args)
}
