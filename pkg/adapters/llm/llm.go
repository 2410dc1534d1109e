// Package llm defines the minimal streaming chat interface the turn engine
// needs from an inference provider, plus the named-factory registry through
// which concrete providers (ollama, openai, gemini) are constructed.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Stop reasons, normalized across providers.
const (
	StopReasonStop   = "stop"
	StopReasonLength = "length"
)

// Message is one chat message in provider-neutral form.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`

	// ToolCalls carries calls the assistant requested (role: assistant).
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool result back to its call (role: tool).
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall is a model-requested invocation. Arguments are JSON-shaped; the
// adapter delivers them verbatim and the tool layer validates them.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolSchema declares one tool offered to the model.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Usage is the token accounting a provider reports, when it does.
type Usage struct {
	PromptTokens int    `json:"prompt_tokens"`
	OutputTokens int    `json:"output_tokens"`
	TotalTokens  int    `json:"total_tokens"`
	StopReason   string `json:"stop_reason,omitempty"`
}

// Options are per-call sampling and shaping parameters. Tool schemas and a
// forced-JSON response format are mutually exclusive in a single call; the
// tool loop enforces that, adapters just obey what they are handed.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Tools       []ToolSchema
	ForceJSON   bool
}

// StreamChunk is one increment of a streamed response. Exactly one final
// chunk (Done=true) arrives per stream unless the channel ends with an error
// chunk.
type StreamChunk struct {
	TextDelta     string
	ThinkingDelta string
	ToolCalls     []ToolCall
	Usage         *Usage
	FinishReason  string
	Err           error
	Done          bool
}

// NewTextChunk wraps a text delta.
func NewTextChunk(s string) StreamChunk { return StreamChunk{TextDelta: s} }

// NewThinkingChunk wraps a reasoning delta.
func NewThinkingChunk(s string) StreamChunk { return StreamChunk{ThinkingDelta: s} }

// NewErrorChunk wraps a stream failure.
func NewErrorChunk(err error) StreamChunk { return StreamChunk{Err: err} }

// NewFinalChunk marks the end of a stream.
func NewFinalChunk(reason string, usage *Usage) StreamChunk {
	return StreamChunk{Done: true, FinishReason: reason, Usage: usage}
}

// Provider is a streaming chat model endpoint.
type Provider interface {
	// Name returns the provider name (e.g. "ollama").
	Name() string
	// StreamChat starts one model call and returns its chunk stream. The
	// returned channel is closed when the stream ends; ctx cancels it.
	StreamChat(ctx context.Context, messages []Message, opts Options) (<-chan StreamChunk, error)
}

// Factory constructs a Provider from provider-specific config.
type Factory func(ctx context.Context, cfg map[string]any) (Provider, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a Provider factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("llm: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("llm: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("llm: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve gets a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Range iterates all registered factories.
func Range(fn func(name string, f Factory)) {
	regMu.RLock()
	defer regMu.RUnlock()
	for n, f := range factories {
		fn(n, f)
	}
}

// Collect drains a stream into its full text, tool calls, and final chunk.
// Convenience for callers that do not render deltas.
func Collect(ch <-chan StreamChunk) (text string, calls []ToolCall, last StreamChunk, err error) {
	for c := range ch {
		if c.Err != nil {
			return text, calls, c, c.Err
		}
		text += c.TextDelta
		calls = append(calls, c.ToolCalls...)
		if c.Done {
			last = c
		}
	}
	return text, calls, last, nil
}
