// Package toolloop wraps model calls that may request deterministic tool
// execution. Tools run synchronously between calls; tool use and an enforced
// JSON response format never share a single provider call.
package toolloop

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"tandem/pkg/adapters/llm"
	"tandem/pkg/errmodel"
	"tandem/pkg/tools"
)

// DefaultMaxSteps bounds how many tool rounds a single chat may take.
const DefaultMaxSteps = 4

// Options shape one chat.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	// MaxSteps caps tool rounds; 0 means DefaultMaxSteps.
	MaxSteps int
	// ResponseFormat requests schema-conformant JSON text. When set and a
	// round returns zero tool calls, one extra tools-disabled call produces
	// the final text.
	ResponseFormat bool
}

// ToolResult reports one executed tool call.
type ToolResult struct {
	CallID  string
	Name    string
	Payload string // JSON fed back to the model
	IsError bool
}

// Event is one increment of a chat: at most one field set.
type Event struct {
	TextDelta     string
	ThinkingDelta string
	ToolCall      *llm.ToolCall
	ToolResult    *ToolResult
	Err           error
	Done          bool
	// Text is the accumulated final text, set on the Done event.
	Text string
}

// Result is the outcome of a drained chat.
type Result struct {
	Text  string
	Steps int
	Usage *llm.Usage
}

// ChatStream runs the tool loop and streams its events. The channel closes
// after a Done or Err event. Unknown tool names and malformed tool arguments
// are hard errors; handler failures are fed back to the model as structured
// tool messages.
func ChatStream(ctx context.Context, provider llm.Provider, registry *tools.Registry, messages []llm.Message, opts Options) <-chan Event {
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		run(ctx, provider, registry, messages, opts, out)
	}()
	return out
}

// Run drains ChatStream into a Result.
func Run(ctx context.Context, provider llm.Provider, registry *tools.Registry, messages []llm.Message, opts Options) (Result, error) {
	var res Result
	for ev := range ChatStream(ctx, provider, registry, messages, opts) {
		if ev.Err != nil {
			return res, ev.Err
		}
		if ev.ToolResult != nil {
			res.Steps++
		}
		if ev.Done {
			res.Text = ev.Text
		}
	}
	return res, nil
}

func run(ctx context.Context, provider llm.Provider, registry *tools.Registry, messages []llm.Message, opts Options, out chan<- Event) {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	var schemas []llm.ToolSchema
	if registry != nil {
		schemas = registry.Schemas()
	}

	msgs := make([]llm.Message, len(messages))
	copy(msgs, messages)

	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			out <- Event{Err: err}
			return
		}

		text, calls, err := call(ctx, provider, msgs, llm.Options{
			Model:       opts.Model,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
			Tools:       schemas,
		}, out)
		if err != nil {
			out <- Event{Err: errmodel.Collaborator("provider_stream", "model call failed", map[string]any{"step": step}, err)}
			return
		}

		if len(calls) == 0 {
			// clean round
			if opts.ResponseFormat {
				text, err = formattedCall(ctx, provider, msgs, opts, out)
				if err != nil {
					out <- Event{Err: err}
					return
				}
			}
			out <- Event{Done: true, Text: text}
			return
		}

		assistant := llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls}
		msgs = append(msgs, assistant)

		for i := range calls {
			tc := calls[i]
			out <- Event{ToolCall: &tc}

			toolMsg, hardErr := execute(ctx, registry, tc)
			if hardErr != nil {
				out <- Event{Err: hardErr}
				return
			}
			out <- Event{ToolResult: toolMsg}
			msgs = append(msgs, llm.Message{
				Role:       llm.RoleTool,
				Name:       tc.Name,
				Content:    toolMsg.Payload,
				ToolCallID: tc.ID,
			})
		}
	}

	out <- Event{Err: errmodel.Budget("max_steps", "tool calls still arriving at step cap",
		map[string]any{"max_steps": maxSteps})}
}

// call streams one provider call, forwarding deltas and accumulating the rest.
func call(ctx context.Context, provider llm.Provider, msgs []llm.Message, popts llm.Options, out chan<- Event) (string, []llm.ToolCall, error) {
	ch, err := provider.StreamChat(ctx, msgs, popts)
	if err != nil {
		return "", nil, err
	}
	var (
		text  string
		calls []llm.ToolCall
	)
	for c := range ch {
		if c.Err != nil {
			return text, calls, c.Err
		}
		if c.TextDelta != "" {
			text += c.TextDelta
			out <- Event{TextDelta: c.TextDelta}
		}
		if c.ThinkingDelta != "" {
			out <- Event{ThinkingDelta: c.ThinkingDelta}
		}
		calls = append(calls, c.ToolCalls...)
	}
	return text, calls, nil
}

// formattedCall issues the one extra tools-disabled call that produces
// schema-conformant text after a clean round.
func formattedCall(ctx context.Context, provider llm.Provider, msgs []llm.Message, opts Options, out chan<- Event) (string, error) {
	text, calls, err := call(ctx, provider, msgs, llm.Options{
		Model:       opts.Model,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		ForceJSON:   true,
	}, out)
	if err != nil {
		return "", errmodel.Collaborator("provider_stream", "formatted call failed", nil, err)
	}
	if len(calls) > 0 {
		return "", errmodel.Protocol("tools_in_formatted_call", "model requested tools in a tools-disabled call", nil)
	}
	return text, nil
}

// execute runs one tool call. The returned error is a hard abort; handler
// failures come back as an error-shaped tool message instead.
func execute(ctx context.Context, registry *tools.Registry, tc llm.ToolCall) (*ToolResult, error) {
	if registry == nil {
		return nil, errmodel.Protocol("unknown_tool", "no tools are registered", map[string]any{"tool": tc.Name})
	}
	tool, ok := registry.Resolve(tc.Name)
	if !ok {
		return nil, errmodel.Protocol("unknown_tool", "model requested a tool it was not offered",
			map[string]any{"tool": tc.Name})
	}

	var args map[string]any
	if len(tc.Arguments) > 0 {
		if err := json.Unmarshal(tc.Arguments, &args); err != nil {
			return nil, errmodel.Protocol("malformed_tool_args", "tool arguments are not valid JSON",
				map[string]any{"tool": tc.Name, "error": err.Error()})
		}
	}

	result, err := tools.SafeInvoke(ctx, tool, args)
	if err != nil {
		log.Debug().Err(err).Str("tool", tc.Name).Msg("toolloop: tool failed, feeding error back")
		return &ToolResult{CallID: tc.ID, Name: tc.Name, Payload: errmodel.ToolPayload(err), IsError: true}, nil
	}
	payload, merr := json.Marshal(result)
	if merr != nil {
		return &ToolResult{CallID: tc.ID, Name: tc.Name, Payload: errmodel.ToolPayload(merr), IsError: true}, nil
	}
	return &ToolResult{CallID: tc.ID, Name: tc.Name, Payload: string(payload)}, nil
}
