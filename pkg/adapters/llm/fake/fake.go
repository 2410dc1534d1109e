// Package fake provides a scripted Provider for unit tests: each StreamChat
// call pops the next scripted turn and replays it as a chunk stream.
package fake

import (
	"context"
	"fmt"
	"sync"

	"tandem/pkg/adapters/llm"
)

// Turn is one scripted provider response.
type Turn struct {
	Thinking  string
	Text      string
	ToolCalls []llm.ToolCall
	Err       error
}

// Provider replays scripted turns in order. It records every call's messages
// and options so tests can assert on prompt construction and call counts.
type Provider struct {
	mu     sync.Mutex
	script []Turn
	calls  []Call
}

// Call is a recorded StreamChat invocation.
type Call struct {
	Messages []llm.Message
	Opts     llm.Options
}

// New creates a fake provider with the given script.
func New(script ...Turn) *Provider {
	return &Provider{script: script}
}

func (p *Provider) Name() string { return "fake" }

// Calls returns the recorded invocations.
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns how many times StreamChat ran.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *Provider) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	p.mu.Lock()
	idx := len(p.calls)
	msgs := make([]llm.Message, len(messages))
	copy(msgs, messages)
	p.calls = append(p.calls, Call{Messages: msgs, Opts: opts})
	if idx >= len(p.script) {
		p.mu.Unlock()
		return nil, fmt.Errorf("fake: script exhausted after %d calls", idx)
	}
	t := p.script[idx]
	p.mu.Unlock()

	ch := make(chan llm.StreamChunk, 8)
	go func() {
		defer close(ch)
		if t.Err != nil {
			ch <- llm.NewErrorChunk(t.Err)
			return
		}
		if t.Thinking != "" {
			ch <- llm.NewThinkingChunk(t.Thinking)
		}
		// stream text in two deltas when long enough, to exercise accumulation
		if len(t.Text) > 1 {
			half := len(t.Text) / 2
			ch <- llm.NewTextChunk(t.Text[:half])
			ch <- llm.NewTextChunk(t.Text[half:])
		} else if t.Text != "" {
			ch <- llm.NewTextChunk(t.Text)
		}
		if len(t.ToolCalls) > 0 {
			ch <- llm.StreamChunk{ToolCalls: t.ToolCalls}
		}
		ch <- llm.NewFinalChunk(llm.StopReasonStop, &llm.Usage{TotalTokens: len(t.Text)})
	}()
	return ch, nil
}
