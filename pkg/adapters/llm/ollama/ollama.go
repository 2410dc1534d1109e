// Package ollama adapts a local Ollama endpoint to the llm.Provider
// interface. It is the default provider: a local-first assistant should not
// need an API key to answer.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog/log"

	"tandem/pkg/adapters/llm"
)

const defaultModel = "qwen3:8b"

type clientWrapper struct {
	client *api.Client
	model  string
}

func (c *clientWrapper) Name() string { return "ollama" }

func (c *clientWrapper) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	req := &api.ChatRequest{
		Model:    model,
		Messages: convertMessages(messages),
		Stream:   boolPtr(true),
	}
	options := map[string]any{}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		options["num_predict"] = opts.MaxTokens
	}
	if len(options) > 0 {
		req.Options = options
	}
	if opts.ForceJSON {
		req.Format = json.RawMessage(`"json"`)
	}
	if len(opts.Tools) > 0 {
		tools, err := convertTools(opts.Tools)
		if err != nil {
			return nil, fmt.Errorf("ollama: convert tools: %w", err)
		}
		req.Tools = tools
	}

	chunkCh := make(chan llm.StreamChunk, 64)
	startCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		started := false
		err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if !started {
				started = true
				select {
				case startCh <- nil:
				default:
				}
			}
			if resp.Message.Thinking != "" {
				chunkCh <- llm.NewThinkingChunk(resp.Message.Thinking)
			}
			if resp.Message.Content != "" {
				chunkCh <- llm.NewTextChunk(resp.Message.Content)
			}
			if len(resp.Message.ToolCalls) > 0 {
				var calls []llm.ToolCall
				for _, tc := range resp.Message.ToolCalls {
					argsB, err := json.Marshal(tc.Function.Arguments)
					if err != nil {
						log.Warn().Err(err).Str("tool", tc.Function.Name).Msg("ollama: unmarshalable tool arguments")
						argsB = []byte("{}")
					}
					calls = append(calls, llm.ToolCall{
						ID:        callID(tc, len(calls)),
						Name:      tc.Function.Name,
						Arguments: argsB,
					})
				}
				chunkCh <- llm.StreamChunk{ToolCalls: calls}
			}
			if resp.Done {
				usage := &llm.Usage{
					PromptTokens: resp.PromptEvalCount,
					OutputTokens: resp.EvalCount,
					TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
					StopReason:   normalizeStopReason(resp.DoneReason),
				}
				chunkCh <- llm.NewFinalChunk(usage.StopReason, usage)
			}
			return nil
		})
		if err != nil {
			if !started {
				select {
				case startCh <- err:
				default:
					chunkCh <- llm.NewErrorChunk(err)
				}
				return
			}
			chunkCh <- llm.NewErrorChunk(fmt.Errorf("ollama: stream interrupted: %w", err))
		} else if !started {
			select {
			case startCh <- nil:
			default:
			}
		}
	}()

	select {
	case err := <-startCh:
		if err != nil {
			return nil, err
		}
		return chunkCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func convertMessages(messages []llm.Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, m := range messages {
		am := api.Message{Role: m.Role, Content: m.Content}
		for _, tc := range m.ToolCalls {
			var args api.ToolCallFunctionArguments
			_ = json.Unmarshal(tc.Arguments, &args)
			am.ToolCalls = append(am.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, am)
	}
	return out
}

// convertTools goes through a JSON round-trip so the adapter does not chase
// the SDK's parameter struct shape across versions.
func convertTools(schemas []llm.ToolSchema) ([]api.Tool, error) {
	raw := make([]map[string]any, 0, len(schemas))
	for _, s := range schemas {
		var params any
		if len(s.Parameters) > 0 {
			if err := json.Unmarshal(s.Parameters, &params); err != nil {
				return nil, fmt.Errorf("tool %q parameters: %w", s.Name, err)
			}
		}
		raw = append(raw, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        s.Name,
				"description": s.Description,
				"parameters":  params,
			},
		})
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var tools []api.Tool
	if err := json.Unmarshal(b, &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

func callID(tc api.ToolCall, i int) string {
	if tc.ID != "" {
		return tc.ID
	}
	return fmt.Sprintf("call_%d_%s", i, tc.Function.Name)
}

func normalizeStopReason(reason string) string {
	switch reason {
	case "length":
		return llm.StopReasonLength
	case "", "stop":
		return llm.StopReasonStop
	}
	return reason
}

func boolPtr(b bool) *bool { return &b }

// Factory creates the Ollama provider. cfg keys: model, base_url.
func Factory(ctx context.Context, cfg map[string]any) (llm.Provider, error) { // nolint: revive
	_ = ctx
	baseURL := os.Getenv("OLLAMA_HOST")
	if v, ok := cfg["base_url"].(string); ok && v != "" {
		baseURL = v
	}
	model := defaultModel
	if v, ok := cfg["model"].(string); ok && v != "" {
		model = v
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 0,
		},
		Timeout: 0, // local generation can be slow; callers bound via ctx
	}

	var client *api.Client
	if baseURL != "" {
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("ollama: invalid base URL: %w", err)
		}
		client = api.NewClient(u, httpClient)
	} else {
		var err error
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, err
		}
	}

	log.Debug().Str("model", model).Str("base_url", baseURL).Msg("ollama: client initialized")
	return &clientWrapper{client: client, model: model}, nil
}

func init() {
	_ = llm.Register("ollama", Factory)
}
