// Package gemini adapts the Google GenAI SDK to the llm.Provider interface.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"tandem/pkg/adapters/llm"
)

const defaultModel = "gemini-2.5-flash"

type clientWrapper struct {
	client *genai.Client
	model  string
}

func (c *clientWrapper) Name() string { return "gemini" }

func (c *clientWrapper) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	contents, systemInstruction := convertMessages(messages)

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: systemInstruction,
	}
	if opts.Temperature > 0 {
		t := float32(opts.Temperature)
		cfg.Temperature = &t
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.ForceJSON {
		cfg.ResponseMIMEType = "application/json"
	}
	if len(opts.Tools) > 0 {
		tools, err := convertTools(opts.Tools)
		if err != nil {
			return nil, fmt.Errorf("gemini: convert tools: %w", err)
		}
		cfg.Tools = tools
	}

	chunkCh := make(chan llm.StreamChunk, 64)
	startCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)

		started := false
		var usage *llm.Usage
		finishReason := llm.StopReasonStop

		for resp, err := range c.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				if !started {
					startCh <- err
					return
				}
				chunkCh <- llm.NewErrorChunk(fmt.Errorf("gemini: stream interrupted: %w", err))
				return
			}
			if !started {
				started = true
				startCh <- nil
			}

			if resp.UsageMetadata != nil {
				u := resp.UsageMetadata
				usage = &llm.Usage{
					PromptTokens: int(u.PromptTokenCount),
					OutputTokens: int(u.CandidatesTokenCount),
					TotalTokens:  int(u.TotalTokenCount),
				}
			}

			for _, candidate := range resp.Candidates {
				if candidate.FinishReason != "" {
					finishReason = normalizeFinishReason(string(candidate.FinishReason))
				}
				if candidate.Content == nil {
					continue
				}
				var calls []llm.ToolCall
				for _, part := range candidate.Content.Parts {
					if part.Text != "" {
						if part.Thought {
							chunkCh <- llm.NewThinkingChunk(part.Text)
						} else {
							chunkCh <- llm.NewTextChunk(part.Text)
						}
					}
					if part.FunctionCall != nil {
						argsB, err := json.Marshal(part.FunctionCall.Args)
						if err != nil {
							argsB = []byte("{}")
						}
						id := part.FunctionCall.ID
						if id == "" {
							id = fmt.Sprintf("call_%d_%s", len(calls), part.FunctionCall.Name)
						}
						calls = append(calls, llm.ToolCall{
							ID:        id,
							Name:      part.FunctionCall.Name,
							Arguments: argsB,
						})
					}
				}
				if len(calls) > 0 {
					chunkCh <- llm.StreamChunk{ToolCalls: calls}
				}
			}
		}

		if !started {
			startCh <- nil
		}
		if usage != nil {
			usage.StopReason = finishReason
		}
		chunkCh <- llm.NewFinalChunk(finishReason, usage)
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

func convertMessages(messages []llm.Message) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemInstruction *genai.Content

	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			if m.Content != "" {
				systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: m.Content}}}
			}
		case llm.RoleTool:
			// tool results ride in a user-role content with a FunctionResponse part
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{{
					FunctionResponse: &genai.FunctionResponse{
						ID:       m.ToolCallID,
						Name:     m.Name,
						Response: map[string]any{"result": m.Content},
					},
				}},
			})
		case llm.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal(tc.Arguments, &args)
				parts = append(parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Name, Args: args},
				})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}
		default:
			if m.Content != "" {
				contents = append(contents, &genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: m.Content}},
				})
			}
		}
	}
	return contents, systemInstruction
}

func convertTools(schemas []llm.ToolSchema) ([]*genai.Tool, error) {
	fds := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for _, s := range schemas {
		fd := &genai.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
		}
		if len(s.Parameters) > 0 {
			var schema genai.Schema
			if err := json.Unmarshal(s.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %q parameters: %w", s.Name, err)
			}
			fd.Parameters = &schema
		}
		fds = append(fds, fd)
	}
	return []*genai.Tool{{FunctionDeclarations: fds}}, nil
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "STOP", "":
		return llm.StopReasonStop
	case "MAX_TOKENS", "FINISH_REASON_MAX_TOKENS":
		return llm.StopReasonLength
	}
	return reason
}

// Factory creates the Gemini provider. cfg keys: api_key, model.
func Factory(ctx context.Context, cfg map[string]any) (llm.Provider, error) { // nolint: revive
	apiKey := os.Getenv("GEMINI_API_KEY")
	if v, ok := cfg["api_key"].(string); ok && v != "" {
		apiKey = v
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key; set GEMINI_API_KEY or cfg.api_key")
	}
	model := defaultModel
	if v, ok := cfg["model"].(string); ok && v != "" {
		model = v
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	log.Debug().Str("model", model).Msg("gemini: client initialized")
	return &clientWrapper{client: client, model: model}, nil
}

func init() {
	_ = llm.Register("gemini", Factory)
}
