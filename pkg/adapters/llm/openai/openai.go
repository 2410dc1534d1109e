// Package openai adapts the OpenAI Responses API to the llm.Provider
// interface.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/responses"
	"github.com/rs/zerolog/log"

	"tandem/pkg/adapters/llm"
)

const defaultModel = "gpt-5-nano"

type clientWrapper struct {
	client *oa.Client
	model  string
}

func (c *clientWrapper) Name() string { return "openai" }

func (c *clientWrapper) StreamChat(ctx context.Context, messages []llm.Message, opts llm.Options) (<-chan llm.StreamChunk, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}

	params := responses.ResponseNewParams{
		Model: model,
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(messages),
		},
	}

	reqOpts := []option.RequestOption{}
	if opts.Temperature > 0 {
		reqOpts = append(reqOpts, option.WithJSONSet("temperature", opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		reqOpts = append(reqOpts, option.WithJSONSet("max_output_tokens", opts.MaxTokens))
	}
	if opts.ForceJSON {
		reqOpts = append(reqOpts, option.WithJSONSet("text.format.type", "json_object"))
	}
	if len(opts.Tools) > 0 {
		tools, err := convertTools(opts.Tools)
		if err != nil {
			return nil, fmt.Errorf("openai: convert tools: %w", err)
		}
		params.Tools = tools
	}

	chunkCh := make(chan llm.StreamChunk, 64)
	go func() {
		defer close(chunkCh)

		stream := c.client.Responses.NewStreaming(ctx, params, reqOpts...)
		defer stream.Close()

		var (
			finishReason string
			usage        *llm.Usage
			callOrder    []string
			calls        = map[string]*llm.ToolCall{}
			callArgs     = map[string]string{}
		)

		for stream.Next() {
			event := stream.Current()
			switch variant := event.AsAny().(type) {
			case responses.ResponseTextDeltaEvent:
				chunkCh <- llm.NewTextChunk(variant.Delta)

			case responses.ResponseReasoningTextDeltaEvent:
				chunkCh <- llm.NewThinkingChunk(variant.Delta)

			case responses.ResponseReasoningSummaryTextDeltaEvent:
				chunkCh <- llm.NewThinkingChunk(variant.Delta)

			case responses.ResponseOutputItemAddedEvent:
				if variant.Item.Type == "function_call" {
					if _, ok := calls[variant.Item.ID]; !ok {
						calls[variant.Item.ID] = &llm.ToolCall{ID: variant.Item.ID}
						callOrder = append(callOrder, variant.Item.ID)
					}
					if variant.Item.Name != "" {
						calls[variant.Item.ID].Name = variant.Item.Name
					}
				}

			case responses.ResponseFunctionCallArgumentsDeltaEvent:
				if _, ok := calls[variant.ItemID]; !ok {
					calls[variant.ItemID] = &llm.ToolCall{ID: variant.ItemID}
					callOrder = append(callOrder, variant.ItemID)
				}
				callArgs[variant.ItemID] += variant.Delta

			case responses.ResponseFunctionCallArgumentsDoneEvent:
				if tc, ok := calls[variant.ItemID]; ok && variant.Name != "" {
					tc.Name = variant.Name
				}

			case responses.ResponseOutputItemDoneEvent:
				if variant.Item.Type == "function_call" {
					if tc, ok := calls[variant.Item.ID]; ok && variant.Item.Name != "" {
						tc.Name = variant.Item.Name
					}
				}

			case responses.ResponseCompletedEvent:
				finishReason = llm.StopReasonStop
				if variant.Response.Usage.TotalTokens > 0 {
					usage = &llm.Usage{
						PromptTokens: int(variant.Response.Usage.InputTokens),
						OutputTokens: int(variant.Response.Usage.OutputTokens),
						TotalTokens:  int(variant.Response.Usage.TotalTokens),
						StopReason:   llm.StopReasonStop,
					}
				}

			case responses.ResponseIncompleteEvent:
				finishReason = llm.StopReasonLength

			case responses.ResponseFailedEvent:
				chunkCh <- llm.NewErrorChunk(fmt.Errorf("openai: response failed"))
				return

			case responses.ResponseErrorEvent:
				chunkCh <- llm.NewErrorChunk(fmt.Errorf("openai: %s", variant.Message))
				return
			}
		}
		if err := stream.Err(); err != nil {
			chunkCh <- llm.NewErrorChunk(fmt.Errorf("openai: stream: %w", err))
			return
		}

		if len(callOrder) > 0 {
			out := make([]llm.ToolCall, 0, len(callOrder))
			for _, id := range callOrder {
				tc := calls[id]
				args := callArgs[id]
				if args == "" {
					args = "{}"
				}
				tc.Arguments = json.RawMessage(args)
				out = append(out, *tc)
			}
			chunkCh <- llm.StreamChunk{ToolCalls: out}
		}
		if finishReason == "" {
			finishReason = llm.StopReasonStop
		}
		chunkCh <- llm.NewFinalChunk(finishReason, usage)
	}()

	return chunkCh, nil
}

func convertMessages(messages []llm.Message) []responses.ResponseInputItemUnionParam {
	items := make([]responses.ResponseInputItemUnionParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.Content, responses.EasyInputMessageRoleSystem))
		case llm.RoleAssistant:
			if m.Content != "" {
				items = append(items, responses.ResponseInputItemParamOfMessage(
					m.Content, responses.EasyInputMessageRoleAssistant))
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responses.ResponseInputItemParamOfFunctionCall(
					string(tc.Arguments), tc.ID, tc.Name))
			}
		case llm.RoleTool:
			items = append(items, responses.ResponseInputItemParamOfFunctionCallOutput(
				m.ToolCallID, m.Content))
		default:
			items = append(items, responses.ResponseInputItemParamOfMessage(
				m.Content, responses.EasyInputMessageRoleUser))
		}
	}
	return items
}

func convertTools(schemas []llm.ToolSchema) ([]responses.ToolUnionParam, error) {
	tools := make([]responses.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		var params map[string]any
		if len(s.Parameters) > 0 {
			if err := json.Unmarshal(s.Parameters, &params); err != nil {
				return nil, fmt.Errorf("tool %q parameters: %w", s.Name, err)
			}
		}
		tools = append(tools, responses.ToolUnionParam{
			OfFunction: &responses.FunctionToolParam{
				Name:        s.Name,
				Description: oa.String(s.Description),
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

// Factory creates the OpenAI provider. cfg keys: api_key, model, base_url.
func Factory(ctx context.Context, cfg map[string]any) (llm.Provider, error) { // nolint: revive
	_ = ctx
	apiKey := os.Getenv("OPENAI_API_KEY")
	if v, ok := cfg["api_key"].(string); ok && v != "" {
		apiKey = v
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: missing API key; set OPENAI_API_KEY or cfg.api_key")
	}
	model := defaultModel
	if v, ok := cfg["model"].(string); ok && v != "" {
		model = v
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if v, ok := cfg["base_url"].(string); ok && v != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(v))
	}
	client := oa.NewClient(reqOpts...)

	log.Debug().Str("model", model).Msg("openai: client initialized")
	return &clientWrapper{client: &client, model: model}, nil
}

func init() {
	_ = llm.Register("openai", Factory)
}
