package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"tandem/pkg/adapters/llm"
	"tandem/pkg/adapters/llm/fake"
	"tandem/pkg/errmodel"
	"tandem/pkg/tools"
)

var lookupSchema = json.RawMessage(`{
	"type": "object",
	"properties": {"key": {"type": "string"}},
	"required": ["key"]
}`)

func registryWith(t *testing.T, handler tools.Handler) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	err := r.Register(tools.Tool{
		Descriptor: tools.Descriptor{Name: "lookup", Description: "look up a key", InputSchema: lookupSchema},
		Handler:    handler,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func userMsg(s string) []llm.Message {
	return []llm.Message{{Role: llm.RoleUser, Content: s}}
}

func TestCleanRoundReturnsText(t *testing.T) {
	p := fake.New(fake.Turn{Text: "forty-two"})
	res, err := Run(context.Background(), p, nil, userMsg("answer"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "forty-two" || res.Steps != 0 {
		t.Fatalf("res=%+v", res)
	}
	if p.CallCount() != 1 {
		t.Fatalf("calls=%d", p.CallCount())
	}
}

func TestToolRoundThenAnswer(t *testing.T) {
	p := fake.New(
		fake.Turn{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"key":"city"}`)}}},
		fake.Turn{Text: "you live in Kyoto"},
	)
	reg := registryWith(t, func(_ context.Context, args map[string]any) (map[string]any, error) {
		return map[string]any{"value": "Kyoto", "key": args["key"]}, nil
	})

	res, err := Run(context.Background(), p, reg, userMsg("where do I live"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "you live in Kyoto" || res.Steps != 1 {
		t.Fatalf("res=%+v", res)
	}

	// second call must carry the tool message linked to the call id
	calls := p.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls=%d", len(calls))
	}
	last := calls[1].Messages[len(calls[1].Messages)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "c1" {
		t.Fatalf("tool message=%+v", last)
	}
}

func TestResponseFormatMakesExactlyTwoCalls(t *testing.T) {
	p := fake.New(
		fake.Turn{Text: `{"route":"final"}`},
		fake.Turn{Text: `{"route":"final"}`},
	)
	reg := registryWith(t, func(context.Context, map[string]any) (map[string]any, error) { return nil, nil })

	res, err := Run(context.Background(), p, reg, userMsg("route this"), Options{ResponseFormat: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != `{"route":"final"}` {
		t.Fatalf("res=%+v", res)
	}
	calls := p.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls=%d", len(calls))
	}
	// tool round offers tools without forced JSON; format round is the inverse
	if len(calls[0].Opts.Tools) == 0 || calls[0].Opts.ForceJSON {
		t.Fatalf("first call opts=%+v", calls[0].Opts)
	}
	if len(calls[1].Opts.Tools) != 0 || !calls[1].Opts.ForceJSON {
		t.Fatalf("second call opts=%+v", calls[1].Opts)
	}
}

func TestUnknownToolIsHardError(t *testing.T) {
	p := fake.New(
		fake.Turn{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "rm_rf", Arguments: json.RawMessage(`{}`)}}},
	)
	reg := registryWith(t, func(context.Context, map[string]any) (map[string]any, error) { return nil, nil })

	_, err := Run(context.Background(), p, reg, userMsg("x"), Options{MaxSteps: 3})
	if !errmodel.IsProtocol(err) {
		t.Fatalf("want protocol error, got %v", err)
	}
	if p.CallCount() > 4 {
		t.Fatalf("calls=%d", p.CallCount())
	}
}

func TestMalformedArgumentsAreHardError(t *testing.T) {
	p := fake.New(
		fake.Turn{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"key":`)}}},
	)
	reg := registryWith(t, func(context.Context, map[string]any) (map[string]any, error) { return nil, nil })

	_, err := Run(context.Background(), p, reg, userMsg("x"), Options{})
	if !errmodel.IsProtocol(err) {
		t.Fatalf("want protocol error, got %v", err)
	}
}

func TestHandlerFailureFedBackAsToolMessage(t *testing.T) {
	p := fake.New(
		fake.Turn{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"key":"x"}`)}}},
		fake.Turn{Text: "could not look that up"},
	)
	reg := registryWith(t, func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("backend down")
	})

	var sawErrResult bool
	for ev := range ChatStream(context.Background(), p, reg, userMsg("x"), Options{}) {
		if ev.Err != nil {
			t.Fatalf("handler failure escalated: %v", ev.Err)
		}
		if ev.ToolResult != nil && ev.ToolResult.IsError {
			sawErrResult = true
			var payload struct {
				Error struct {
					Category string `json:"category"`
				} `json:"error"`
			}
			if err := json.Unmarshal([]byte(ev.ToolResult.Payload), &payload); err != nil {
				t.Fatalf("payload not JSON: %q", ev.ToolResult.Payload)
			}
			if payload.Error.Category == "" {
				t.Fatalf("payload=%q", ev.ToolResult.Payload)
			}
		}
	}
	if !sawErrResult {
		t.Fatal("no error-shaped tool result observed")
	}
}

func TestStepCapIsHardError(t *testing.T) {
	script := make([]fake.Turn, 3)
	for i := range script {
		script[i] = fake.Turn{ToolCalls: []llm.ToolCall{{ID: "c", Name: "lookup", Arguments: json.RawMessage(`{"key":"x"}`)}}}
	}
	p := fake.New(script...)
	reg := registryWith(t, func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"value": "again"}, nil
	})

	_, err := Run(context.Background(), p, reg, userMsg("x"), Options{MaxSteps: 3})
	if !errmodel.IsBudget(err) {
		t.Fatalf("want budget error, got %v", err)
	}
	if p.CallCount() != 3 {
		t.Fatalf("calls=%d", p.CallCount())
	}
}

func TestCancelledContextStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := fake.New(fake.Turn{Text: "never"})
	_, err := Run(ctx, p, nil, userMsg("x"), Options{})
	if err == nil {
		t.Fatal("expected context error")
	}
}
