package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"tandem/pkg/adapters/llm"
	"tandem/pkg/assembler"
	"tandem/pkg/errmodel"
	"tandem/pkg/events"
	"tandem/pkg/history"
	"tandem/pkg/jsonx"
	"tandem/pkg/prompt"
	"tandem/pkg/toolloop"
	"tandem/pkg/turn"
	"tandem/pkg/world"
)

type routeKind string

const (
	routeFinal   routeKind = "final"
	routePlanner routeKind = "planner"
)

// route runs the Router gate. Unparseable output defaults to planner (the
// safer route); provider failure fails the turn. A bounded re-entry counter
// keeps the gate from looping.
func (e *Engine) route(ctx context.Context, t *turn.Turn, bus *events.Bus) (routeKind, error) {
	if t.RouterRuns >= e.cfg.MaxRouterRuns {
		return "", errmodel.Budget("router_reentry", "router ran too often this turn",
			map[string]any{"runs": t.RouterRuns})
	}
	t.RouterRuns++

	sp := bus.BeginSpan("router")
	body, _ := e.cfg.Prompts.Render(prompt.NameRouter, nil)
	text, err := e.collect(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: body},
		{Role: llm.RoleUser, Content: t.UserText},
	}, true)
	if err != nil {
		sp.End(err)
		return "", errmodel.Collaborator("router_call", "router model call failed", nil, err)
	}

	var parsed struct {
		Route    string `json:"route"`
		Reason   string `json:"reason"`
		Language string `json:"language"`
	}
	route := routePlanner
	if perr := jsonx.ExtractInto(text, &parsed); perr != nil {
		log.Debug().Err(perr).Msg("orchestrator: unparseable router output, defaulting to planner")
	} else {
		t.Language = parsed.Language
		switch parsed.Route {
		case string(routeFinal):
			route = routeFinal
		case string(routePlanner):
			route = routePlanner
		default:
			log.Debug().Str("route", parsed.Route).Msg("orchestrator: unknown route, defaulting to planner")
		}
	}
	sp.Emit(events.TypeRoute, map[string]any{events.KeyRoute: string(route), events.KeyReason: parsed.Reason})
	sp.End(nil)
	return route, nil
}

// finalAnswer streams the answer. On the direct path the context bag is
// seeded with recent history so small talk keeps continuity; on the planner
// path the bag holds whatever the loop gathered.
func (e *Engine) finalAnswer(ctx context.Context, t *turn.Turn, bus *events.Bus, direct bool) (string, error) {
	node := "final"
	if direct {
		node = "direct_answer"
		if t.Ctx.HistoryText == "" {
			if entries, err := e.cfg.History.ReadLast(e.cfg.HistoryLimit); err == nil {
				t.Ctx.HistoryText = history.Render(entries)
			}
		}
	}
	sp := bus.BeginSpan(node)

	items, pins := assembler.FromContext(&t.Ctx)
	selected, _ := e.asm.Assemble(items, pins)
	contextBlock := assembler.Render(selected)
	if contextBlock == "" {
		contextBlock = "(nothing retrieved)"
	}

	agentName := e.cfg.World.Load(e.cfg.Now()).Identity.AgentName
	if agentName == "" {
		agentName = "tandem"
	}
	system, _ := e.cfg.Prompts.Render(prompt.NameFinal, map[string]string{
		"agent_name": agentName,
		"context":    contextBlock,
	})

	var answer string
	for ev := range toolloop.ChatStream(ctx, e.cfg.Provider, e.cfg.Tools, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: t.UserText},
	}, toolloop.Options{Model: e.cfg.Model}) {
		switch {
		case ev.Err != nil:
			sp.End(ev.Err)
			return "", ev.Err
		case ev.TextDelta != "":
			sp.Emit(events.TypeTextDelta, map[string]any{events.KeyText: ev.TextDelta})
		case ev.ThinkingDelta != "":
			sp.Emit(events.TypeThinkingDelta, map[string]any{events.KeyText: ev.ThinkingDelta})
		case ev.ToolCall != nil:
			sp.Emit(events.TypeToolCall, map[string]any{
				events.KeyToolName: ev.ToolCall.Name,
				events.KeyArgs:     string(ev.ToolCall.Arguments),
			})
		case ev.ToolResult != nil:
			sp.Emit(events.TypeToolResult, map[string]any{
				events.KeyToolName: ev.ToolResult.Name,
				events.KeyResult:   ev.ToolResult.Payload,
			})
		case ev.Done:
			answer = ev.Text
		}
	}

	sp.Emit(events.TypeAnswer, map[string]any{events.KeyText: answer})
	sp.End(nil)
	return answer, nil
}

// reflect extracts candidate memories and a topics-only world delta from the
// finished turn. Every failure here is logged and swallowed; reflection never
// fails the primary turn.
func (e *Engine) reflect(ctx context.Context, t *turn.Turn, bus *events.Bus, answer string) {
	body, ok := e.cfg.Prompts.Render(prompt.NameReflection, map[string]string{
		"transcript": "user: " + t.UserText + "\nassistant: " + answer,
	})
	if !ok {
		return
	}
	sp := bus.BeginSpan("reflection")
	defer sp.End(nil)

	text, err := e.collect(ctx, []llm.Message{{Role: llm.RoleUser, Content: body}}, true)
	if err != nil {
		log.Debug().Err(err).Msg("orchestrator: reflection call failed")
		return
	}
	var parsed struct {
		Lessons []string `json:"lessons"`
		Topics  []string `json:"topics"`
	}
	if perr := jsonx.ExtractInto(text, &parsed); perr != nil {
		log.Debug().Err(perr).Msg("orchestrator: reflection output unparseable")
		return
	}

	stored := 0
	if e.cfg.Memory != nil {
		seen := map[string]bool{}
		for _, m := range t.Ctx.Memories {
			seen[m.Content] = true
		}
		for _, lesson := range parsed.Lessons {
			lesson = strings.TrimSpace(lesson)
			if lesson == "" || seen[lesson] {
				continue
			}
			seen[lesson] = true
			if _, err := e.cfg.Memory.Add(ctx, lesson); err != nil {
				log.Debug().Err(err).Msg("orchestrator: storing reflection memory")
				continue
			}
			stored++
		}
	}

	if len(parsed.Topics) > 0 {
		d := world.Delta{TopicsAdd: parsed.Topics}.TopicsOnly()
		now := e.cfg.Now()
		if _, err := e.cfg.World.Commit(e.cfg.World.Load(now), d, now); err != nil {
			log.Debug().Err(err).Msg("orchestrator: reflection topics commit")
		}
	}

	sp.Emit(events.TypeReflection, map[string]any{
		"lessons_stored": stored,
		"topics":         len(parsed.Topics),
	})
}

// collect runs one non-streaming-consumer model call and returns its text.
func (e *Engine) collect(ctx context.Context, messages []llm.Message, forceJSON bool) (string, error) {
	ch, err := e.cfg.Provider.StreamChat(ctx, messages, llm.Options{Model: e.cfg.Model, ForceJSON: forceJSON})
	if err != nil {
		return "", err
	}
	text, _, _, err := llm.Collect(ch)
	return text, err
}

// fullWorldJSON renders the whole world document for the world_fetch_full
// action.
func (e *Engine) fullWorldJSON(w world.State) string {
	b, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}
