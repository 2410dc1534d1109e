package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"tandem/pkg/adapters/llm"
	"tandem/pkg/assembler"
	"tandem/pkg/errmodel"
	"tandem/pkg/events"
	"tandem/pkg/history"
	"tandem/pkg/jsonx"
	"tandem/pkg/prompt"
	"tandem/pkg/turn"
	"tandem/pkg/world"
)

// planExecute drives the planner/executor loop until finalize, a failure that
// ends the turn, or the round cap. It always leaves a termination on the turn.
// Retrieval failures land in the attempt ledger and the loop continues; a
// malformed or disallowed planner directive and a failed world commit end the
// turn.
func (e *Engine) planExecute(ctx context.Context, t *turn.Turn, bus *events.Bus, w *world.State) {
	for t.PlannerRounds < e.cfg.MaxPlannerRounds {
		if err := ctx.Err(); err != nil {
			t.Terminate(turn.Termination{Status: turn.TermAborted, Reason: "turn canceled"})
			return
		}
		t.PlannerRounds++

		d, term, err := e.plan(ctx, t, bus)
		if err != nil {
			t.Terminate(turn.Termination{Status: turn.TermFailed, Reason: err.Error()})
			return
		}
		if term != nil {
			t.Terminate(*term)
			return
		}

		if d.Action == turn.ActionFinalize {
			sp := bus.BeginSpan("executor")
			a := t.RecordAttempt(d, turn.AttemptOK, "finalize")
			sp.Emit(events.TypeAttempt, attemptPayload(a))
			sp.End(nil)
			t.Terminate(turn.Termination{Status: turn.TermDone})
			return
		}

		sp := bus.BeginSpan("executor")
		summary, execErr := e.executeDirective(ctx, t, d, w, sp)
		if execErr != nil && d.Action == turn.ActionWorldUpdate {
			// a failed world commit means durable state is unknown
			a := t.RecordAttempt(d, turn.AttemptHardFail, execErr.Error())
			sp.Emit(events.TypeAttempt, attemptPayload(a))
			sp.End(execErr)
			t.Terminate(turn.Termination{Status: turn.TermFailed, Reason: execErr.Error()})
			return
		}

		status := turn.AttemptHardFail
		if execErr != nil {
			summary = execErr.Error()
		} else {
			status = e.classify(ctx, d, summary)
		}
		a := t.RecordAttempt(d, status, summary)
		sp.Emit(events.TypeAttempt, attemptPayload(a))
		sp.End(execErr)
	}

	t.Terminate(turn.Termination{Status: turn.TermFailed,
		Reason: fmt.Sprintf("no finalize within %d planner rounds", e.cfg.MaxPlannerRounds)})
}

// plan asks the model for the next directive, or a termination when the model
// decides the turn cannot continue. Unparseable output, an action outside the
// closed set, or a termination status outside the closed set is a protocol
// error, not a retry.
func (e *Engine) plan(ctx context.Context, t *turn.Turn, bus *events.Bus) (turn.Directive, *turn.Termination, error) {
	sp := bus.BeginSpan("planner")

	flags, _ := json.Marshal(t.Ctx.StatusFlags())
	body, _ := e.cfg.Prompts.Render(prompt.NamePlanner, map[string]string{
		"goal":          t.UserText,
		"world":         t.Ctx.WorldSummary,
		"context":       e.contextJSON(t),
		"context_flags": string(flags),
		"attempts":      t.AttemptsSummary(),
	})
	text, err := e.collect(ctx, []llm.Message{{Role: llm.RoleUser, Content: body}}, true)
	if err != nil {
		cerr := errmodel.Collaborator("planner_call", "planner model call failed", nil, err)
		sp.End(cerr)
		return turn.Directive{}, nil, cerr
	}

	var parsed struct {
		turn.Directive
		Termination *turn.Termination `json:"termination"`
	}
	if perr := jsonx.ExtractInto(text, &parsed); perr != nil {
		perr = errmodel.Protocol("malformed_directive", "planner output is not a directive",
			map[string]any{"round": t.PlannerRounds})
		sp.End(perr)
		return turn.Directive{}, nil, perr
	}

	if parsed.Termination != nil {
		if !turn.AllowedTermination(parsed.Termination.Status) {
			perr := errmodel.Protocol("disallowed_termination", "planner emitted a termination status outside the closed set",
				map[string]any{"status": string(parsed.Termination.Status)})
			sp.End(perr)
			return turn.Directive{}, nil, perr
		}
		sp.Emit(events.TypeRoute, map[string]any{
			"termination":    string(parsed.Termination.Status),
			events.KeyReason: parsed.Termination.Reason,
		})
		sp.End(nil)
		return turn.Directive{}, parsed.Termination, nil
	}

	d := parsed.Directive
	if !turn.AllowedAction(d.Action) {
		perr := errmodel.Protocol("disallowed_action", "planner requested an action outside the closed set",
			map[string]any{"action": string(d.Action)})
		sp.End(perr)
		return turn.Directive{}, nil, perr
	}
	if d.StepID == "" {
		d.StepID = fmt.Sprintf("step-%d", t.PlannerRounds)
	}

	sp.Emit(events.TypeRoute, map[string]any{"action": string(d.Action), "step_id": d.StepID})
	sp.End(nil)
	return d, nil, nil
}

// contextJSON renders the gathered context bag for the planner prompt,
// truncated by the shared token-budgeted assembler.
func (e *Engine) contextJSON(t *turn.Turn) string {
	items, _ := assembler.FromContext(&t.Ctx)
	selected, _ := e.asm.Assemble(items, nil)
	if len(selected) == 0 {
		return "[]"
	}
	type chunk struct {
		Source string `json:"source"`
		Text   string `json:"text"`
	}
	out := make([]chunk, 0, len(selected))
	for _, it := range selected {
		out = append(out, chunk{Source: it.Source, Text: it.Text})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// executeDirective dispatches one directive. The returned summary is the
// mechanical result handed to classification; errors are collaborator
// failures the loop records and survives, except for world commits.
func (e *Engine) executeDirective(ctx context.Context, t *turn.Turn, d turn.Directive, w *world.State, sp *events.Span) (string, error) {
	switch d.Action {
	case turn.ActionChatHistory:
		limit := intArg(d.Args, "limit", e.cfg.HistoryLimit)
		entries, err := e.cfg.History.ReadLast(limit)
		if err != nil {
			return "", err
		}
		t.Ctx.HistoryText = history.Render(entries)
		return fmt.Sprintf("loaded %d history messages", len(entries)), nil

	case turn.ActionMemoryRetrieval:
		if e.cfg.Memory == nil {
			return "", errmodel.Collaborator("memory_unavailable", "no memory service configured", nil, nil)
		}
		query := strArg(d.Args, "query", t.UserText)
		items, err := e.cfg.Memory.Search(ctx, query)
		if err != nil {
			return "", err
		}
		for _, it := range items {
			t.Ctx.Memories = append(t.Ctx.Memories, it.ContextItem())
		}
		return fmt.Sprintf("retrieved %d memories", len(items)), nil

	case turn.ActionEpisodeQuery:
		if e.cfg.Sandbox == nil {
			return "", errmodel.Collaborator("episodes_unavailable", "no episodic sandbox configured", nil, nil)
		}
		question := strArg(d.Args, "question", t.UserText)
		out, err := e.cfg.Sandbox.Answer(ctx, question)
		if err != nil {
			return "", err
		}
		t.Ctx.EpisodeSummary = out.Summary
		return fmt.Sprintf("episode investigation finished in %d queries", len(out.Runs)), nil

	case turn.ActionWorldFetchFull:
		t.Ctx.SetSource("world_full", e.fullWorldJSON(*w))
		return "loaded full world document", nil

	case turn.ActionWorldUpdate:
		var (
			delta world.Delta
			err   error
		)
		if _, hasDelta := d.Args["delta"]; hasDelta {
			delta, err = deltaArg(d.Args)
		} else {
			// planner delegated the extraction; author the delta from the turn
			delta, err = e.authorDelta(ctx, t, *w)
		}
		if err != nil {
			return "", err
		}
		now := e.cfg.Now()
		next, err := e.cfg.World.Commit(*w, delta, now)
		if err != nil {
			return "", err
		}
		*w = next
		t.Ctx.WorldSummary = next.Summary()
		sp.Emit(events.TypeWorldCommit, map[string]any{"updated_at": next.UpdatedAt})
		return "world document updated", nil
	}
	return "", errmodel.Protocol("disallowed_action", "executor has no dispatch for action",
		map[string]any{"action": string(d.Action)})
}

// authorDelta asks the model to extract a typed world delta from the current
// exchange. Used when a world_update directive carries no delta of its own.
func (e *Engine) authorDelta(ctx context.Context, t *turn.Turn, w world.State) (world.Delta, error) {
	body, ok := e.cfg.Prompts.Render(prompt.NameWorldUpdate, map[string]string{
		"world":    w.Summary(),
		"exchange": "user: " + t.UserText,
	})
	if !ok {
		return world.Delta{}, errmodel.Protocol("missing_prompt", "world_update prompt not found", nil)
	}
	text, err := e.collect(ctx, []llm.Message{{Role: llm.RoleUser, Content: body}}, true)
	if err != nil {
		return world.Delta{}, errmodel.Collaborator("world_author", "world delta call failed", nil, err)
	}
	var delta world.Delta
	if perr := jsonx.ExtractInto(text, &delta); perr != nil {
		return world.Delta{}, errmodel.Protocol("malformed_delta", "authored world delta is not JSON-shaped", nil)
	}
	return delta, nil
}

// classify asks the model to judge a step against its success criteria. Purely
// advisory: any failure here degrades to ok and never alters control flow.
func (e *Engine) classify(ctx context.Context, d turn.Directive, result string) turn.AttemptStatus {
	if d.Objective == "" && d.SuccessCriteria == "" {
		return turn.AttemptOK
	}
	body, ok := e.cfg.Prompts.Render(prompt.NameClassify, map[string]string{
		"objective": d.Objective,
		"criteria":  d.SuccessCriteria,
		"result":    result,
	})
	if !ok {
		return turn.AttemptOK
	}
	text, err := e.collect(ctx, []llm.Message{{Role: llm.RoleUser, Content: body}}, true)
	if err != nil {
		log.Debug().Err(err).Msg("orchestrator: classification call failed, assuming ok")
		return turn.AttemptOK
	}
	var parsed struct {
		Status string `json:"status"`
	}
	if err := jsonx.ExtractInto(text, &parsed); err != nil {
		log.Debug().Err(err).Msg("orchestrator: classification unparseable, assuming ok")
		return turn.AttemptOK
	}
	switch s := turn.AttemptStatus(parsed.Status); s {
	case turn.AttemptOK, turn.AttemptSoftFail, turn.AttemptHardFail, turn.AttemptBlocked:
		return s
	}
	return turn.AttemptOK
}

func attemptPayload(a turn.Attempt) map[string]any {
	return map[string]any{
		"attempt_id":     a.AttemptID,
		"step_id":        a.StepID,
		"action":         string(a.Action),
		events.KeyStatus: string(a.Status),
		"summary":        a.Summary,
	}
}

// deltaArg decodes the world_update delta through a JSON round trip so the
// OptString null-vs-absent distinction survives.
func deltaArg(args map[string]any) (world.Delta, error) {
	raw, ok := args["delta"]
	if !ok {
		return world.Delta{}, errmodel.Protocol("missing_delta", "world_update directive has no delta", nil)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return world.Delta{}, errmodel.Protocol("malformed_delta", "world_update delta is not JSON-shaped", nil)
	}
	var d world.Delta
	if err := json.Unmarshal(b, &d); err != nil {
		return world.Delta{}, errmodel.Protocol("malformed_delta", "world_update delta does not match the delta shape",
			map[string]any{"error": err.Error()})
	}
	return d, nil
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key]; ok {
		if f, ok := v.(float64); ok && f > 0 {
			return int(f)
		}
	}
	return def
}

func strArg(args map[string]any, key, def string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}
