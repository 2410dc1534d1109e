// Package orchestrator is the turn engine: one user message in, one final
// answer out, through Router, an optional Planner/Executor loop, World
// Update, the streamed Final answer, and best-effort Reflection. Every state
// transition is visible on the turn's event bus.
package orchestrator

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tandem/pkg/adapters/llm"
	"tandem/pkg/assembler"
	"tandem/pkg/episodic"
	"tandem/pkg/events"
	"tandem/pkg/history"
	"tandem/pkg/memory"
	"tandem/pkg/prompt"
	"tandem/pkg/tools"
	"tandem/pkg/turn"
	"tandem/pkg/world"
)

// Defaults for the engine's loop bounds.
const (
	DefaultMaxPlannerRounds = 12
	DefaultMaxRouterRuns    = 2
	DefaultHistoryLimit     = 20
	// DefaultContextTokens bounds the assembled context block handed to the
	// planner and final prompts.
	DefaultContextTokens = 4096
)

// Config assembles an Engine. Provider, Prompts, World and History are
// required; Memory, Sandbox, Episodes and Tools are optional collaborators
// and their planner actions degrade gracefully when absent.
type Config struct {
	Provider llm.Provider
	Prompts  *prompt.Store
	World    *world.Store
	History  *history.Log

	Memory   *memory.Service
	Sandbox  *episodic.Sandbox
	Episodes *episodic.Store
	Tools    *tools.Registry

	Model            string
	MaxPlannerRounds int
	MaxRouterRuns    int
	HistoryLimit     int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Engine runs turns. One Engine serves many sequential turns; the world
// document makes it single-writer-per-process.
type Engine struct {
	cfg    Config
	asm    *assembler.Assembler
	tracer trace.Tracer
}

// New validates the config and builds an engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Provider == nil {
		return nil, errors.New("orchestrator: Provider is required")
	}
	if cfg.Prompts == nil {
		return nil, errors.New("orchestrator: Prompts is required")
	}
	if cfg.World == nil {
		return nil, errors.New("orchestrator: World is required")
	}
	if cfg.History == nil {
		return nil, errors.New("orchestrator: History is required")
	}
	if cfg.MaxPlannerRounds <= 0 {
		cfg.MaxPlannerRounds = DefaultMaxPlannerRounds
	}
	if cfg.MaxRouterRuns <= 0 {
		cfg.MaxRouterRuns = DefaultMaxRouterRuns
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Engine{
		cfg:    cfg,
		asm:    assembler.New(assembler.WithMaxTokens(DefaultContextTokens)),
		tracer: otel.Tracer("orchestrator"),
	}, nil
}

// Run is one in-flight turn: its scratch state, its event subscription, and a
// completion signal.
type Run struct {
	Turn   *turn.Turn
	Events *events.Subscription

	answer string
	err    error
	done   chan struct{}
}

// Done is closed when the worker finished and the bus is closed.
func (r *Run) Done() <-chan struct{} { return r.done }

// Answer returns the final answer text once Done is closed.
func (r *Run) Answer() string {
	<-r.done
	return r.answer
}

// Err returns the turn-level error once Done is closed. A Termination with
// failed/blocked status is reported here as well as on the Turn.
func (r *Run) Err() error {
	<-r.done
	return r.err
}

// RunTurn starts one turn on its own worker and returns immediately. The
// subscription on the returned Run observes every event from turn_start on.
func (e *Engine) RunTurn(ctx context.Context, userText string) *Run {
	t := turn.New(userText)
	bus := events.NewBus(t.ID)
	r := &Run{Turn: t, Events: bus.Subscribe(), done: make(chan struct{})}

	go func() {
		defer close(r.done)
		defer bus.Close()
		ctx, span := e.tracer.Start(ctx, "Engine.RunTurn",
			trace.WithAttributes(attribute.String("turn.id", t.ID)))
		defer span.End()

		r.answer, r.err = e.runStates(ctx, t, bus)
		if r.err != nil {
			span.RecordError(r.err)
		}
	}()
	return r
}

// Answer runs one turn to completion and returns the final text. Convenience
// for callers that do not render the stream.
func (e *Engine) Answer(ctx context.Context, userText string) (string, *turn.Turn, error) {
	r := e.RunTurn(ctx, userText)
	// drain so the bus never blocks on an unread subscription
	for {
		if _, ok := r.Events.Next(ctx); !ok {
			break
		}
	}
	<-r.done
	return r.answer, r.Turn, r.err
}

// runStates drives the state machine for one turn.
func (e *Engine) runStates(ctx context.Context, t *turn.Turn, bus *events.Bus) (string, error) {
	bus.Emit(events.TypeTurnStart, "", "", map[string]any{events.KeyText: t.UserText})

	w := e.cfg.World.Load(e.cfg.Now())
	t.Ctx.WorldSummary = w.Summary()

	route, err := e.route(ctx, t, bus)
	if err != nil {
		return e.failTurn(t, bus, err)
	}

	if route == routePlanner {
		e.planExecute(ctx, t, bus, &w)
		term := t.Termination()
		if term == nil {
			// defensive: the loop always terminates the turn
			t.Terminate(turn.Termination{Status: turn.TermFailed, Reason: "planner loop ended without termination"})
			term = t.Termination()
		}
		bus.Emit(events.TypeTermination, "", "", map[string]any{
			events.KeyStatus: string(term.Status),
			events.KeyReason: term.Reason,
		})
		if term.Status != turn.TermDone {
			err := errors.New("turn terminated: " + term.Reason)
			e.reflect(ctx, t, bus, "")
			return "", err
		}
	}

	answer, err := e.finalAnswer(ctx, t, bus, route == routeFinal)
	if err != nil {
		return e.failTurn(t, bus, err)
	}

	e.appendHistory(t, answer)
	e.reflect(ctx, t, bus, answer)
	e.archive(ctx, t, answer)
	return answer, nil
}

// failTurn records a failed termination (when none is set) and emits it.
func (e *Engine) failTurn(t *turn.Turn, bus *events.Bus, err error) (string, error) {
	t.Terminate(turn.Termination{Status: turn.TermFailed, Reason: err.Error()})
	term := t.Termination()
	bus.Emit(events.TypeTermination, "", "", map[string]any{
		events.KeyStatus: string(term.Status),
		events.KeyReason: term.Reason,
	})
	return "", err
}

func (e *Engine) appendHistory(t *turn.Turn, answer string) {
	if err := e.cfg.History.Append(llm.RoleUser, t.UserText, t.ID); err != nil {
		log.Warn().Err(err).Msg("orchestrator: appending user message to history")
		return
	}
	if err := e.cfg.History.Append(llm.RoleAssistant, answer, t.ID); err != nil {
		log.Warn().Err(err).Msg("orchestrator: appending answer to history")
	}
}

// archive stores the finished turn in the episodic log, best effort.
func (e *Engine) archive(ctx context.Context, t *turn.Turn, answer string) {
	if e.cfg.Episodes == nil {
		return
	}
	outcome := "answered"
	if term := t.Termination(); term != nil {
		outcome = string(term.Status)
	}
	_, err := e.cfg.Episodes.Append(ctx, episodic.Episode{
		TurnID:    t.ID,
		StartedAt: t.Started,
		Goal:      clip(t.UserText, 200),
		Outcome:   outcome,
		Summary:   clip(answer, 500),
	})
	if err != nil {
		log.Warn().Err(err).Msg("orchestrator: archiving episode")
	}
}

// clip trims to at most max bytes without splitting a UTF-8 rune.
func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
