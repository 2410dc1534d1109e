// Package turn holds the per-request data model: one Turn per user message,
// the planner directives that drive it, the append-only attempt ledger, and
// the single immutable termination. Everything here is scratch state that
// dies with the turn; durable facts live in the world document.
package turn

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action is the closed set of executor dispatches the planner may request.
type Action string

const (
	ActionChatHistory     Action = "chat_history"
	ActionMemoryRetrieval Action = "memory_retrieval"
	ActionEpisodeQuery    Action = "episode_query"
	ActionWorldFetchFull  Action = "world_fetch_full"
	ActionWorldUpdate     Action = "world_update"
	ActionFinalize        Action = "finalize"
)

// AllowedAction reports whether a planner-emitted action is in the closed set.
func AllowedAction(a Action) bool {
	switch a {
	case ActionChatHistory, ActionMemoryRetrieval, ActionEpisodeQuery,
		ActionWorldFetchFull, ActionWorldUpdate, ActionFinalize:
		return true
	}
	return false
}

// Directive is one planner-produced, executor-consumed step.
type Directive struct {
	StepID          string         `json:"step_id"`
	Action          Action         `json:"action"`
	Args            map[string]any `json:"args,omitempty"`
	Objective       string         `json:"objective,omitempty"`
	SuccessCriteria string         `json:"success_criteria,omitempty"`
}

// AttemptStatus is the advisory classification of one executed step.
type AttemptStatus string

const (
	AttemptOK       AttemptStatus = "ok"
	AttemptSoftFail AttemptStatus = "soft_fail"
	AttemptHardFail AttemptStatus = "hard_fail"
	AttemptBlocked  AttemptStatus = "blocked"
)

// Attempt is one append-only ledger entry. AttemptID is monotonic per turn.
type Attempt struct {
	AttemptID int            `json:"attempt_id"`
	StepID    string         `json:"step_id"`
	Action    Action         `json:"action"`
	Args      map[string]any `json:"args,omitempty"`
	Status    AttemptStatus  `json:"status"`
	Summary   string         `json:"summary"`
	TS        time.Time      `json:"ts"`
}

// TerminationStatus classifies how a turn ended.
type TerminationStatus string

const (
	TermDone    TerminationStatus = "done"
	TermBlocked TerminationStatus = "blocked"
	TermFailed  TerminationStatus = "failed"
	TermAborted TerminationStatus = "aborted"
)

// Termination is set at most once per turn and never overwritten.
type Termination struct {
	Status    TerminationStatus `json:"status"`
	Reason    string            `json:"reason,omitempty"`
	NeedsUser bool              `json:"needs_user,omitempty"`
}

// AllowedTermination reports whether a model-emitted status is in the closed
// set.
func AllowedTermination(s TerminationStatus) bool {
	switch s {
	case TermDone, TermBlocked, TermFailed, TermAborted:
		return true
	}
	return false
}

// MemoryItem is a retrieved semantic memory carried in the context bag.
type MemoryItem struct {
	Content string         `json:"content"`
	Sector  string         `json:"sector,omitempty"`
	Score   float32        `json:"score,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Context is the bag of retrieved material the final answer renders from.
type Context struct {
	HistoryText    string            `json:"history_text,omitempty"`
	Memories       []MemoryItem      `json:"memories,omitempty"`
	EpisodeSummary string            `json:"episode_summary,omitempty"`
	WorldSummary   string            `json:"world_summary,omitempty"`
	Sources        map[string]string `json:"sources,omitempty"`
}

// StatusFlags summarizes which context slots are filled, for the planner.
func (c *Context) StatusFlags() map[string]bool {
	return map[string]bool{
		"chat_history":    c.HistoryText != "",
		"memories":        len(c.Memories) > 0,
		"episode_summary": c.EpisodeSummary != "",
		"world_summary":   c.WorldSummary != "",
	}
}

// SetSource stores a generic keyed context source.
func (c *Context) SetSource(key, value string) {
	if c.Sources == nil {
		c.Sources = map[string]string{}
	}
	c.Sources[key] = value
}

// Turn is one request-to-answer cycle.
type Turn struct {
	ID       string
	UserText string
	Started  time.Time

	Language string // router-detected, best effort

	RouterRuns    int
	PlannerRounds int

	Attempts []Attempt
	Ctx      Context

	termination *Termination
}

// New creates a turn for one user message.
func New(userText string) *Turn {
	return &Turn{
		ID:       uuid.NewString(),
		UserText: userText,
		Started:  time.Now().UTC(),
	}
}

// RecordAttempt appends a ledger entry with the next monotonic attempt id.
func (t *Turn) RecordAttempt(d Directive, status AttemptStatus, summary string) Attempt {
	a := Attempt{
		AttemptID: len(t.Attempts) + 1,
		StepID:    d.StepID,
		Action:    d.Action,
		Args:      d.Args,
		Status:    status,
		Summary:   summary,
		TS:        time.Now().UTC(),
	}
	t.Attempts = append(t.Attempts, a)
	return a
}

// AttemptsSummary renders the ledger for the planner prompt, newest last.
func (t *Turn) AttemptsSummary() string {
	if len(t.Attempts) == 0 {
		return "no attempts yet"
	}
	var sb strings.Builder
	for _, a := range t.Attempts {
		fmt.Fprintf(&sb, "#%d %s action=%s status=%s %s\n", a.AttemptID, a.StepID, a.Action, a.Status, a.Summary)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Terminate sets the termination if none is set yet and reports whether this
// call won. The first termination is final for the turn.
func (t *Turn) Terminate(term Termination) bool {
	if t.termination != nil {
		return false
	}
	cp := term
	t.termination = &cp
	return true
}

// Termination returns the recorded termination, or nil while the turn runs.
func (t *Turn) Termination() *Termination {
	if t.termination == nil {
		return nil
	}
	cp := *t.termination
	return &cp
}

// Terminated reports whether a termination has been recorded.
func (t *Turn) Terminated() bool { return t.termination != nil }
