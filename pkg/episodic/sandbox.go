package episodic

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"tandem/pkg/adapters/llm"
	"tandem/pkg/errmodel"
	"tandem/pkg/jsonx"
	"tandem/pkg/prompt"
)

// Sandbox bounds.
const (
	// DefaultMaxRounds caps author/summarizer round trips.
	DefaultMaxRounds = 8
	// DefaultMaxRejections is how many consecutive validator rejections end
	// the sandbox.
	DefaultMaxRejections = 3
	// DefaultHandoffChars caps the summarizer-to-author handoff message.
	DefaultHandoffChars = 500
)

// QueryRun records one executed query and its capped result.
type QueryRun struct {
	Query  string
	Result Result
}

// Outcome is a resolved sandbox investigation.
type Outcome struct {
	Summary string
	Runs    []QueryRun
}

// Sandbox mediates the SQL-author and summarizer roles over the episodic log.
// The two roles share only a bounded handoff message, never full context.
type Sandbox struct {
	provider      llm.Provider
	store         *Store
	prompts       *prompt.Store
	caps          Caps
	maxRounds     int
	maxRejections int
	handoffChars  int
	model         string
}

// SandboxOption configures a Sandbox.
type SandboxOption func(*Sandbox)

// WithCaps overrides the executor caps.
func WithCaps(c Caps) SandboxOption {
	return func(s *Sandbox) { s.caps = c }
}

// WithMaxRounds overrides the round cap.
func WithMaxRounds(n int) SandboxOption {
	return func(s *Sandbox) {
		if n > 0 {
			s.maxRounds = n
		}
	}
}

// WithModel sets the model used for both roles.
func WithModel(model string) SandboxOption {
	return func(s *Sandbox) { s.model = model }
}

// NewSandbox creates a sandbox over the given store.
func NewSandbox(provider llm.Provider, store *Store, prompts *prompt.Store, opts ...SandboxOption) *Sandbox {
	s := &Sandbox{
		provider:      provider,
		store:         store,
		prompts:       prompts,
		caps:          DefaultCaps(),
		maxRounds:     DefaultMaxRounds,
		maxRejections: DefaultMaxRejections,
		handoffChars:  DefaultHandoffChars,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Answer investigates the question against the episodic log. It returns a
// terminal failure when the author cannot produce a valid query, or a budget
// failure when the round cap runs out without a FINAL summary.
func (s *Sandbox) Answer(ctx context.Context, question string) (Outcome, error) {
	var (
		out        Outcome
		feedback   string // validator rejections and execution errors, for the author
		handoff    string // summarizer's bounded TO_QUERY message
		rejections int
	)

	for round := 0; round < s.maxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		query, err := s.authorQuery(ctx, question, feedback, handoff)
		if err != nil {
			return out, err
		}

		if verr := ValidateQuery(query); verr != nil {
			rejections++
			if rejections >= s.maxRejections {
				return out, errmodel.Protocol("sandbox_rejected", "query author kept producing invalid queries",
					map[string]any{"last_error": verr.Error(), "rejections": rejections})
			}
			feedback = "The previous query was rejected: " + verr.Error() + ". Write a corrected query."
			continue
		}
		rejections = 0
		feedback = ""

		result, xerr := ExecCapped(ctx, s.store.DB(), query, s.caps)
		if xerr != nil {
			rejections++
			if rejections >= s.maxRejections {
				return out, errmodel.Collaborator("sandbox_exec", "query kept failing at execution",
					map[string]any{"query": query}, xerr)
			}
			feedback = "The previous query failed to execute: " + xerr.Error() + ". Write a corrected query."
			continue
		}
		out.Runs = append(out.Runs, QueryRun{Query: query, Result: result})

		verdict, serr := s.summarize(ctx, question, query, result)
		if serr != nil {
			// malformed summarizer output is parse noise, the loop continues
			log.Debug().Err(serr).Int("round", round).Msg("episodic: summarizer output unusable")
			continue
		}
		if verdict.final {
			out.Summary = verdict.text
			return out, nil
		}
		handoff = truncateTail(verdict.text, s.handoffChars)
	}

	return out, errmodel.Budget("sandbox_unresolved", "episode investigation hit the round cap without an answer",
		map[string]any{"rounds": s.maxRounds})
}

func (s *Sandbox) authorQuery(ctx context.Context, question, feedback, handoff string) (string, error) {
	note := feedback
	if note == "" && handoff != "" {
		note = "Investigator note: " + handoff
	}
	body, ok := s.prompts.Render(prompt.NameEpisodeSQL, map[string]string{
		"question": question,
		"feedback": note,
	})
	if !ok {
		return "", errmodel.Protocol("missing_prompt", "episode_sql prompt not found", nil)
	}
	text, err := s.collect(ctx, body)
	if err != nil {
		return "", errmodel.Collaborator("sandbox_author", "query author call failed", nil, err)
	}
	return jsonx.StripFence(text), nil
}

type verdict struct {
	final bool
	text  string
}

func (s *Sandbox) summarize(ctx context.Context, question, query string, result Result) (verdict, error) {
	body, ok := s.prompts.Render(prompt.NameEpisodeSummarize, map[string]string{
		"question": question,
		"results":  "Query: " + query + "\n" + result.Render(),
	})
	if !ok {
		return verdict{}, errmodel.Protocol("missing_prompt", "episode_summarize prompt not found", nil)
	}
	text, err := s.collect(ctx, body)
	if err != nil {
		return verdict{}, errmodel.Collaborator("sandbox_summarizer", "summarizer call failed", nil, err)
	}
	return parseVerdict(text)
}

func parseVerdict(text string) (verdict, error) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(line, "FINAL:"); ok {
			return verdict{final: true, text: strings.TrimSpace(after)}, nil
		}
		if after, ok := strings.CutPrefix(line, "TO_QUERY:"); ok {
			return verdict{final: false, text: strings.TrimSpace(after)}, nil
		}
	}
	return verdict{}, errmodel.Parse("bad_verdict", "summarizer output has neither FINAL: nor TO_QUERY:",
		map[string]any{"snippet": text})
}

func (s *Sandbox) collect(ctx context.Context, promptBody string) (string, error) {
	ch, err := s.provider.StreamChat(ctx, []llm.Message{{Role: llm.RoleUser, Content: promptBody}}, llm.Options{Model: s.model})
	if err != nil {
		return "", err
	}
	text, _, _, err := llm.Collect(ch)
	return text, err
}

// truncateTail trims to at most max bytes without splitting a UTF-8 rune.
func truncateTail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}
