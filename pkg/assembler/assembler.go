// Package assembler builds the final-answer context block from retrieved
// material. Selection is deterministic: pinned sections first, duplicates
// dropped by (source, chunk) identity, and a token budget that is never
// exceeded.
package assembler

import (
	"fmt"
	"sort"
	"strings"

	"tandem/pkg/turn"
)

// Item is one retrievable chunk of context. Identity for ordering and dedup
// is (Source, ChunkID).
type Item struct {
	Source  string
	ChunkID string
	Text    string
}

// Pinned marks an item that is considered before everything else.
type Pinned struct {
	Source  string
	ChunkID string
}

// Log summarizes an assembly decision.
type Log struct {
	IncludedTokens int
	DroppedCount   int // dropped by budget; duplicates are not counted
}

// TokenEstimator estimates token usage of text.
type TokenEstimator func(text string) int

// Assembler selects context items under a token budget.
type Assembler struct {
	estimate  TokenEstimator
	maxTokens int
}

// Option configures the Assembler.
type Option func(*Assembler)

// WithTokenEstimator sets the token estimator. Defaults to a bytes/4
// heuristic.
func WithTokenEstimator(est TokenEstimator) Option {
	return func(a *Assembler) {
		if est != nil {
			a.estimate = est
		}
	}
}

// WithMaxTokens sets the token budget.
func WithMaxTokens(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// New creates an Assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{
		estimate:  HeuristicEstimator,
		maxTokens: 1_000_000_000,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// HeuristicEstimator approximates tokens as bytes/4, the usual rule of thumb
// for English prose. Used when no encoder is configured.
func HeuristicEstimator(text string) int {
	n := len(text) / 4
	if n == 0 && text != "" {
		n = 1
	}
	return n
}

// Assemble returns a deterministic selection: dedup by (source, chunk),
// pinned items first (each group sorted by source then chunk), and nothing
// admitted past the budget.
func (a *Assembler) Assemble(items []Item, pins []Pinned) ([]Item, Log) {
	type key struct{ s, c string }
	seen := make(map[key]Item)
	for _, it := range items {
		k := key{it.Source, it.ChunkID}
		if _, ok := seen[k]; !ok {
			seen[k] = it
		}
	}
	pinned := make(map[key]bool, len(pins))
	for _, p := range pins {
		pinned[key{p.Source, p.ChunkID}] = true
	}

	var pinnedItems, otherItems []Item
	for k, it := range seen {
		if pinned[k] {
			pinnedItems = append(pinnedItems, it)
		} else {
			otherItems = append(otherItems, it)
		}
	}
	less := func(x, y Item) bool {
		if x.Source != y.Source {
			return x.Source < y.Source
		}
		return x.ChunkID < y.ChunkID
	}
	sort.Slice(pinnedItems, func(i, j int) bool { return less(pinnedItems[i], pinnedItems[j]) })
	sort.Slice(otherItems, func(i, j int) bool { return less(otherItems[i], otherItems[j]) })

	budget := a.maxTokens
	var (
		result   []Item
		included int
		dropped  int
	)
	take := func(it Item) {
		cost := a.estimate(it.Text)
		if cost > budget {
			dropped++
			return
		}
		budget -= cost
		included += cost
		result = append(result, it)
	}
	for _, it := range pinnedItems {
		take(it)
	}
	for _, it := range otherItems {
		take(it)
	}
	return result, Log{IncludedTokens: included, DroppedCount: dropped}
}

// Context bag sources.
const (
	SourceWorld    = "world"
	SourceHistory  = "history"
	SourceMemory   = "memory"
	SourceEpisodes = "episodes"
)

// FromContext flattens the turn's retrieval bag into items, and pins the
// world summary and chat history: answering in character beats recalling an
// extra memory when the budget squeezes.
func FromContext(c *turn.Context) (items []Item, pins []Pinned) {
	if c.WorldSummary != "" {
		items = append(items, Item{Source: SourceWorld, ChunkID: "summary", Text: c.WorldSummary})
		pins = append(pins, Pinned{Source: SourceWorld, ChunkID: "summary"})
	}
	if c.HistoryText != "" {
		items = append(items, Item{Source: SourceHistory, ChunkID: "recent", Text: c.HistoryText})
		pins = append(pins, Pinned{Source: SourceHistory, ChunkID: "recent"})
	}
	for i, m := range c.Memories {
		items = append(items, Item{Source: SourceMemory, ChunkID: fmt.Sprintf("%03d", i), Text: m.Content})
	}
	if c.EpisodeSummary != "" {
		items = append(items, Item{Source: SourceEpisodes, ChunkID: "summary", Text: c.EpisodeSummary})
	}
	keys := make([]string, 0, len(c.Sources))
	for k := range c.Sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		items = append(items, Item{Source: k, ChunkID: "full", Text: c.Sources[k]})
	}
	return items, pins
}

// Render joins assembled items into the prompt block, one labeled section per
// source, in the order Assemble produced.
func Render(items []Item) string {
	var b strings.Builder
	lastSource := ""
	for _, it := range items {
		if it.Source != lastSource {
			if lastSource != "" {
				b.WriteString("\n")
			}
			b.WriteString("## ")
			b.WriteString(it.Source)
			b.WriteString("\n")
			lastSource = it.Source
		}
		b.WriteString(it.Text)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
