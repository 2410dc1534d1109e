package assembler

import (
	"strings"
	"testing"

	"tandem/pkg/turn"
)

func wordEstimator(s string) int { return len(strings.Fields(s)) }

func TestAssembleDedupAndOrder(t *testing.T) {
	a := New(WithTokenEstimator(wordEstimator))
	items := []Item{
		{Source: "memory", ChunkID: "002", Text: "two"},
		{Source: "memory", ChunkID: "001", Text: "one"},
		{Source: "memory", ChunkID: "001", Text: "one duplicate"},
		{Source: "world", ChunkID: "summary", Text: "project tandem"},
	}
	got, lg := a.Assemble(items, []Pinned{{Source: "world", ChunkID: "summary"}})
	if len(got) != 3 {
		t.Fatalf("items=%+v", got)
	}
	if got[0].Source != "world" {
		t.Fatalf("pinned item not first: %+v", got[0])
	}
	if got[1].ChunkID != "001" || got[2].ChunkID != "002" {
		t.Fatalf("order=%+v", got)
	}
	if lg.DroppedCount != 0 {
		t.Fatalf("log=%+v", lg)
	}
}

func TestAssembleBudgetNeverExceeded(t *testing.T) {
	a := New(WithTokenEstimator(wordEstimator), WithMaxTokens(3))
	items := []Item{
		{Source: "memory", ChunkID: "001", Text: "one two"},
		{Source: "memory", ChunkID: "002", Text: "three four five"},
		{Source: "memory", ChunkID: "003", Text: "six"},
	}
	got, lg := a.Assemble(items, nil)
	total := 0
	for _, it := range got {
		total += wordEstimator(it.Text)
	}
	if total > 3 {
		t.Fatalf("budget exceeded: %d", total)
	}
	if lg.IncludedTokens != total {
		t.Fatalf("log=%+v total=%d", lg, total)
	}
	if lg.DroppedCount == 0 {
		t.Fatal("expected a budget drop")
	}
}

func TestAssembleIsDeterministic(t *testing.T) {
	a := New(WithTokenEstimator(wordEstimator))
	items := []Item{
		{Source: "b", ChunkID: "1", Text: "x"},
		{Source: "a", ChunkID: "2", Text: "y"},
		{Source: "a", ChunkID: "1", Text: "z"},
	}
	first, _ := a.Assemble(items, nil)
	for i := 0; i < 10; i++ {
		again, _ := a.Assemble(items, nil)
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("non-deterministic at run %d: %+v vs %+v", i, first, again)
			}
		}
	}
}

func TestFromContextPinsWorldAndHistory(t *testing.T) {
	c := &turn.Context{
		WorldSummary: "identity: Ada",
		HistoryText:  "user: hi",
		Memories:     []turn.MemoryItem{{Content: "likes go"}},
	}
	items, pins := FromContext(c)
	if len(items) != 3 || len(pins) != 2 {
		t.Fatalf("items=%d pins=%d", len(items), len(pins))
	}
	for _, p := range pins {
		if p.Source != SourceWorld && p.Source != SourceHistory {
			t.Fatalf("unexpected pin %+v", p)
		}
	}
}

func TestRenderGroupsBySource(t *testing.T) {
	out := Render([]Item{
		{Source: "world", ChunkID: "summary", Text: "project tandem"},
		{Source: "memory", ChunkID: "001", Text: "likes go"},
		{Source: "memory", ChunkID: "002", Text: "lives in Kyoto"},
	})
	if !strings.Contains(out, "## world\nproject tandem") {
		t.Fatalf("render=%q", out)
	}
	if strings.Count(out, "## memory") != 1 {
		t.Fatalf("render=%q", out)
	}
}
