package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSeqIsGaplessAndOrdered(t *testing.T) {
	b := NewBus("turn-1")
	sub := b.Subscribe()
	for i := 0; i < 50; i++ {
		b.Emit(TypeTextDelta, "final", "", map[string]any{KeyText: "x"})
	}
	b.Close()

	got := sub.Drain(context.Background())
	if len(got) != 50 {
		t.Fatalf("got %d events want 50", len(got))
	}
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
		if ev.TurnID != "turn-1" || ev.ProtocolVersion != ProtocolVersion {
			t.Fatalf("bad envelope: %+v", ev)
		}
	}
}

func TestFanOutDeliversToAllSubscribers(t *testing.T) {
	b := NewBus("turn-2")
	s1 := b.Subscribe()
	s2 := b.Subscribe()
	b.Emit(TypeAnswer, "final", "", map[string]any{KeyText: "hi"})
	b.Close()

	for _, s := range []*Subscription{s1, s2} {
		got := s.Drain(context.Background())
		if len(got) != 1 || got[0].Type != TypeAnswer {
			t.Fatalf("subscriber got %+v", got)
		}
	}
}

func TestSpanBalancedOnFailure(t *testing.T) {
	b := NewBus("turn-3")
	sub := b.Subscribe()

	sp := b.BeginSpan("planner")
	sp.Emit(TypeThinkingDelta, map[string]any{KeyText: "hmm"})
	sp.End(context.DeadlineExceeded)
	sp.End(nil) // idempotent
	b.Close()

	got := sub.Drain(context.Background())
	if len(got) != 3 {
		t.Fatalf("got %d events want 3", len(got))
	}
	if got[0].Type != TypeNodeStart || got[2].Type != TypeNodeEnd {
		t.Fatalf("unbalanced span: %v %v", got[0].Type, got[2].Type)
	}
	if got[0].SpanID == "" || got[0].SpanID != got[1].SpanID || got[1].SpanID != got[2].SpanID {
		t.Fatal("span ids do not correlate")
	}
	if got[2].Payload[KeyError] == nil {
		t.Fatal("node_end should carry the error")
	}
}

func TestBoundedNextStopsAfterCloseAndDrain(t *testing.T) {
	b := NewBus("turn-4")
	sub := b.Subscribe()
	b.Emit(TypeAnswer, "final", "", nil)
	b.Close()

	ctx := context.Background()
	if _, ok := sub.Next(ctx); !ok {
		t.Fatal("expected the queued event")
	}
	if _, ok := sub.Next(ctx); ok {
		t.Fatal("expected end of stream")
	}
}

func TestLiveModeWaitsForTrailingEvents(t *testing.T) {
	b := NewBus("turn-5")
	sub := b.Subscribe()

	var answered atomic.Bool
	go func() {
		b.Emit(TypeAnswer, "final", "", nil)
		answered.Store(true)
		// trailing reflection event after the primary result
		time.Sleep(20 * time.Millisecond)
		b.Emit(TypeReflection, "reflection", "", nil)
		b.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var types []Type
	for {
		ev, ok := sub.NextLive(ctx, func() bool { return false })
		if !ok {
			break
		}
		types = append(types, ev.Type)
	}
	if len(types) != 2 || types[1] != TypeReflection {
		t.Fatalf("live mode lost trailing events: %v", types)
	}
}

func TestLiveModeStopsWhenDoneAndDrained(t *testing.T) {
	b := NewBus("turn-6")
	sub := b.Subscribe()
	b.Emit(TypeAnswer, "final", "", nil)

	done := func() bool { return true }
	ctx := context.Background()
	if ev, ok := sub.NextLive(ctx, done); !ok || ev.Type != TypeAnswer {
		t.Fatalf("queued event must drain before done applies: %v %v", ev, ok)
	}
	if _, ok := sub.NextLive(ctx, done); ok {
		t.Fatal("expected stop once done and drained")
	}
}
