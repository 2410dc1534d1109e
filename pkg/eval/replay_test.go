package eval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"tandem/pkg/events"
)

func wellFormedCapture(t *testing.T) Capture {
	t.Helper()
	bus := events.NewBus("t1")
	sub := bus.Subscribe()

	bus.Emit(events.TypeTurnStart, "", "", nil)
	sp := bus.BeginSpan("router")
	sp.Emit(events.TypeRoute, map[string]any{events.KeyRoute: "final"})
	sp.End(nil)
	sp2 := bus.BeginSpan("final")
	sp2.Emit(events.TypeAnswer, map[string]any{events.KeyText: "hi"})
	sp2.End(errors.New("boom"))
	bus.Close()

	return Record(context.Background(), "t1", sub)
}

func TestVerifyAcceptsWellFormedStream(t *testing.T) {
	c := wellFormedCapture(t)
	if issues := Verify(c); len(issues) != 0 {
		t.Fatalf("issues: %v", issues)
	}
}

func TestVerifyFlagsGapsAndImbalance(t *testing.T) {
	c := wellFormedCapture(t)

	broken := c
	broken.Events = append([]events.Event(nil), c.Events...)
	broken.Events[2].Seq = 99
	if issues := Verify(broken); len(issues) == 0 {
		t.Fatal("want seq gap issue")
	}

	// drop the final node_end
	broken = c
	broken.Events = c.Events[:len(c.Events)-1]
	if issues := Verify(broken); len(issues) == 0 {
		t.Fatal("want unbalanced span issue")
	}
}

func TestVerifyFlagsWrongTurnAndMissingStart(t *testing.T) {
	c := wellFormedCapture(t)
	c.TurnID = "other"
	if issues := Verify(c); len(issues) == 0 {
		t.Fatal("want turn id issues")
	}

	if issues := Verify(Capture{TurnID: "x"}); len(issues) == 0 {
		t.Fatal("want empty capture issue")
	}
}

func TestCaptureRoundTrip(t *testing.T) {
	c := wellFormedCapture(t)
	p := filepath.Join(t.TempDir(), "capture.json")
	if err := c.Save(p); err != nil {
		t.Fatal(err)
	}
	got, err := LoadCapture(p)
	if err != nil {
		t.Fatal(err)
	}
	if got.TurnID != c.TurnID || len(got.Events) != len(c.Events) {
		t.Fatalf("round trip lost data: %d vs %d events", len(got.Events), len(c.Events))
	}
	if issues := Verify(got); len(issues) != 0 {
		t.Fatalf("issues after round trip: %v", issues)
	}
}
