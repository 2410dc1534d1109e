// Package eval verifies captured turns offline: replaying an event stream
// against the stream invariants, and scoring prompt fixtures without a model.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"tandem/pkg/events"
	"tandem/pkg/turn"
)

// Capture is one recorded turn: the stream plus the outcome, serializable so
// runs can be saved and re-checked after engine changes.
type Capture struct {
	TurnID      string            `json:"turn_id"`
	Events      []events.Event    `json:"events"`
	Termination *turn.Termination `json:"termination,omitempty"`
	Answer      string            `json:"answer,omitempty"`
}

// Record drains a subscription into a Capture. Call after the turn's bus
// closed; Record stops when the stream does.
func Record(ctx context.Context, turnID string, sub *events.Subscription) Capture {
	return Capture{TurnID: turnID, Events: sub.Drain(ctx)}
}

// Save writes the capture as JSON.
func (c Capture) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// LoadCapture reads a saved capture.
func LoadCapture(path string) (Capture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Capture{}, err
	}
	var c Capture
	if err := json.Unmarshal(b, &c); err != nil {
		return Capture{}, err
	}
	return c, nil
}

// Verify replays the capture against the stream contract and returns every
// violation found. An empty slice means the capture is well formed:
// sequence numbers gapless from 1, a single leading turn_start, every
// node_start balanced by a node_end on the same span, at most one
// termination, and a consistent turn id throughout.
func Verify(c Capture) []string {
	var issues []string
	if len(c.Events) == 0 {
		return []string{"capture has no events"}
	}
	if c.Events[0].Type != events.TypeTurnStart {
		issues = append(issues, fmt.Sprintf("first event is %s, want turn_start", c.Events[0].Type))
	}

	open := map[string]string{} // span id -> node id
	terminations := 0
	for i, ev := range c.Events {
		if ev.Seq != uint64(i+1) {
			issues = append(issues, fmt.Sprintf("event %d has seq %d", i, ev.Seq))
		}
		if ev.TurnID != c.TurnID {
			issues = append(issues, fmt.Sprintf("event %d belongs to turn %q", i, ev.TurnID))
		}
		if ev.ProtocolVersion != events.ProtocolVersion {
			issues = append(issues, fmt.Sprintf("event %d has protocol version %d", i, ev.ProtocolVersion))
		}
		switch ev.Type {
		case events.TypeTurnStart:
			if i != 0 {
				issues = append(issues, fmt.Sprintf("turn_start repeated at event %d", i))
			}
		case events.TypeNodeStart:
			if _, dup := open[ev.SpanID]; dup {
				issues = append(issues, fmt.Sprintf("span %s started twice", ev.SpanID))
			}
			open[ev.SpanID] = ev.NodeID
		case events.TypeNodeEnd:
			node, ok := open[ev.SpanID]
			if !ok {
				issues = append(issues, fmt.Sprintf("span %s ended without a start", ev.SpanID))
				break
			}
			if node != ev.NodeID {
				issues = append(issues, fmt.Sprintf("span %s ends node %q, started node %q", ev.SpanID, ev.NodeID, node))
			}
			delete(open, ev.SpanID)
		case events.TypeTermination:
			terminations++
		}
	}
	for id, node := range open {
		issues = append(issues, fmt.Sprintf("span %s (%s) never ended", id, node))
	}
	if terminations > 1 {
		issues = append(issues, fmt.Sprintf("%d termination events, want at most 1", terminations))
	}
	if c.Termination != nil && terminations == 0 {
		issues = append(issues, "capture records a termination the stream never emitted")
	}
	return issues
}
