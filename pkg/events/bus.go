package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Bus is the single cross-thread structure between the turn worker and its
// consumers. Producer side is not safe for concurrent use (one turn runs on
// one worker); the subscriber side is safe from any goroutine. Queues are
// unbounded and strictly FIFO.
type Bus struct {
	mu     sync.Mutex
	turnID string
	seq    uint64
	subs   []*Subscription
	closed bool
}

// NewBus creates the event bus for one turn.
func NewBus(turnID string) *Bus {
	return &Bus{turnID: turnID}
}

// TurnID returns the turn this bus belongs to.
func (b *Bus) TurnID() string { return b.turnID }

// Subscribe attaches a new consumer. Events emitted before Subscribe are not
// replayed; subscribe before the turn starts to observe everything.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscription{ready: make(chan struct{}, 1), closed: b.closed}
	b.subs = append(b.subs, s)
	return s
}

// Emit assigns the next sequence number and fans the event out to every
// subscriber. Emit after Close panics: a closed bus means the producer
// promised no more events.
func (b *Bus) Emit(t Type, nodeID, spanID string, payload map[string]any) Event {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		panic("events: emit on closed bus")
	}
	b.seq++
	ev := Event{
		ProtocolVersion: ProtocolVersion,
		Type:            t,
		TurnID:          b.turnID,
		Seq:             b.seq,
		TS:              time.Now().UTC(),
		NodeID:          nodeID,
		SpanID:          spanID,
		Payload:         payload,
	}
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
	return ev
}

// Close marks the stream complete. Subscribers drain whatever is queued and
// then stop. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*Subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.close()
	}
}

// Span brackets one orchestrator node. Every span emits a balanced
// start/end pair; End carries the error when the node failed.
type Span struct {
	bus    *Bus
	NodeID string
	ID     string
	ended  bool
}

// BeginSpan emits a node_start event and returns the span handle.
func (b *Bus) BeginSpan(nodeID string) *Span {
	sp := &Span{bus: b, NodeID: nodeID, ID: uuid.NewString()}
	b.Emit(TypeNodeStart, nodeID, sp.ID, map[string]any{KeyNode: nodeID})
	return sp
}

// Emit publishes an event inside this span.
func (s *Span) Emit(t Type, payload map[string]any) {
	s.bus.Emit(t, s.NodeID, s.ID, payload)
}

// End emits the balancing node_end. A non-nil err is carried in the payload.
// End is idempotent so defer s.End(nil) is safe alongside an explicit
// failure End.
func (s *Span) End(err error) {
	if s.ended {
		return
	}
	s.ended = true
	payload := map[string]any{KeyNode: s.NodeID}
	if err != nil {
		payload[KeyError] = err.Error()
	}
	s.bus.Emit(TypeNodeEnd, s.NodeID, s.ID, payload)
}

// Subscription is one consumer's FIFO view of the stream.
type Subscription struct {
	mu     sync.Mutex
	buf    []Event
	ready  chan struct{}
	closed bool
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.buf = append(s.buf, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

func (s *Subscription) pop() (Event, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) > 0 {
		ev := s.buf[0]
		s.buf = s.buf[1:]
		return ev, true, s.closed
	}
	return Event{}, false, s.closed
}

// Next is the bounded consumption mode: it blocks for the next event and
// returns ok=false once the producer closed the bus and the queue drained.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	for {
		ev, ok, closed := s.pop()
		if ok {
			return ev, true
		}
		if closed {
			return Event{}, false
		}
		select {
		case <-ctx.Done():
			return Event{}, false
		case <-s.ready:
		}
	}
}

// NextLive is the live consumption mode: it keeps delivering until the done
// predicate holds AND the queue is drained, so trailing events emitted after
// the primary result (reflection output) are not lost. A closed bus also
// counts as done.
func (s *Subscription) NextLive(ctx context.Context, done func() bool) (Event, bool) {
	for {
		ev, ok, closed := s.pop()
		if ok {
			return ev, true
		}
		if closed || (done != nil && done()) {
			return Event{}, false
		}
		select {
		case <-ctx.Done():
			return Event{}, false
		case <-s.ready:
		case <-time.After(10 * time.Millisecond):
			// re-check the done predicate; it can flip without a new event
		}
	}
}

// Drain collects every remaining event without blocking past close. Intended
// for tests and replay capture.
func (s *Subscription) Drain(ctx context.Context) []Event {
	var out []Event
	for {
		ev, ok := s.Next(ctx)
		if !ok {
			return out
		}
		out = append(out, ev)
	}
}
