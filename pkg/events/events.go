// Package events carries the ordered, typed event stream a turn produces.
// One Bus exists per turn; the orchestrator is its only producer and any
// number of consumers (UI, logs, tests) subscribe to it. The envelope gives
// every event a strictly increasing per-turn sequence number and a span id so
// nested deltas correlate with their owning node.
package events

import (
	"time"
)

// ProtocolVersion is stamped on every envelope so consumers can detect
// incompatible payload shapes after an upgrade.
const ProtocolVersion = 1

// Type classifies an event for routing and rendering.
type Type string

const (
	TypeTurnStart Type = "turn_start"
	TypeNodeStart Type = "node_start"
	TypeNodeEnd   Type = "node_end"

	// Streaming deltas from the active model call.
	TypeTextDelta     Type = "text_delta"
	TypeThinkingDelta Type = "thinking_delta"

	// Tool loop progress.
	TypeToolCall   Type = "tool_call"
	TypeToolResult Type = "tool_result"

	// Planner/executor progress.
	TypeRoute       Type = "route"
	TypeAttempt     Type = "attempt"
	TypeWorldCommit Type = "world_commit"

	// Turn results.
	TypeAnswer      Type = "answer"
	TypeTermination Type = "termination"
	TypeReflection  Type = "reflection"
	TypeError       Type = "error"
)

// Event is the envelope delivered to every subscriber.
type Event struct {
	ProtocolVersion int            `json:"protocol_version"`
	Type            Type           `json:"type"`
	TurnID          string         `json:"turn_id"`
	Seq             uint64         `json:"seq"`
	TS              time.Time      `json:"ts"`
	NodeID          string         `json:"node_id,omitempty"`
	SpanID          string         `json:"span_id,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

// Common payload keys.
const (
	KeyText     = "text"
	KeyError    = "error"
	KeyNode     = "node"
	KeyRoute    = "route"
	KeyReason   = "reason"
	KeyStatus   = "status"
	KeyToolName = "tool"
	KeyArgs     = "args"
	KeyResult   = "result"
)
