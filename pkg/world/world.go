// Package world owns the durable session facts: a single schema-versioned
// JSON document that outlives turns and is mutated only through typed deltas
// committed atomically. Corrupt input never raises; it resets to defaults.
package world

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is the current document schema.
const SchemaVersion = 1

// DefaultMaxTopics bounds the topics list after every merge.
const DefaultMaxTopics = 12

// Identity holds the stable naming facts of the session.
type Identity struct {
	UserName        string `json:"user_name,omitempty"`
	SessionUserName string `json:"session_user_name,omitempty"`
	AgentName       string `json:"agent_name,omitempty"`
	UserLocation    string `json:"user_location,omitempty"`
}

// State is the persisted world document.
type State struct {
	Version   int       `json:"version"`
	Topics    []string  `json:"topics,omitempty"`
	Goals     []string  `json:"goals,omitempty"`
	Rules     []string  `json:"rules,omitempty"`
	Project   string    `json:"project,omitempty"`
	Identity  Identity  `json:"identity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Default returns the empty document.
func Default(now time.Time) State {
	return State{Version: SchemaVersion, UpdatedAt: now.UTC()}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	cp := s
	cp.Topics = append([]string(nil), s.Topics...)
	cp.Goals = append([]string(nil), s.Goals...)
	cp.Rules = append([]string(nil), s.Rules...)
	return cp
}

// Summary renders the document for prompts: compact, stable field order.
func (s State) Summary() string {
	var sb strings.Builder
	if s.Project != "" {
		fmt.Fprintf(&sb, "project: %s\n", s.Project)
	}
	if len(s.Goals) > 0 {
		fmt.Fprintf(&sb, "goals: %s\n", strings.Join(s.Goals, "; "))
	}
	if len(s.Rules) > 0 {
		fmt.Fprintf(&sb, "rules: %s\n", strings.Join(s.Rules, "; "))
	}
	if len(s.Topics) > 0 {
		fmt.Fprintf(&sb, "topics: %s\n", strings.Join(s.Topics, ", "))
	}
	id := s.Identity
	if id.UserName != "" {
		fmt.Fprintf(&sb, "user: %s\n", id.UserName)
	}
	if id.SessionUserName != "" && id.SessionUserName != id.UserName {
		fmt.Fprintf(&sb, "session user: %s\n", id.SessionUserName)
	}
	if id.AgentName != "" {
		fmt.Fprintf(&sb, "agent: %s\n", id.AgentName)
	}
	if id.UserLocation != "" {
		fmt.Fprintf(&sb, "location: %s\n", id.UserLocation)
	}
	out := strings.TrimRight(sb.String(), "\n")
	if out == "" {
		return "world is empty"
	}
	return out
}

// OptString distinguishes an absent set-field from an explicit null. Absent
// means no change; null means clear.
type OptString struct {
	Present bool
	Null    bool
	Value   string
}

func (o *OptString) UnmarshalJSON(b []byte) error {
	o.Present = true
	if string(b) == "null" {
		o.Null = true
		return nil
	}
	return json.Unmarshal(b, &o.Value)
}

func (o OptString) MarshalJSON() ([]byte, error) {
	if !o.Present || o.Null {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Delta is the typed patch applied to a State. All matching is exact string
// match; removals apply before additions so "replace X with Y" is well
// defined in a single delta.
type Delta struct {
	GoalsAdd     []string           `json:"goals_add,omitempty"`
	GoalsRemove  []string           `json:"goals_remove,omitempty"`
	RulesAdd     []string           `json:"rules_add,omitempty"`
	RulesRemove  []string           `json:"rules_remove,omitempty"`
	TopicsAdd    []string           `json:"topics_add,omitempty"`
	TopicsRemove []string           `json:"topics_remove,omitempty"`
	SetProject   OptString          `json:"set_project,omitempty"`
	IdentitySet  map[string]*string `json:"identity_set,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d Delta) Empty() bool {
	return len(d.GoalsAdd) == 0 && len(d.GoalsRemove) == 0 &&
		len(d.RulesAdd) == 0 && len(d.RulesRemove) == 0 &&
		len(d.TopicsAdd) == 0 && len(d.TopicsRemove) == 0 &&
		!d.SetProject.Present && len(d.IdentitySet) == 0
}

// TopicsOnly strips the delta down to topic changes. Reflection is only
// trusted with topics.
func (d Delta) TopicsOnly() Delta {
	return Delta{TopicsAdd: d.TopicsAdd, TopicsRemove: d.TopicsRemove}
}

// Apply returns the state after the delta: removals first, then additions
// with exact-string dedup and preserved order, then set-field replacement,
// then normalization (topic cap included). Apply is deterministic and an
// empty delta is a no-op.
func Apply(s State, d Delta, now time.Time, maxTopics int) State {
	out := s.Clone()

	out.Goals = mergeList(out.Goals, d.GoalsRemove, d.GoalsAdd)
	out.Rules = mergeList(out.Rules, d.RulesRemove, d.RulesAdd)
	out.Topics = mergeList(out.Topics, d.TopicsRemove, d.TopicsAdd)

	if d.SetProject.Present {
		if d.SetProject.Null {
			out.Project = ""
		} else {
			out.Project = d.SetProject.Value
		}
	}
	for k, v := range d.IdentitySet {
		val := ""
		if v != nil {
			val = *v
		}
		switch k {
		case "user_name":
			out.Identity.UserName = val
		case "session_user_name":
			out.Identity.SessionUserName = val
		case "agent_name":
			out.Identity.AgentName = val
		case "user_location":
			out.Identity.UserLocation = val
		}
	}

	if !d.Empty() {
		out.UpdatedAt = now.UTC()
	}
	return Normalize(out, maxTopics)
}

// Normalize dedups lists, caps topics, and stamps the schema version. It is
// applied on every load and after every delta so no caller ever observes an
// out-of-shape document.
func Normalize(s State, maxTopics int) State {
	if maxTopics <= 0 {
		maxTopics = DefaultMaxTopics
	}
	s.Version = SchemaVersion
	s.Topics = dedup(s.Topics)
	s.Goals = dedup(s.Goals)
	s.Rules = dedup(s.Rules)
	if len(s.Topics) > maxTopics {
		s.Topics = s.Topics[:maxTopics]
	}
	return s
}

func mergeList(base, remove, add []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, r := range remove {
		drop[r] = true
	}
	out := make([]string, 0, len(base)+len(add))
	for _, v := range base {
		if !drop[v] {
			out = append(out, v)
		}
	}
	out = append(out, add...)
	return dedup(out)
}

func dedup(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
