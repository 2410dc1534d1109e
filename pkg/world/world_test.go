package world

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestApplyRemovalsBeforeAdditions(t *testing.T) {
	s := State{Version: SchemaVersion, Goals: []string{"ship v1"}}
	d := Delta{GoalsAdd: []string{"ship v2"}, GoalsRemove: []string{"ship v1"}}
	out := Apply(s, d, now, 0)
	if !reflect.DeepEqual(out.Goals, []string{"ship v2"}) {
		t.Fatalf("goals=%v", out.Goals)
	}
}

func TestEmptyDeltaIsIdempotent(t *testing.T) {
	s := State{Version: SchemaVersion, Topics: []string{"go", "sqlite"}, Project: "tandem"}
	once := Apply(s, Delta{TopicsAdd: []string{"llm"}}, now, 0)
	twice := Apply(once, Delta{}, now.Add(time.Hour), 0)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("empty delta changed state:\n%+v\n%+v", once, twice)
	}
}

func TestTopicsCapAfterMerge(t *testing.T) {
	var topics []string
	for _, c := range "abcdefghij" {
		topics = append(topics, string(c))
	}
	s := State{Version: SchemaVersion, Topics: topics}
	out := Apply(s, Delta{TopicsAdd: []string{"k", "l", "m"}}, now, 12)
	if len(out.Topics) != 12 {
		t.Fatalf("topics not capped: %d", len(out.Topics))
	}
	// order preserved, earliest first
	if out.Topics[0] != "a" || out.Topics[11] != "l" {
		t.Fatalf("topics=%v", out.Topics)
	}
}

func TestDedupPreservesOrder(t *testing.T) {
	s := State{Version: SchemaVersion}
	out := Apply(s, Delta{RulesAdd: []string{"be brief", "cite sources", "be brief"}}, now, 0)
	if !reflect.DeepEqual(out.Rules, []string{"be brief", "cite sources"}) {
		t.Fatalf("rules=%v", out.Rules)
	}
}

func TestSetProjectNullClears(t *testing.T) {
	var d Delta
	if err := json.Unmarshal([]byte(`{"set_project": null}`), &d); err != nil {
		t.Fatal(err)
	}
	s := State{Version: SchemaVersion, Project: "old"}
	out := Apply(s, d, now, 0)
	if out.Project != "" {
		t.Fatalf("project=%q", out.Project)
	}

	// absent field means no change
	var d2 Delta
	if err := json.Unmarshal([]byte(`{"topics_add":["x"]}`), &d2); err != nil {
		t.Fatal(err)
	}
	out2 := Apply(s, d2, now, 0)
	if out2.Project != "old" {
		t.Fatalf("absent set_project must not clear: %q", out2.Project)
	}
}

func TestIdentitySet(t *testing.T) {
	var d Delta
	raw := `{"identity_set": {"user_name": "Ada", "agent_name": null}}`
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		t.Fatal(err)
	}
	s := State{Version: SchemaVersion, Identity: Identity{AgentName: "tandem"}}
	out := Apply(s, d, now, 0)
	if out.Identity.UserName != "Ada" {
		t.Fatalf("user_name=%q", out.Identity.UserName)
	}
	if out.Identity.AgentName != "" {
		t.Fatalf("null should clear agent_name, got %q", out.Identity.AgentName)
	}
}

func TestUpdatedAtOnlyOnChange(t *testing.T) {
	s := State{Version: SchemaVersion, UpdatedAt: now}
	later := now.Add(time.Hour)
	if got := Apply(s, Delta{}, later, 0); !got.UpdatedAt.Equal(now) {
		t.Fatalf("empty delta bumped updated_at: %v", got.UpdatedAt)
	}
	if got := Apply(s, Delta{TopicsAdd: []string{"x"}}, later, 0); !got.UpdatedAt.Equal(later) {
		t.Fatalf("real delta should bump updated_at: %v", got.UpdatedAt)
	}
}
