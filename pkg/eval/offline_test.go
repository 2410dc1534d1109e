package eval

import (
	"testing"
	"testing/fstest"

	"tandem/pkg/prompt"
)

func TestEvaluateFixtures(t *testing.T) {
	fsys := fstest.MapFS{
		"fixtures/final_uses_name.json": {Data: []byte(`{
			"name": "final_uses_name",
			"prompt": "final",
			"vars": {"agent_name": "Iris", "context": "## world\nuser: Ada"},
			"expect": {"contains": ["Iris", "user: Ada"], "not_contains": ["{{agent_name}}"]}
		}`)},
		"fixtures/router_mentions_routes.json": {Data: []byte(`{
			"name": "router_mentions_routes",
			"prompt": "router",
			"expect": {"contains": ["\"final\"", "\"planner\""]}
		}`)},
		"fixtures/failing.json": {Data: []byte(`{
			"name": "failing",
			"prompt": "router",
			"expect": {"contains": ["no such text anywhere"]}
		}`)},
	}

	rep, err := EvaluateFixtures(fsys, "fixtures", prompt.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Total != 3 || rep.Passed != 2 {
		t.Fatalf("total=%d passed=%d details=%v", rep.Total, rep.Passed, rep.Details)
	}
	if got := rep.Score(); got < 0.66 || got > 0.67 {
		t.Fatalf("score=%f", got)
	}
	if len(rep.Details) != 1 {
		t.Fatalf("details=%v", rep.Details)
	}
}

func TestEvaluateFixturesUnknownPrompt(t *testing.T) {
	fsys := fstest.MapFS{
		"fixtures/x.json": {Data: []byte(`{"name": "x", "prompt": "nope", "expect": {}}`)},
	}
	rep, err := EvaluateFixtures(fsys, "fixtures", prompt.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Passed != 0 || len(rep.Details) != 1 {
		t.Fatalf("rep=%+v", rep)
	}
}

func TestEmptyFixtureSetScoresOne(t *testing.T) {
	rep, err := EvaluateFixtures(fstest.MapFS{"fixtures/readme.txt": {Data: []byte("x")}}, "fixtures", prompt.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Score() != 1 {
		t.Fatalf("score=%f", rep.Score())
	}
}
