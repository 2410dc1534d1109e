package prompt

import (
	"strings"
	"testing"
)

func TestSaveVersionsIncrement(t *testing.T) {
	s := NewStore()
	p1, _, err := s.Save(Prompt{Name: "x", Body: "A"})
	if err != nil {
		t.Fatal(err)
	}
	p2, _, err := s.Save(Prompt{Name: "x", Body: "B"})
	if err != nil {
		t.Fatal(err)
	}
	if p1.Version != 1 || p2.Version != 2 {
		t.Fatalf("versions %d, %d", p1.Version, p2.Version)
	}
	if got, ok := s.Get("x", 0); !ok || got.Body != "B" {
		t.Fatalf("latest=%+v ok=%v", got, ok)
	}
	if got, ok := s.Get("x", 1); !ok || got.Body != "A" {
		t.Fatalf("v1=%+v ok=%v", got, ok)
	}
}

func TestLintRejectsEmptyAndUnbalanced(t *testing.T) {
	if _, issues, err := NewStore().Save(Prompt{Name: "", Body: ""}); err != ErrLintFailed || len(issues) != 2 {
		t.Fatalf("issues=%+v err=%v", issues, err)
	}
	if _, issues, err := NewStore().Save(Prompt{Name: "x", Body: "hello {{name"}); err != ErrLintFailed || len(issues) != 1 {
		t.Fatalf("issues=%+v err=%v", issues, err)
	}
}

func TestLintAllowsJSONExampleBraces(t *testing.T) {
	p := Prompt{Name: "x", Body: `Reply {"args": {"delta": {...}}} and then {{goal}}.
Identity example: {"identity_set": {"user_name": null}}`}
	if issues := Lint(p); len(issues) != 0 {
		t.Fatalf("issues=%+v", issues)
	}
}

func TestRenderSubstitutesAndKeepsUnknown(t *testing.T) {
	s := NewStore()
	if _, _, err := s.Save(Prompt{Name: "x", Body: "hi {{name}}, re {{topic}}"}); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Render("x", map[string]string{"name": "Ada"})
	if !ok {
		t.Fatal("render failed")
	}
	if got != "hi Ada, re {{topic}}" {
		t.Fatalf("render=%q", got)
	}
}

func TestDefaultsSeedAllRoles(t *testing.T) {
	s := Defaults()
	for _, name := range []string{
		NameRouter, NamePlanner, NameWorldUpdate, NameFinal,
		NameReflection, NameEpisodeSQL, NameEpisodeSummarize, NameClassify,
	} {
		p, ok := s.Get(name, 0)
		if !ok || p.Version != 1 {
			t.Fatalf("missing default %q", name)
		}
		if issues := Lint(p); len(issues) != 0 {
			t.Fatalf("%q lint issues: %+v", name, issues)
		}
	}
}

func TestPlannerPromptListsAllActions(t *testing.T) {
	s := Defaults()
	p, _ := s.Get(NamePlanner, 0)
	for _, action := range []string{
		"chat_history", "memory_retrieval", "episode_query",
		"world_fetch_full", "world_update", "finalize",
	} {
		if !strings.Contains(p.Body, `"`+action+`"`) {
			t.Fatalf("planner prompt missing action %q", action)
		}
	}
}
