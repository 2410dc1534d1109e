package eval

import (
	"encoding/json"
	"io/fs"
	"path"
	"strings"

	"tandem/pkg/prompt"
)

// Fixture is one offline prompt case: a stored prompt rendered with vars and
// checked against substring expectations. No model call is involved.
type Fixture struct {
	Name   string            `json:"name"`
	Prompt string            `json:"prompt"` // prompt store name
	Vars   map[string]string `json:"vars,omitempty"`
	Expect Expectation       `json:"expect"`
}

// Expectation lists substrings the rendered prompt must and must not contain.
type Expectation struct {
	Contains    []string `json:"contains,omitempty"`
	NotContains []string `json:"not_contains,omitempty"`
}

// Report summarizes one fixture run.
type Report struct {
	Total   int
	Passed  int
	Details []string // one line per failed check
}

// Score is the passed fraction; an empty fixture set scores 1.
func (r Report) Score() float64 {
	if r.Total == 0 {
		return 1
	}
	return float64(r.Passed) / float64(r.Total)
}

// EvaluateFixtures loads every *.json fixture under dir and renders each
// against the store.
func EvaluateFixtures(fsys fs.FS, dir string, store *prompt.Store) (Report, error) {
	fixtures, err := loadFixtures(fsys, dir)
	if err != nil {
		return Report{}, err
	}
	var rep Report
	rep.Total = len(fixtures)
	for _, fx := range fixtures {
		out, ok := store.Render(fx.Prompt, fx.Vars)
		if !ok {
			rep.Details = append(rep.Details, fx.Name+": unknown prompt "+fx.Prompt)
			continue
		}
		pass := true
		for _, s := range fx.Expect.Contains {
			if !strings.Contains(out, s) {
				pass = false
				rep.Details = append(rep.Details, fx.Name+": missing "+s)
			}
		}
		for _, s := range fx.Expect.NotContains {
			if strings.Contains(out, s) {
				pass = false
				rep.Details = append(rep.Details, fx.Name+": unexpected "+s)
			}
		}
		if pass {
			rep.Passed++
		}
	}
	return rep, nil
}

func loadFixtures(fsys fs.FS, dir string) ([]Fixture, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []Fixture
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var fx Fixture
		if err := json.Unmarshal(b, &fx); err != nil {
			return nil, err
		}
		out = append(out, fx)
	}
	return out, nil
}
