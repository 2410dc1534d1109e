// Package prompt holds the versioned prompt artifacts the turn engine runs
// on. Prompts are linted on save and rendered with simple {{key}}
// substitution; the seeded defaults cover every model-facing role.
package prompt

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Prompt is one versioned prompt artifact.
type Prompt struct {
	Name    string
	Version int
	Body    string
	Meta    map[string]string
}

// Issue is a lint finding.
type Issue struct {
	Rule    string
	Message string
}

// placeholderRe matches one complete {{key}} placeholder at the start of the
// input.
var placeholderRe = regexp.MustCompile(`^\{\{[a-z0-9_]+\}\}`)

// Lint runs basic checks on a prompt before it is stored. Every `{{` must
// open a complete placeholder; bare braces from JSON examples in a body are
// fine as long as they never pair up into `{{`.
func Lint(p Prompt) []Issue {
	var issues []Issue
	if p.Name == "" {
		issues = append(issues, Issue{Rule: "name.required", Message: "name is required"})
	}
	if len(p.Body) == 0 {
		issues = append(issues, Issue{Rule: "body.required", Message: "body is empty"})
	}
	for i := 0; ; {
		j := strings.Index(p.Body[i:], "{{")
		if j < 0 {
			break
		}
		i += j
		m := placeholderRe.FindString(p.Body[i:])
		if m == "" {
			issues = append(issues, Issue{Rule: "placeholder.balanced", Message: "unclosed {{ placeholder"})
			break
		}
		i += len(m)
	}
	return issues
}

// Store is an in-memory versioned prompt store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]Prompt // name -> versions, ascending
}

// NewStore creates an empty store.
func NewStore() *Store { return &Store{data: make(map[string][]Prompt)} }

// ErrLintFailed is returned by Save when lint checks fail.
var ErrLintFailed = errors.New("prompt failed lint checks")

// Save adds a new version: existing names increment, new names start at 1.
func (s *Store) Save(p Prompt) (Prompt, []Issue, error) {
	issues := Lint(p)
	if len(issues) > 0 {
		return Prompt{}, issues, ErrLintFailed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.data[p.Name]
	next := 1
	if len(versions) > 0 {
		next = versions[len(versions)-1].Version + 1
	}
	np := Prompt{Name: p.Name, Version: next, Body: p.Body, Meta: p.Meta}
	s.data[p.Name] = append(versions, np)
	return np, nil, nil
}

// Get retrieves a specific version; version 0 means latest.
func (s *Store) Get(name string, version int) (Prompt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.data[name]
	if len(versions) == 0 {
		return Prompt{}, false
	}
	if version == 0 {
		return versions[len(versions)-1], true
	}
	i := sort.Search(len(versions), func(i int) bool { return versions[i].Version >= version })
	if i < len(versions) && versions[i].Version == version {
		return versions[i], true
	}
	return Prompt{}, false
}

// Names lists stored prompt names, sorted.
func (s *Store) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.data))
	for n := range s.data {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Render substitutes {{key}} placeholders in the latest version of name.
// Unknown placeholders are left in place so a missing variable is visible in
// the output rather than silently blank.
func (s *Store) Render(name string, vars map[string]string) (string, bool) {
	p, ok := s.Get(name, 0)
	if !ok {
		return "", false
	}
	if len(vars) == 0 {
		return p.Body, true
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(p.Body), true
}
