// Package jsonx extracts JSON objects out of free-form model output. The
// router, planner, summarizer and reflection parsers all go through
// ExtractObject so there is exactly one place that decides what counts as
// parseable; callers treat a miss as a protocol violation, never a guess.
package jsonx

import (
	"encoding/json"
	"strings"

	"tandem/pkg/errmodel"
)

// ExtractObject returns the first balanced top-level JSON object in s,
// stripping a leading markdown fence if present. The object must also
// unmarshal cleanly; brace balance alone is not enough.
func ExtractObject(s string) (json.RawMessage, error) {
	s = StripFence(s)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, errmodel.Protocol("no_json", "no JSON object in model output", nil)
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := s[start : i+1]
				var probe map[string]any
				if err := json.Unmarshal([]byte(candidate), &probe); err != nil {
					return nil, errmodel.Protocol("bad_json", "balanced braces but invalid JSON", map[string]any{"snippet": candidate})
				}
				return json.RawMessage(candidate), nil
			}
		}
	}
	return nil, errmodel.Protocol("unbalanced_json", "JSON object never closes", map[string]any{"snippet": s[start:]})
}

// ExtractInto extracts the first JSON object and unmarshals it into v.
func ExtractInto(s string, v any) error {
	raw, err := ExtractObject(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errmodel.Protocol("bad_json_shape", "JSON object does not match expected shape", map[string]any{"error": err.Error()})
	}
	return nil
}

// StripFence removes a surrounding markdown code fence (``` or ```json) if
// the whole string is fenced. Partial fences are left alone.
func StripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	t = strings.TrimPrefix(t, "```")
	if i := strings.IndexByte(t, '\n'); i >= 0 {
		// drop the language tag line
		head := strings.TrimSpace(t[:i])
		if head == "" || isLangTag(head) {
			t = t[i+1:]
		}
	}
	if i := strings.LastIndex(t, "```"); i >= 0 {
		t = t[:i]
	}
	return strings.TrimSpace(t)
}

func isLangTag(s string) bool {
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
