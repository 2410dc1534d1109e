// Package errmodel defines the compact error payload used across the turn
// engine. Every failure that crosses a package boundary is one of four
// categories: a protocol violation (the model or a caller broke a contract),
// a budget exhaustion (round/step/row/char caps), a collaborator failure
// (provider, storage, retrieval), or parse noise (malformed model output that
// a loop is allowed to degrade over).
package errmodel

import (
	"encoding/json"
	"errors"
	"strings"
)

// Category values for compact errors.
const (
	// CategoryProtocol marks contract breaches: bad route, disallowed action,
	// malformed JSON where JSON was required, unknown tool names. Protocol
	// errors terminate the current loop and are never retried silently.
	CategoryProtocol = "protocol"
	// CategoryBudget marks exhausted resource caps: planner rounds, tool
	// steps, sandbox rows/chars.
	CategoryBudget = "budget"
	// CategoryCollaborator marks failures raised by an external service the
	// engine composes: LLM provider, vector memory, chat history, storage.
	CategoryCollaborator = "collaborator"
	// CategoryParse marks transient parse noise from advisory model roles
	// (summarizer, reflection, classifier). Loops log these and continue.
	CategoryParse = "parse"
	// CategorySystem is the default for unknown error types.
	CategorySystem = "system"
)

// Error is the compact error payload used internally and surfaced in
// termination reasons and tool messages. It implements the error interface.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
	Causes   []Error        `json:"causes,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any, causes ...error) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, 512)}
	if len(ctx) > 0 {
		ce.Context = truncateContext(ctx)
	}
	for _, c := range causes {
		if c == nil {
			continue
		}
		ce.Causes = append(ce.Causes, *From(c))
	}
	return ce
}

// From converts any error into a compact Error. If err is already *Error, it's returned as-is.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Category: CategorySystem, Code: "internal", Message: truncate(err.Error(), 512)}
}

// Convenience constructors.

func Protocol(code, message string, ctx map[string]any) *Error {
	return New(CategoryProtocol, code, message, ctx)
}

func Budget(code, message string, ctx map[string]any) *Error {
	return New(CategoryBudget, code, message, ctx)
}

func Collaborator(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategoryCollaborator, code, message, ctx, cause)
	}
	return New(CategoryCollaborator, code, message, ctx)
}

func Parse(code, message string, ctx map[string]any) *Error {
	return New(CategoryParse, code, message, ctx)
}

func System(code, message string, ctx map[string]any, cause error) *Error {
	if cause != nil {
		return New(CategorySystem, code, message, ctx, cause)
	}
	return New(CategorySystem, code, message, ctx)
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}

// IsProtocol reports whether err is a protocol violation.
func IsProtocol(err error) bool { return IsCategory(err, CategoryProtocol) }

// IsBudget reports whether err is a budget exhaustion.
func IsBudget(err error) bool { return IsCategory(err, CategoryBudget) }

// IsParse reports whether err is degradable parse noise.
func IsParse(err error) bool { return IsCategory(err, CategoryParse) }

// ToolPayload renders err as the structured payload fed back to the model as
// a tool message. It never fails; marshal problems degrade to a fixed string.
func ToolPayload(err error) string {
	ce := From(err)
	if ce == nil {
		return ""
	}
	b, merr := json.Marshal(map[string]any{"error": ce})
	if merr != nil {
		return `{"error":{"category":"system","message":"unserializable error"}}`
	}
	return string(b)
}

// truncate trims a string to max characters.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// truncateContext trims long string values in the context map.
func truncateContext(ctx map[string]any) map[string]any {
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		switch t := v.(type) {
		case string:
			out[k] = truncate(t, 256)
		default:
			b, err := json.Marshal(t)
			if err == nil && len(b) > 0 {
				s := string(b)
				if len(s) > 256 {
					s = truncate(s, 256)
				}
				out[k] = s
			} else {
				out[k] = t
			}
		}
	}
	return out
}
