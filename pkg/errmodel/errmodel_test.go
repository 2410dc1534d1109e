package errmodel

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestFromWrapsUnknownErrors(t *testing.T) {
	err := errors.New("boom")
	ce := From(err)
	if ce.Category != CategorySystem || ce.Code != "internal" {
		t.Fatalf("got %q/%q want system/internal", ce.Category, ce.Code)
	}
	if ce.Message != "boom" {
		t.Fatalf("message=%q", ce.Message)
	}
}

func TestFromUnwrapsCompactError(t *testing.T) {
	orig := Protocol("bad_route", "router returned garbage", nil)
	wrapped := fmt.Errorf("run turn: %w", orig)
	ce := From(wrapped)
	if ce != orig {
		t.Fatalf("expected the original compact error back")
	}
	if !IsProtocol(wrapped) {
		t.Fatal("IsProtocol should see through wrapping")
	}
}

func TestCategoryPredicates(t *testing.T) {
	if !IsBudget(Budget("max_rounds", "max rounds exceeded", nil)) {
		t.Fatal("budget predicate")
	}
	if !IsParse(Parse("summarizer", "no FINAL/TO_QUERY prefix", nil)) {
		t.Fatal("parse predicate")
	}
	if IsProtocol(errors.New("plain")) {
		t.Fatal("plain error is not a protocol violation")
	}
}

func TestMessageTruncation(t *testing.T) {
	long := strings.Repeat("x", 2000)
	ce := System("internal", long, map[string]any{"detail": long}, nil)
	if len(ce.Message) > 512 {
		t.Fatalf("message not truncated: %d", len(ce.Message))
	}
	if s, _ := ce.Context["detail"].(string); len(s) > 256 {
		t.Fatalf("context not truncated: %d", len(s))
	}
}

func TestToolPayloadIsJSON(t *testing.T) {
	p := ToolPayload(Collaborator("provider", "stream reset", map[string]any{"provider": "ollama"}, errors.New("eof")))
	if !strings.HasPrefix(p, `{"error":`) {
		t.Fatalf("payload=%q", p)
	}
	if !strings.Contains(p, "collaborator") {
		t.Fatalf("payload missing category: %q", p)
	}
}
