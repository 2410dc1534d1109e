package history

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newLog(t *testing.T, opts ...Option) *Log {
	t.Helper()
	fixed := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return New(filepath.Join(t.TempDir(), "history.jsonl"), opts...)
}

func TestAppendAndReadLast(t *testing.T) {
	l := newLog(t)
	for _, m := range []struct{ role, content string }{
		{"user", "hello"},
		{"assistant", "hi there"},
		{"user", "what's new"},
	} {
		if err := l.Append(m.role, m.content, "t1"); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.ReadLast(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Content != "hi there" || got[1].Content != "what's new" {
		t.Fatalf("entries=%+v", got)
	}
}

func TestRollingCapDropsOldest(t *testing.T) {
	l := newLog(t, WithMaxEntries(3))
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		if err := l.Append("user", c, ""); err != nil {
			t.Fatal(err)
		}
	}
	got, err := l.ReadLast(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Content != "c" || got[2].Content != "e" {
		t.Fatalf("entries=%+v", got)
	}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "absent.jsonl"))
	got, err := l.ReadLast(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("entries=%+v", got)
	}
}

func TestMalformedLineSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.jsonl")
	content := `{"role":"user","content":"ok","ts":"2025-06-01T09:00:00Z"}` + "\n" +
		`{"role":"assistant","content":"torn` + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := New(path).ReadLast(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "ok" {
		t.Fatalf("entries=%+v", got)
	}
}

func TestRender(t *testing.T) {
	entries := []Entry{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}
	want := "user: hello\nassistant: hi"
	if got := Render(entries); got != want {
		t.Fatalf("render=%q", got)
	}
}
