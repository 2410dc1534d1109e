// Package history persists the chat transcript as JSON Lines, one message per
// line, with a rolling cap so the file never grows without bound.
package history

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tandem/pkg/errmodel"
)

// DefaultMaxEntries is the rolling cap on persisted messages.
const DefaultMaxEntries = 500

// Entry is one persisted chat message.
type Entry struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	TurnID  string    `json:"turn_id,omitempty"`
	Ts      time.Time `json:"ts"`
}

// Log is a JSONL chat history file. Safe for concurrent use.
type Log struct {
	mu         sync.Mutex
	path       string
	maxEntries int
	now        func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithMaxEntries overrides the rolling cap.
func WithMaxEntries(n int) Option {
	return func(l *Log) { l.maxEntries = n }
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a history log at path. The file is created on first append.
func New(path string, opts ...Option) *Log {
	l := &Log{path: path, maxEntries: DefaultMaxEntries, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Append adds one message. When the file exceeds the cap the oldest entries
// are dropped by rewriting the tail.
func (l *Log) Append(role, content, turnID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return err
	}
	entries = append(entries, Entry{Role: role, Content: content, TurnID: turnID, Ts: l.now().UTC()})
	if l.maxEntries > 0 && len(entries) > l.maxEntries {
		entries = entries[len(entries)-l.maxEntries:]
	}
	return l.writeAll(entries)
}

// ReadLast returns up to n most recent entries, oldest first. n <= 0 returns
// everything.
func (l *Log) ReadLast(n int) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := l.readAll()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

// Render formats entries as a plain transcript block for prompt assembly.
func Render(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e.Role)
		b.WriteString(": ")
		b.WriteString(e.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (l *Log) readAll() ([]Entry, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errmodel.Collaborator("history_read", "opening chat history", map[string]any{"path": l.path}, err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// a torn trailing line from a crash is skipped, not fatal
			log.Warn().Str("path", l.path).Msg("history: skipping malformed line")
			continue
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, errmodel.Collaborator("history_scan", "reading chat history", map[string]any{"path": l.path}, err)
	}
	return entries, nil
}

// writeAll rewrites the file via temp + rename so readers never observe a
// partial file.
func (l *Log) writeAll(entries []Entry) error {
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".history-*.jsonl")
	if err != nil {
		return errmodel.Collaborator("history_write", "creating temp history file", map[string]any{"path": l.path}, err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			tmp.Close()
			return errmodel.Collaborator("history_marshal", "encoding history entry", nil, err)
		}
		w.Write(b)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errmodel.Collaborator("history_write", "flushing history file", nil, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errmodel.Collaborator("history_sync", "syncing history file", nil, err)
	}
	if err := tmp.Close(); err != nil {
		return errmodel.Collaborator("history_close", "closing history file", nil, err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return errmodel.Collaborator("history_rename", "replacing history file", map[string]any{"path": l.path}, err)
	}
	return nil
}
