package world

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"tandem/pkg/errmodel"
)

// Store owns one world document on disk. It must be the only writer of its
// path within the process; concurrent processes need external coordination.
type Store struct {
	path      string
	maxTopics int
}

// Option configures the Store.
type Option func(*Store)

// WithMaxTopics overrides the topic cap applied after every merge.
func WithMaxTopics(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxTopics = n
		}
	}
}

// NewStore creates a store for the given document path.
func NewStore(path string, opts ...Option) *Store {
	s := &Store{path: path, maxTopics: DefaultMaxTopics}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the document location.
func (s *Store) Path() string { return s.path }

// Load reads and normalizes the document. A missing file yields the default
// document; corrupt content is logged and reset, never raised.
func (s *Store) Load(now time.Time) State {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.path).Msg("world: unreadable document, resetting to defaults")
		}
		return Default(now)
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("world: corrupt document, resetting to defaults")
		return Default(now)
	}
	return Normalize(st, s.maxTopics)
}

// Commit applies the delta to before and atomically replaces the document:
// temp file in the same directory, flush and fsync, rename over the
// destination, then directory sync. A reader never observes a half-written
// document. The committed state is returned so callers can update their
// in-memory view immediately.
func (s *Store) Commit(before State, d Delta, now time.Time) (State, error) {
	next := Apply(before, d, now, s.maxTopics)

	b, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return State{}, errmodel.System("world_encode", "marshal world document", nil, err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return State{}, errmodel.Collaborator("world_mkdir", "create world directory", map[string]any{"dir": dir}, err)
	}
	tmp, err := os.CreateTemp(dir, ".world-*.json")
	if err != nil {
		return State{}, errmodel.Collaborator("world_tmp", "create temp document", map[string]any{"dir": dir}, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(b); err != nil {
		cleanup()
		return State{}, errmodel.Collaborator("world_write", "write temp document", nil, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return State{}, errmodel.Collaborator("world_sync", "sync temp document", nil, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return State{}, errmodel.Collaborator("world_close", "close temp document", nil, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return State{}, errmodel.Collaborator("world_rename", "replace world document", map[string]any{"path": s.path}, err)
	}
	syncDir(dir)

	log.Debug().Str("path", s.path).Msg("world: committed")
	return next, nil
}

// syncDir makes the rename durable. Failures are ignored: some filesystems
// do not support fsync on directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	defer d.Close()
	_ = d.Sync()
}
