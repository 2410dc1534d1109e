// Package memory is the semantic long-term memory service: short natural
// language facts embedded and stored in a vector store, retrieved by
// similarity during planning.
package memory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tandem/pkg/adapters/embedding"
	"tandem/pkg/adapters/vectorstore"
	"tandem/pkg/errmodel"
	"tandem/pkg/turn"
)

const (
	// DefaultNamespace groups all memories of a single-user deployment.
	DefaultNamespace = "memories"
	// DefaultTopK bounds how many memories a search returns.
	DefaultTopK = 5
)

// Item is one stored memory.
type Item struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Score     float32   `json:"score,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ContextItem converts a stored memory into the context-bag shape.
func (it Item) ContextItem() turn.MemoryItem {
	return turn.MemoryItem{
		Content: it.Content,
		Score:   it.Score,
		Meta:    map[string]any{"id": it.ID},
	}
}

// Service embeds and stores memory items.
type Service struct {
	embedder  embedding.Embedder
	store     vectorstore.VectorStore
	namespace string
	topK      int
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithNamespace overrides the vector store namespace.
func WithNamespace(ns string) Option {
	return func(s *Service) { s.namespace = ns }
}

// WithTopK overrides the search result cap.
func WithTopK(k int) Option {
	return func(s *Service) { s.topK = k }
}

// WithClock overrides the timestamp source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a memory service.
func New(e embedding.Embedder, vs vectorstore.VectorStore, opts ...Option) *Service {
	s := &Service{
		embedder:  e,
		store:     vs,
		namespace: DefaultNamespace,
		topK:      DefaultTopK,
		now:       time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Add stores one memory. An existing memory with the exact same content is
// replaced rather than duplicated, so repeated saves stay idempotent.
func (s *Service) Add(ctx context.Context, content string) (Item, error) {
	if content == "" {
		return Item{}, errmodel.Protocol("empty_memory", "memory content is empty", nil)
	}

	vecs, err := s.embedder.Embed(ctx, []string{content}, nil)
	if err != nil {
		return Item{}, errmodel.Collaborator("embed_failed", "embedding memory content", nil, err)
	}
	vec := vectorstore.Vector(vecs[0])

	id := uuid.NewString()
	if existing := s.findExact(ctx, vec, content); existing != "" {
		id = existing
	}

	item := Item{ID: id, Content: content, CreatedAt: s.now().UTC()}
	err = s.store.Upsert(ctx, []vectorstore.Item{{
		ID:        id,
		Namespace: s.namespace,
		Vector:    vec,
		Metadata: map[string]any{
			"content":    content,
			"created_at": item.CreatedAt.Format(time.RFC3339),
		},
	}})
	if err != nil {
		return Item{}, errmodel.Collaborator("memory_upsert", "storing memory vector", nil, err)
	}
	log.Debug().Str("id", id).Msg("memory: stored")
	return item, nil
}

// Search returns up to topK memories most similar to the query, best first.
func (s *Service) Search(ctx context.Context, query string) ([]Item, error) {
	if query == "" {
		return nil, nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{query}, nil)
	if err != nil {
		return nil, errmodel.Collaborator("embed_failed", "embedding memory query", nil, err)
	}
	matches, err := s.store.Query(ctx, vectorstore.Vector(vecs[0]), s.topK, vectorstore.Filter{Namespace: s.namespace})
	if err != nil {
		return nil, errmodel.Collaborator("memory_query", "querying memory store", nil, err)
	}
	out := make([]Item, 0, len(matches))
	for _, m := range matches {
		out = append(out, itemFromMatch(m))
	}
	return out, nil
}

// Delete removes a memory by ID. Unknown IDs are not an error.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errmodel.Protocol("empty_memory_id", "memory id is empty", nil)
	}
	if err := s.store.Delete(ctx, s.namespace, []string{id}); err != nil {
		return errmodel.Collaborator("memory_delete", "deleting memory", map[string]any{"id": id}, err)
	}
	return nil
}

// findExact looks for a stored memory whose content matches exactly. Errors
// degrade to "no duplicate found": worst case we store twice under new IDs.
func (s *Service) findExact(ctx context.Context, vec vectorstore.Vector, content string) string {
	matches, err := s.store.Query(ctx, vec, s.topK, vectorstore.Filter{Namespace: s.namespace})
	if err != nil {
		return ""
	}
	for _, m := range matches {
		if c, _ := m.Item.Metadata["content"].(string); c == content {
			return m.Item.ID
		}
	}
	return ""
}

func itemFromMatch(m vectorstore.Match) Item {
	content, _ := m.Item.Metadata["content"].(string)
	var created time.Time
	if ts, _ := m.Item.Metadata["created_at"].(string); ts != "" {
		created, _ = time.Parse(time.RFC3339, ts)
	}
	return Item{
		ID:        m.Item.ID,
		Content:   content,
		Score:     m.Score,
		CreatedAt: created,
	}
}
