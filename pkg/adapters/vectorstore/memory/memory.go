// Package memory is an in-process VectorStore using cosine similarity. It is
// the default store for a single-user assistant and the fixture for tests.
package memory

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"tandem/pkg/adapters/vectorstore"
)

// Store holds items per namespace, guarded by a RWMutex.
type Store struct {
	mu     sync.RWMutex
	byNSID map[string]map[string]vectorstore.Item // namespace -> id -> item
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{byNSID: make(map[string]map[string]vectorstore.Item)}
}

func (s *Store) Upsert(_ context.Context, items []vectorstore.Item) error {
	if len(items) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		if it.ID == "" {
			return errors.New("memory vectorstore: empty id")
		}
		if len(it.Vector) == 0 {
			return errors.New("memory vectorstore: empty vector")
		}
		ns := nsOrDefault(it.Namespace)
		bucket, ok := s.byNSID[ns]
		if !ok {
			bucket = make(map[string]vectorstore.Item)
			s.byNSID[ns] = bucket
		}
		bucket[it.ID] = it
	}
	return nil
}

func (s *Store) Query(_ context.Context, query vectorstore.Vector, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	qnorm := math.Sqrt(dot(query, query))
	if qnorm == 0 {
		return nil, errors.New("memory vectorstore: zero-norm query vector")
	}

	s.mu.RLock()
	bucket := s.byNSID[nsOrDefault(filter.Namespace)]
	matches := make([]vectorstore.Match, 0, len(bucket))
	for _, it := range bucket {
		if !metaEquals(it.Metadata, filter.Equals) {
			continue
		}
		if len(it.Vector) != len(query) {
			continue
		}
		matches = append(matches, vectorstore.Match{Item: it, Score: cosine(query, it.Vector, qnorm)})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *Store) Delete(_ context.Context, namespace string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.byNSID[nsOrDefault(namespace)]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}

func nsOrDefault(ns string) string {
	if ns == "" {
		return "default"
	}
	return ns
}

func metaEquals(have, want map[string]any) bool {
	if len(want) == 0 {
		return true
	}
	if have == nil {
		return false
	}
	for k, v := range want {
		if hv, ok := have[k]; !ok || hv != v {
			return false
		}
	}
	return true
}

func cosine(a, b vectorstore.Vector, qnorm float64) float32 {
	denom := qnorm * math.Sqrt(dot(b, b))
	if denom == 0 {
		return 0
	}
	return float32(dot(a, b) / denom)
}

func dot(a, b vectorstore.Vector) float64 {
	n := min(len(a), len(b))
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
