// Package vectorstore defines upsert/query/delete over dense vectors, backing
// the semantic memory service.
package vectorstore

import (
	"context"
	"fmt"
	"sync"
)

// Vector is a single dense embedding vector.
type Vector []float32

// Item is one stored vector with its payload.
type Item struct {
	// ID uniquely identifies the item within its namespace.
	ID string
	// Namespace groups items logically (e.g. per session).
	Namespace string
	Vector    Vector
	// Metadata carries arbitrary attributes for filtering and display.
	Metadata map[string]any
}

// Match is a query result; higher Score means more similar.
type Match struct {
	Item  Item
	Score float32
}

// Filter constrains query results. Equals keys are ANDed.
type Filter struct {
	Namespace string
	Equals    map[string]any
}

// VectorStore is the storage interface behind semantic memory.
type VectorStore interface {
	// Upsert inserts or replaces items by ID within a namespace.
	Upsert(ctx context.Context, items []Item) error
	// Query returns the top-k most similar items to the query vector.
	Query(ctx context.Context, query Vector, k int, filter Filter) ([]Match, error)
	// Delete removes items by ID within a namespace. Unknown IDs are ignored.
	Delete(ctx context.Context, namespace string, ids []string) error
}

// Factory constructs a VectorStore from provider-specific config.
type Factory func(ctx context.Context, cfg map[string]any) (VectorStore, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a VectorStore factory.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("vectorstore: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("vectorstore: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("vectorstore: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve gets a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Range iterates all registered factories.
func Range(fn func(name string, f Factory)) {
	regMu.RLock()
	defer regMu.RUnlock()
	for n, f := range factories {
		fn(n, f)
	}
}
