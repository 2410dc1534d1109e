package memory

import (
	"context"
	"testing"

	"tandem/pkg/adapters/vectorstore"
)

func TestUpsertQueryDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	items := []vectorstore.Item{
		{ID: "a", Namespace: "mem", Vector: vectorstore.Vector{1, 0, 0}, Metadata: map[string]any{"content": "likes go"}},
		{ID: "b", Namespace: "mem", Vector: vectorstore.Vector{0, 1, 0}, Metadata: map[string]any{"content": "lives in Kyoto"}},
		{ID: "c", Namespace: "mem", Vector: vectorstore.Vector{0.9, 0.1, 0}, Metadata: map[string]any{"content": "writes go daily"}},
	}
	if err := s.Upsert(ctx, items); err != nil {
		t.Fatal(err)
	}

	got, err := s.Query(ctx, vectorstore.Vector{1, 0, 0}, 2, vectorstore.Filter{Namespace: "mem"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Item.ID != "a" || got[1].Item.ID != "c" {
		t.Fatalf("matches=%+v", got)
	}

	if err := s.Delete(ctx, "mem", []string{"a", "missing"}); err != nil {
		t.Fatal(err)
	}
	got, err = s.Query(ctx, vectorstore.Vector{1, 0, 0}, 0, vectorstore.Filter{Namespace: "mem"})
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range got {
		if m.Item.ID == "a" {
			t.Fatal("deleted item still returned")
		}
	}
}

func TestQueryMetadataFilter(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Upsert(ctx, []vectorstore.Item{
		{ID: "x", Vector: vectorstore.Vector{1, 0}, Metadata: map[string]any{"kind": "fact"}},
		{ID: "y", Vector: vectorstore.Vector{1, 0}, Metadata: map[string]any{"kind": "rule"}},
	})
	got, err := s.Query(ctx, vectorstore.Vector{1, 0}, 0, vectorstore.Filter{Equals: map[string]any{"kind": "rule"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Item.ID != "y" {
		t.Fatalf("matches=%+v", got)
	}
}

func TestQueryZeroNormRejected(t *testing.T) {
	s := New()
	if _, err := s.Query(context.Background(), vectorstore.Vector{0, 0}, 1, vectorstore.Filter{}); err == nil {
		t.Fatal("expected error for zero-norm query")
	}
}

func TestUpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Upsert(ctx, []vectorstore.Item{{ID: "a", Vector: vectorstore.Vector{1, 0}, Metadata: map[string]any{"content": "old"}}})
	_ = s.Upsert(ctx, []vectorstore.Item{{ID: "a", Vector: vectorstore.Vector{1, 0}, Metadata: map[string]any{"content": "new"}}})
	got, err := s.Query(ctx, vectorstore.Vector{1, 0}, 0, vectorstore.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Item.Metadata["content"] != "new" {
		t.Fatalf("matches=%+v", got)
	}
}
