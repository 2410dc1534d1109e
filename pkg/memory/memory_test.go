package memory

import (
	"context"
	"testing"
	"time"

	embfake "tandem/pkg/adapters/embedding/fake"
	vsmem "tandem/pkg/adapters/vectorstore/memory"
)

func newService(t *testing.T) *Service {
	t.Helper()
	fixed := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return New(embfake.New(16), vsmem.New(), WithClock(func() time.Time { return fixed }))
}

func TestAddThenSearch(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	if _, err := s.Add(ctx, "the user prefers metric units"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Add(ctx, "the user's cat is named Miso"); err != nil {
		t.Fatal(err)
	}

	got, err := s.Search(ctx, "the user prefers metric units")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) == 0 || got[0].Content != "the user prefers metric units" {
		t.Fatalf("search=%+v", got)
	}
}

func TestAddExactDuplicateKeepsOneItem(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	first, err := s.Add(ctx, "lives in Kyoto")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Add(ctx, "lives in Kyoto")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("duplicate created new id: %s vs %s", first.ID, second.ID)
	}

	got, err := s.Search(ctx, "lives in Kyoto")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("want 1 stored memory, got %d", len(got))
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	item, err := s.Add(ctx, "temporary note")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, item.ID); err != nil {
		t.Fatal(err)
	}
	got, err := s.Search(ctx, "temporary note")
	if err != nil {
		t.Fatal(err)
	}
	for _, it := range got {
		if it.ID == item.ID {
			t.Fatal("deleted memory still retrievable")
		}
	}
}

func TestEmptyInputsRejected(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	if _, err := s.Add(ctx, ""); err == nil {
		t.Fatal("empty content must be rejected")
	}
	if err := s.Delete(ctx, ""); err == nil {
		t.Fatal("empty id must be rejected")
	}
	if got, err := s.Search(ctx, ""); err != nil || got != nil {
		t.Fatalf("empty query should be a no-op, got %v, %v", got, err)
	}
}
