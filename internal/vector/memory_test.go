package vector

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/ruiji/internal/models"
)

func fixture() []models.Record {
	return []models.Record{
		{ID: "1", Vector: []float32{1, 0, 0}, Payload: models.Payload{ImageURL: "a.jpg", Author: "Monet"}},
		{ID: "2", Vector: []float32{0.9, 0.1, 0}, Payload: models.Payload{ImageURL: "b.jpg", Author: "Manet"}},
		{ID: "3", Vector: []float32{0, 1, 0}, Payload: models.Payload{ImageURL: "c.jpg", Author: "Degas"}},
	}
}

func TestMemoryIndex_UpsertSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	if err := idx.Upsert(ctx, fixture()); err != nil {
		t.Fatal(err)
	}
	if n, _ := idx.Count(ctx); n != 3 {
		t.Errorf("Count=%d", n)
	}

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Record.ID != "1" || hits[1].Record.ID != "2" {
		t.Errorf("unexpected order: %s, %s", hits[0].Record.ID, hits[1].Record.ID)
	}
	if hits[0].Score < hits[1].Score {
		t.Error("hits should be sorted by score descending")
	}
	if hits[0].Record.Vector != nil {
		t.Error("hits should not carry vectors")
	}

	if _, err := idx.Search(ctx, []float32{1, 0}, 2); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	_ = idx.Upsert(ctx, fixture())
	_ = idx.Upsert(ctx, []models.Record{{ID: "2", Vector: []float32{0, 0, 1}, Payload: models.Payload{ImageURL: "b2.jpg"}}})

	if n, _ := idx.Count(ctx); n != 3 {
		t.Errorf("Count=%d, want 3", n)
	}
	recs, _ := idx.Scroll(ctx, 10, false)
	if recs[1].ID != "2" || recs[1].ImageURL() != "b2.jpg" {
		t.Errorf("replacement should keep position: %+v", recs[1])
	}
	if err := idx.Upsert(ctx, []models.Record{{ID: "9", Vector: []float32{1}}}); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestMemoryIndex_Scroll(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	_ = idx.Upsert(ctx, fixture())

	recs, err := idx.Scroll(ctx, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].ID != "1" {
		t.Fatalf("unexpected scroll: %+v", recs)
	}
	if recs[0].Vector != nil {
		t.Error("vectors should be omitted")
	}

	recs, _ = idx.Scroll(ctx, 10, true)
	if len(recs) != 3 || len(recs[2].Vector) != 3 {
		t.Errorf("unexpected scroll with vectors: %+v", recs)
	}
	recs[2].Vector[0] = 42
	again, _ := idx.Scroll(ctx, 10, true)
	if again[2].Vector[0] == 42 {
		t.Error("scroll should return copies of stored vectors")
	}
}

func TestMemoryIndex_Recommend(t *testing.T) {
	idx, _ := NewMemoryIndex(3)
	ctx := context.Background()
	_ = idx.Upsert(ctx, fixture())

	hits, err := idx.Recommend(ctx, "1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	if hits[0].Record.ID != "1" {
		t.Errorf("anchor should rank first, got %s", hits[0].Record.ID)
	}

	_, err = idx.Recommend(ctx, "404", 3)
	if !errors.Is(err, ErrPointNotFound) {
		t.Errorf("expected ErrPointNotFound, got %v", err)
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{2, 0}, []float32{5, 0}); got != 1 {
		t.Errorf("parallel = %v, want 1", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{-1, 0}); got != 0 {
		t.Errorf("opposite = %v, want 0 (clamped)", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
	if got := CosineSimilarity([]float32{1}, []float32{1, 0}); got != 0 {
		t.Errorf("length mismatch = %v, want 0", got)
	}
}
