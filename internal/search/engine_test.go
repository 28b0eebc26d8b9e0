package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/imageload"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/retrieval"
	"github.com/hyperjump/ruiji/internal/vector"
)

// repeatingIndex answers every search with 50 hits spread over 5 image URLs.
type repeatingIndex struct {
	vector.Index
	searches int
	limit    int
}

func (r *repeatingIndex) Search(ctx context.Context, query []float32, limit int) ([]*vector.Hit, error) {
	r.searches++
	r.limit = limit
	hits := make([]*vector.Hit, 50)
	for i := range hits {
		hits[i] = &vector.Hit{
			Record: models.Record{
				ID:      models.PointID(fmt.Sprint(i)),
				Payload: models.Payload{ImageURL: fmt.Sprintf("https://img/%d.jpg", i%5), Author: "Hiroshige"},
			},
			Score: 1 - float64(i)/100,
		}
	}
	return hits, nil
}

type failingIndex struct {
	vector.Index
}

func (failingIndex) Search(context.Context, []float32, int) ([]*vector.Hit, error) {
	return nil, errors.New("connection reset")
}

func testImage() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 90, A: 255})
		}
	}
	return img
}

func newEngine(idx vector.Index) *Engine {
	return NewEngine(
		embedding.NewMockEmbedder(8),
		retrieval.NewClient(idx, nil),
		imageload.New(imageload.Options{}, nil),
		Config{SearchLimit: 50, TopK: 8},
	)
}

func TestEngine_SearchImage_Dedupes(t *testing.T) {
	idx := &repeatingIndex{}
	engine := newEngine(idx)

	resp, err := engine.SearchImage(context.Background(), testImage())
	if err != nil {
		t.Fatal(err)
	}
	if idx.limit != 50 {
		t.Errorf("search limit = %d, want 50", idx.limit)
	}
	if len(resp.Results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(resp.Results))
	}
	seen := map[string]bool{}
	for i, r := range resp.Results {
		if seen[r.ImageURL] {
			t.Errorf("duplicate url %s", r.ImageURL)
		}
		seen[r.ImageURL] = true
		if i > 0 && r.Score > resp.Results[i-1].Score {
			t.Errorf("results not sorted descending at %d", i)
		}
	}
	if resp.Results[0].Score != 1 {
		t.Errorf("best result should be the first hit, got score %v", resp.Results[0].Score)
	}
}

func TestEngine_SearchImage_TopK(t *testing.T) {
	idx, err := vector.NewMemoryIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	records := make([]models.Record, 20)
	for i := range records {
		vec := make([]float32, 8)
		vec[i%8] = 1
		vec[(i+1)%8] = float32(i) / 20
		records[i] = models.Record{
			ID:      models.PointID(fmt.Sprint(i + 1)),
			Vector:  vec,
			Payload: models.Payload{ImageURL: fmt.Sprintf("%d.jpg", i)},
		}
	}
	if err := idx.Upsert(context.Background(), records); err != nil {
		t.Fatal(err)
	}

	resp, err := newEngine(idx).SearchImage(context.Background(), testImage())
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 8 {
		t.Errorf("expected top 8, got %d", len(resp.Results))
	}
	for _, r := range resp.Results {
		if r.Author != models.UnknownAuthor {
			t.Errorf("Author = %q, want default", r.Author)
		}
	}
}

func TestEngine_SearchImage_Errors(t *testing.T) {
	engine := newEngine(failingIndex{})
	_, err := engine.SearchImage(context.Background(), testImage())
	var iu *retrieval.IndexUnavailableError
	if !errors.As(err, &iu) {
		t.Errorf("expected IndexUnavailableError, got %v", err)
	}

	_, err = engine.SearchImage(context.Background(), nil)
	var mie *embedding.ModelInferenceError
	if !errors.As(err, &mie) {
		t.Errorf("expected ModelInferenceError, got %v", err)
	}
}

func TestEngine_SearchUpload(t *testing.T) {
	idx := &repeatingIndex{}
	engine := newEngine(idx)

	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage()); err != nil {
		t.Fatal(err)
	}
	resp, err := engine.SearchUpload(context.Background(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 5 {
		t.Errorf("expected 5 results, got %d", len(resp.Results))
	}

	_, err = engine.SearchUpload(context.Background(), strings.NewReader("not an image"))
	var le *imageload.ImageLoadError
	if !errors.As(err, &le) {
		t.Errorf("expected ImageLoadError, got %v", err)
	}
	if idx.searches != 1 {
		t.Errorf("decode failure should not reach the index, searches = %d", idx.searches)
	}
}

func TestEngine_SameImageSameResults(t *testing.T) {
	idx, _ := vector.NewMemoryIndex(8)
	_ = idx.Upsert(context.Background(), []models.Record{
		{ID: "1", Vector: []float32{1, 0, 0, 0, 0, 0, 0, 0}, Payload: models.Payload{ImageURL: "a.jpg"}},
		{ID: "2", Vector: []float32{0, 1, 0, 0, 0, 0, 0, 0}, Payload: models.Payload{ImageURL: "b.jpg"}},
		{ID: "3", Vector: []float32{0, 0, 1, 0, 0, 0, 0, 0}, Payload: models.Payload{ImageURL: "c.jpg"}},
	})
	engine := newEngine(idx)

	a, err := engine.SearchImage(context.Background(), testImage())
	if err != nil {
		t.Fatal(err)
	}
	b, err := engine.SearchImage(context.Background(), testImage())
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Results) != len(b.Results) {
		t.Fatalf("result counts differ: %d vs %d", len(a.Results), len(b.Results))
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			t.Errorf("result %d differs: %+v vs %+v", i, a.Results[i], b.Results[i])
		}
	}
}
