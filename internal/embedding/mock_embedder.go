package embedding

import (
	"context"
	"image"
	"math"
)

// MockEmbedder is a deterministic embedder for tests. It returns a fixed-dimension
// vector derived from the pixel hash so that the same image always gets the same embedding.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 1024
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding based on the pixel hash.
func (e *MockEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	if err := checkImage(img); err != nil {
		return nil, &ModelInferenceError{Op: "embed image", Model: "mock", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &ModelInferenceError{Op: "embed image", Model: "mock", Err: err}
	}
	h := ImageKey(img)
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h%100003)*float64(i+1))*0.1 + 0.01)
	}
	NormalizeL2Slice(emb)
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
