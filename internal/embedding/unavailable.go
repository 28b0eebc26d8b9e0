package embedding

import (
	"context"
	"image"
)

// UnavailableEmbedder stands in for a model that failed to load. Every Embed call
// reports the load failure as a ModelInferenceError.
type UnavailableEmbedder struct {
	model      string
	dimensions int
	cause      error
}

// NewUnavailableEmbedder returns an embedder that always fails with cause.
func NewUnavailableEmbedder(model string, dimensions int, cause error) *UnavailableEmbedder {
	return &UnavailableEmbedder{model: model, dimensions: dimensions, cause: cause}
}

// Embed always returns a ModelInferenceError wrapping the load failure.
func (e *UnavailableEmbedder) Embed(ctx context.Context, img image.Image) ([]float32, error) {
	return nil, &ModelInferenceError{Op: "embed image", Model: e.model, Err: e.cause}
}

// Dimensions returns the configured embedding dimension.
func (e *UnavailableEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *UnavailableEmbedder) Close() error {
	return nil
}
