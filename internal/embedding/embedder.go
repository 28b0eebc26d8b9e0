// Package embedding turns images into fixed-length vectors via ONNX, with a pixel-keyed cache.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
)

// Embedder produces vector embeddings for images.
type Embedder interface {
	Embed(ctx context.Context, img image.Image) ([]float32, error)
	Dimensions() int
	Close() error
}

// ErrEmptyImage is returned for nil images and images with zero area.
var ErrEmptyImage = errors.New("image is empty")

// ModelInferenceError reports a failure to preprocess an image or run the model on it.
type ModelInferenceError struct {
	Op    string
	Model string
	Err   error
}

func (e *ModelInferenceError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s with model %s: %v", e.Op, e.Model, e.Err)
}

func (e *ModelInferenceError) Unwrap() error { return e.Err }

func checkImage(img image.Image) error {
	if img == nil || img.Bounds().Empty() {
		return ErrEmptyImage
	}
	return nil
}

// NormalizeL2Slice normalizes the slice in place to unit L2 norm.
func NormalizeL2Slice(x []float32) {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(sum))
	for i := range x {
		x[i] *= norm
	}
}
