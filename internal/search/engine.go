// Package search answers "which artworks look like this image" for uploaded images.
package search

import (
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/hyperjump/ruiji/internal/dedupe"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/models"
)

// VectorSearcher runs a raw-vector similarity search.
type VectorSearcher interface {
	SearchByVector(ctx context.Context, query []float32, limit int) ([]models.SearchResult, error)
}

// Decoder turns uploaded bytes into an RGB image.
type Decoder interface {
	Decode(r io.Reader) (*image.NRGBA, error)
}

// Config holds the candidate pool size and the number of results shown.
type Config struct {
	SearchLimit int
	TopK        int
}

// Response is the outcome of one image search.
type Response struct {
	Results   []models.SearchResult `json:"results"`
	QueryTime int64                 `json:"query_time_ms"`
}

// Engine runs image similarity searches. It holds no per-user state.
type Engine struct {
	embedder embedding.Embedder
	searcher VectorSearcher
	decoder  Decoder
	config   Config
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(embedder embedding.Embedder, searcher VectorSearcher, decoder Decoder, cfg Config) *Engine {
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = 50
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 8
	}
	return &Engine{
		embedder: embedder,
		searcher: searcher,
		decoder:  decoder,
		config:   cfg,
	}
}

// SearchImage embeds img, fetches the nearest candidates, collapses duplicate images and
// keeps the best TopK, highest score first.
func (e *Engine) SearchImage(ctx context.Context, img image.Image) (*Response, error) {
	startTime := time.Now()

	query, err := e.embedder.Embed(ctx, img)
	if err != nil {
		return nil, err
	}
	candidates, err := e.searcher.SearchByVector(ctx, query, e.config.SearchLimit)
	if err != nil {
		return nil, err
	}
	results := dedupe.Cap(dedupe.Results(candidates), e.config.TopK)

	return &Response{
		Results:   results,
		QueryTime: time.Since(startTime).Milliseconds(),
	}, nil
}

// SearchUpload decodes an uploaded image and searches with it.
func (e *Engine) SearchUpload(ctx context.Context, r io.Reader) (*Response, error) {
	if e.decoder == nil {
		return nil, fmt.Errorf("no image decoder configured")
	}
	img, err := e.decoder.Decode(r)
	if err != nil {
		return nil, err
	}
	return e.SearchImage(ctx, img)
}
