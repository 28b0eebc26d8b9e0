// Package vector provides clients for the image vector index: a remote Qdrant collection
// and local in-memory and SQLite backends with the same contract.
package vector

import (
	"context"
	"errors"

	"github.com/hyperjump/ruiji/internal/models"
)

// ErrPointNotFound is returned when a recommend anchor is not in the index.
var ErrPointNotFound = errors.New("point not found")

// Index is a read-mostly collection of (id, vector, payload) records.
type Index interface {
	// Scroll returns up to limit records in backend order.
	Scroll(ctx context.Context, limit int, withVectors bool) ([]models.Record, error)
	// Recommend returns records near the stored vector of positive. The anchor itself may be included.
	Recommend(ctx context.Context, positive models.PointID, limit int) ([]*Hit, error)
	// Search returns the records nearest to query, best first.
	Search(ctx context.Context, query []float32, limit int) ([]*Hit, error)
	Count(ctx context.Context) (int, error)
	Type() string
	Close() error
}

// Upserter is implemented by the local backends so tests and fixtures can fill them.
type Upserter interface {
	Upsert(ctx context.Context, records []models.Record) error
}

// DiskUser is implemented by indexes that keep their data in local files.
type DiskUser interface {
	DiskUsageBytes() (int64, error)
}

// Hit is a scored record. Score is a similarity, higher is closer.
type Hit struct {
	Record models.Record
	Score  float64
}
