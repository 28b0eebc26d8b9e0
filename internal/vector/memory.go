package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/ruiji/internal/models"
)

// MemoryIndex is an in-memory vector index using brute-force cosine search.
// Suitable for tests and small collections.
type MemoryIndex struct {
	dimensions int
	records    []models.Record
	byID       map[models.PointID]int
	mu         sync.RWMutex
}

// NewMemoryIndex creates an in-memory vector index with the given dimension.
func NewMemoryIndex(dimensions int) (*MemoryIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &MemoryIndex{
		dimensions: dimensions,
		records:    make([]models.Record, 0),
		byID:       make(map[models.PointID]int),
	}, nil
}

// Type returns the index type identifier.
func (m *MemoryIndex) Type() string {
	return string(IndexTypeMemory)
}

// Upsert inserts records or replaces those with an existing ID. Insertion order is kept.
func (m *MemoryIndex) Upsert(ctx context.Context, records []models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range records {
		if len(rec.Vector) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, expected %d", rec.ID, len(rec.Vector), m.dimensions)
		}
		rec.Vector = append([]float32(nil), rec.Vector...)
		if i, ok := m.byID[rec.ID]; ok {
			m.records[i] = rec
			continue
		}
		m.byID[rec.ID] = len(m.records)
		m.records = append(m.records, rec)
	}
	return nil
}

// Scroll returns the first limit records in insertion order.
func (m *MemoryIndex) Scroll(ctx context.Context, limit int, withVectors bool) ([]models.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := min(limit, len(m.records))
	out := make([]models.Record, n)
	for i := 0; i < n; i++ {
		out[i] = m.records[i]
		if withVectors {
			out[i].Vector = append([]float32(nil), m.records[i].Vector...)
		} else {
			out[i].Vector = nil
		}
	}
	return out, nil
}

// Recommend ranks every record, the anchor included, against the anchor's vector.
func (m *MemoryIndex) Recommend(ctx context.Context, positive models.PointID, limit int) ([]*Hit, error) {
	m.mu.RLock()
	i, ok := m.byID[positive]
	var anchor []float32
	if ok {
		anchor = m.records[i].Vector
	}
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPointNotFound, positive)
	}
	return m.Search(ctx, anchor, limit)
}

// Search returns the top-limit records by cosine similarity.
func (m *MemoryIndex) Search(ctx context.Context, query []float32, limit int) ([]*Hit, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rank(query, m.records, limit), nil
}

// Count returns the number of records in the index.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}

// Close is a no-op for MemoryIndex.
func (m *MemoryIndex) Close() error {
	return nil
}
