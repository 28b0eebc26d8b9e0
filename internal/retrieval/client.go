// Package retrieval is the typed client the rest of the application uses to query the
// vector index: sampling the collection, recommending by example and searching by vector.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/vector"
)

// IndexUnavailableError reports that the index could not serve a request.
type IndexUnavailableError struct {
	Op  string
	Err error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("index unavailable during %s: %v", e.Op, e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// Client wraps a vector.Index.
type Client struct {
	index  vector.Index
	logger *zap.Logger
}

// NewClient creates a client for index.
func NewClient(index vector.Index, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{index: index, logger: logger}
}

// Index returns the underlying index.
func (c *Client) Index() vector.Index {
	return c.index
}

// FetchSample returns up to limit records from the collection without vectors.
// The order is whatever the index returns.
func (c *Client) FetchSample(ctx context.Context, limit int) ([]models.Record, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	start := time.Now()
	records, err := c.index.Scroll(ctx, limit, false)
	if err != nil {
		return nil, &IndexUnavailableError{Op: "scroll", Err: err}
	}
	c.logger.Debug("fetched sample", zap.Int("limit", limit), zap.Int("records", len(records)), zap.Duration("took", time.Since(start)))
	return resolve(records), nil
}

// RecommendSimilar returns up to limit records similar to the record with anchorID.
// The anchor itself may be among them.
func (c *Client) RecommendSimilar(ctx context.Context, anchorID models.PointID, limit int) ([]models.Record, error) {
	if strings.TrimSpace(anchorID.String()) == "" {
		return nil, fmt.Errorf("anchor id cannot be empty")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	start := time.Now()
	hits, err := c.index.Recommend(ctx, anchorID, limit)
	if err != nil {
		return nil, &IndexUnavailableError{Op: "recommend", Err: err}
	}
	c.logger.Debug("recommended", zap.String("anchor", anchorID.String()), zap.Int("records", len(hits)), zap.Duration("took", time.Since(start)))
	records := make([]models.Record, len(hits))
	for i, h := range hits {
		records[i] = h.Record
	}
	return resolve(records), nil
}

// SearchByVector returns up to limit results for query, sorted by score descending.
func (c *Client) SearchByVector(ctx context.Context, query []float32, limit int) ([]models.SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query vector cannot be empty")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	start := time.Now()
	hits, err := c.index.Search(ctx, query, limit)
	if err != nil {
		return nil, &IndexUnavailableError{Op: "search", Err: err}
	}
	c.logger.Debug("searched", zap.Int("limit", limit), zap.Int("hits", len(hits)), zap.Duration("took", time.Since(start)))

	results := make([]models.SearchResult, len(hits))
	for i, h := range hits {
		author := h.Record.Payload.Author
		if author == "" {
			author = models.UnknownAuthor
		}
		results[i] = models.SearchResult{
			ImageURL: h.Record.ImageURL(),
			Author:   author,
			Score:    h.Score,
		}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// Count returns the number of records in the index.
func (c *Client) Count(ctx context.Context) (int, error) {
	n, err := c.index.Count(ctx)
	if err != nil {
		return 0, &IndexUnavailableError{Op: "count", Err: err}
	}
	return n, nil
}

// IndexStatus reports the index backend, its size and, where applicable, its collection
// and disk usage. Version and embedder fields are left for the caller.
func (c *Client) IndexStatus(ctx context.Context) (models.Status, error) {
	points, err := c.Count(ctx)
	if err != nil {
		return models.Status{}, err
	}
	status := models.Status{IndexType: c.index.Type(), Points: points}
	if named, ok := c.index.(interface{ Collection() string }); ok {
		status.Collection = named.Collection()
	}
	if du, ok := c.index.(vector.DiskUser); ok {
		n, err := du.DiskUsageBytes()
		if err != nil {
			c.logger.Warn("disk usage unavailable", zap.Error(err))
		} else {
			status.DiskUsageBytes = &n
		}
	}
	return status, nil
}

// resolve fills payload defaults for records built outside the index decoders.
func resolve(records []models.Record) []models.Record {
	for i := range records {
		if records[i].Payload.Author == "" {
			records[i].Payload.Author = models.UnknownAuthor
		}
	}
	return records
}
