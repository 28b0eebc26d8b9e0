package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
)

const defaultMaxResponseBytes = 64 << 20

// QdrantOptions configures the REST client for a Qdrant collection.
type QdrantOptions struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	HTTPClient *http.Client

	// MaxResponseBytes bounds a single response body; 0 means 64 MiB.
	MaxResponseBytes int64
}

// QdrantIndex talks to a Qdrant collection over its REST API. Every call is a single
// request; failures are returned to the caller without retry.
type QdrantIndex struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
	maxBody    int64
	logger     *zap.Logger
}

// NewQdrantIndex validates opts and returns a client. No request is made.
func NewQdrantIndex(opts QdrantOptions, logger *zap.Logger) (*QdrantIndex, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if _, err := url.ParseRequestURI(opts.URL); err != nil {
		return nil, fmt.Errorf("invalid qdrant url %q: %w", opts.URL, err)
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("qdrant api key is required")
	}
	if opts.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}
	return &QdrantIndex{
		baseURL:    strings.TrimRight(opts.URL, "/"),
		apiKey:     opts.APIKey,
		collection: opts.Collection,
		client:     client,
		maxBody:    maxBody,
		logger:     logger,
	}, nil
}

// Type returns the index type identifier.
func (q *QdrantIndex) Type() string {
	return string(IndexTypeQdrant)
}

// Collection returns the collection name.
func (q *QdrantIndex) Collection() string {
	return q.collection
}

type qdrantPoint struct {
	ID      models.PointID  `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
	Vector  json.RawMessage `json:"vector"`
}

func (p qdrantPoint) record() models.Record {
	rec := models.Record{ID: p.ID, Payload: models.PayloadFromMap(p.Payload)}
	if len(p.Vector) > 0 && p.Vector[0] == '[' {
		var vec []float32
		if err := json.Unmarshal(p.Vector, &vec); err == nil {
			rec.Vector = vec
		}
	}
	return rec
}

func hitsFromPoints(points []qdrantPoint) []*Hit {
	hits := make([]*Hit, len(points))
	for i, p := range points {
		hits[i] = &Hit{Record: p.record(), Score: p.Score}
	}
	return hits
}

// Scroll reads up to limit points with their payloads.
func (q *QdrantIndex) Scroll(ctx context.Context, limit int, withVectors bool) ([]models.Record, error) {
	body := map[string]any{
		"limit":        limit,
		"with_payload": true,
		"with_vector":  withVectors,
	}
	var result struct {
		Points []qdrantPoint `json:"points"`
	}
	if err := q.post(ctx, "scroll", "points/scroll", body, &result); err != nil {
		return nil, err
	}
	records := make([]models.Record, len(result.Points))
	for i, p := range result.Points {
		records[i] = p.record()
	}
	return records, nil
}

// Recommend asks Qdrant for points similar to the stored point positive.
func (q *QdrantIndex) Recommend(ctx context.Context, positive models.PointID, limit int) ([]*Hit, error) {
	body := map[string]any{
		"positive":     []models.PointID{positive},
		"limit":        limit,
		"with_payload": true,
	}
	var points []qdrantPoint
	if err := q.post(ctx, "recommend", "points/recommend", body, &points); err != nil {
		return nil, err
	}
	return hitsFromPoints(points), nil
}

// Search runs a nearest-neighbour query for a raw vector.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, limit int) ([]*Hit, error) {
	body := map[string]any{
		"vector":       query,
		"limit":        limit,
		"with_payload": true,
	}
	var points []qdrantPoint
	if err := q.post(ctx, "search", "points/search", body, &points); err != nil {
		return nil, err
	}
	return hitsFromPoints(points), nil
}

// Count returns the exact number of points in the collection.
func (q *QdrantIndex) Count(ctx context.Context) (int, error) {
	var result struct {
		Count int `json:"count"`
	}
	if err := q.post(ctx, "count", "points/count", map[string]any{"exact": true}, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// Close releases idle connections.
func (q *QdrantIndex) Close() error {
	q.client.CloseIdleConnections()
	return nil
}

type qdrantResponse struct {
	Result json.RawMessage `json:"result"`
	Status json.RawMessage `json:"status"`
	Time   float64         `json:"time"`
}

// statusError extracts the error message from a non-"ok" status field, which Qdrant sends
// either as a string or as {"error": "..."}.
func statusError(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "ok" {
			return nil
		}
		return fmt.Errorf("qdrant status %q", s)
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Error != "" {
		return fmt.Errorf("qdrant error: %s", obj.Error)
	}
	return fmt.Errorf("qdrant status %s", string(raw))
}

func (q *QdrantIndex) post(ctx context.Context, op, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", op, err)
	}
	endpoint := fmt.Sprintf("%s/collections/%s/%s", q.baseURL, url.PathEscape(q.collection), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", q.apiKey)

	start := time.Now()
	resp, err := q.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, q.maxBody))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", op, err)
	}
	q.logger.Debug("qdrant request",
		zap.String("op", op),
		zap.String("collection", q.collection),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	var parsed qdrantResponse
	decodeErr := json.Unmarshal(data, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if decodeErr == nil {
			if err := statusError(parsed.Status); err != nil {
				return fmt.Errorf("%s failed with status %d: %w", op, resp.StatusCode, err)
			}
		}
		return fmt.Errorf("%s failed with status %d", op, resp.StatusCode)
	}
	if decodeErr != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, decodeErr)
	}
	if err := statusError(parsed.Status); err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}
	if err := json.Unmarshal(parsed.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", op, err)
	}
	return nil
}
