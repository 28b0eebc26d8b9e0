package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeQdrant uses a remote Qdrant collection. This is the production backend.
	IndexTypeQdrant IndexType = "qdrant"
	// IndexTypeMemory uses in-memory brute-force search. Good for tests and demos.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeSQLite uses a local SQLite catalog with brute-force search.
	IndexTypeSQLite IndexType = "sqlite"
)

// Config selects and configures an index backend.
type Config struct {
	Type       string
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	SQLitePath string
	Dimensions int
	// FixturesPath optionally names a JSON array of records loaded into a local backend at startup.
	FixturesPath string
}

// NewIndex creates a vector index of the configured type.
// Supported types: "qdrant" (default), "memory", "sqlite".
func NewIndex(ctx context.Context, cfg Config, logger *zap.Logger) (Index, error) {
	var (
		idx Index
		err error
	)
	switch IndexType(cfg.Type) {
	case IndexTypeQdrant, "":
		idx, err = NewQdrantIndex(QdrantOptions{
			URL:        cfg.URL,
			APIKey:     cfg.APIKey,
			Collection: cfg.Collection,
			Timeout:    cfg.Timeout,
		}, logger)
	case IndexTypeMemory:
		idx, err = NewMemoryIndex(cfg.Dimensions)
	case IndexTypeSQLite:
		idx, err = NewSQLiteIndex(cfg.SQLitePath, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: qdrant, memory, sqlite)", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.FixturesPath != "" {
		u, ok := idx.(Upserter)
		if !ok {
			_ = idx.Close()
			return nil, fmt.Errorf("index type %s does not accept fixtures", idx.Type())
		}
		n, err := LoadFixtures(ctx, u, cfg.FixturesPath)
		if err != nil {
			_ = idx.Close()
			return nil, err
		}
		if logger != nil {
			logger.Info("loaded index fixtures", zap.String("path", cfg.FixturesPath), zap.Int("records", n))
		}
	}
	return idx, nil
}

// LoadFixtures reads a JSON array of records (with vectors) from path and upserts them.
func LoadFixtures(ctx context.Context, u Upserter, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read fixtures: %w", err)
	}
	var records []models.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return 0, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	if err := u.Upsert(ctx, records); err != nil {
		return 0, fmt.Errorf("failed to load fixtures: %w", err)
	}
	return len(records), nil
}
