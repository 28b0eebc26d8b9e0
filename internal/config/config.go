// Package config provides configuration loading and structs for the ruiji server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted when the index credentials are not in the config file.
const (
	EnvQdrantAPIKey = "QDRANT_API"
	EnvQdrantURL    = "QDRANT_URL"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Images    ImagesConfig    `yaml:"images"`
	Browse    BrowseConfig    `yaml:"browse"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// IndexConfig selects the vector index backend and holds its connection settings.
type IndexConfig struct {
	Type           string `yaml:"type"`
	URL            string `yaml:"url"`
	APIKey         string `yaml:"api_key,omitempty"`
	Collection     string `yaml:"collection"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SQLitePath     string `yaml:"sqlite_path"`
	FixturesPath   string `yaml:"fixtures_path,omitempty"`
	// WatchFixtures reloads FixturesPath into a local index when the file changes.
	WatchFixtures bool `yaml:"watch_fixtures,omitempty"`
}

// Timeout returns the request timeout as a duration.
func (c IndexConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// EmbeddingConfig holds ONNX image embedder settings.
type EmbeddingConfig struct {
	ModelPath      string `yaml:"model_path"`
	Dimensions     int    `yaml:"dimensions"`
	InputSize      int    `yaml:"input_size"`
	ResizeShortest int    `yaml:"resize_shortest"`
	PatchSize      int    `yaml:"patch_size"`
	InputName      string `yaml:"input_name"`
	OutputName     string `yaml:"output_name"`
	CacheSize      int    `yaml:"cache_size"`
}

// ImagesConfig holds image loading settings.
type ImagesConfig struct {
	WorkingDir         string  `yaml:"working_dir"`
	ThumbnailWidth     int     `yaml:"thumbnail_width"`
	ThumbnailHeight    int     `yaml:"thumbnail_height"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	MaxBytes           int64   `yaml:"max_bytes"`
	Concurrency        int     `yaml:"concurrency"`
	FetchRatePerSecond float64 `yaml:"fetch_rate_per_second"`
}

// Timeout returns the fetch timeout as a duration.
func (c ImagesConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BrowseConfig holds the candidate and display limits for browsing, inspecting and uploads.
type BrowseConfig struct {
	SampleLimit    int   `yaml:"sample_limit"`
	DisplayCap     int   `yaml:"display_cap"`
	Shuffle        *bool `yaml:"shuffle"`
	RecommendLimit int   `yaml:"recommend_limit"`
	SimilarCap     int   `yaml:"similar_cap"`
	SearchLimit    int   `yaml:"search_limit"`
	TopK           int   `yaml:"top_k"`
}

// ShuffleOrDefault returns whether to shuffle the browse sample; defaults to true when unset.
func (b *BrowseConfig) ShuffleOrDefault() bool {
	if b.Shuffle != nil {
		return *b.Shuffle
	}
	return true
}

// LoggingConfig holds the optional log file sink.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads and parses the config file at path, expands paths, applies defaults and fills
// missing index credentials from the environment or a .env file next to the config.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	if err := resolveSecrets(&cfg, configDir); err != nil {
		return nil, err
	}
	cfg.Index.SQLitePath = expandPath(cfg.Index.SQLitePath, configDir)
	cfg.Index.FixturesPath = expandPath(cfg.Index.FixturesPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	cfg.Images.WorkingDir = expandPath(cfg.Images.WorkingDir, configDir)
	cfg.Logging.File = expandPath(cfg.Logging.File, configDir)

	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults with index
// credentials taken from the environment or a .env file in the working directory.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	cfg = Default()
	if err := resolveSecrets(cfg, "."); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path. Used by "ruiji init" to write a starter config.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	var errs []error
	if c.Index.Type == "qdrant" {
		if c.Index.URL == "" {
			errs = append(errs, fmt.Errorf("index.url is required for qdrant (or set %s)", EnvQdrantURL))
		}
		if c.Index.APIKey == "" {
			errs = append(errs, fmt.Errorf("index.api_key is required for qdrant (or set %s)", EnvQdrantAPIKey))
		}
	}
	if c.Browse.DisplayCap > c.Browse.SampleLimit {
		errs = append(errs, fmt.Errorf("browse.display_cap (%d) exceeds browse.sample_limit (%d)", c.Browse.DisplayCap, c.Browse.SampleLimit))
	}
	if c.Browse.SimilarCap > c.Browse.RecommendLimit {
		errs = append(errs, fmt.Errorf("browse.similar_cap (%d) exceeds browse.recommend_limit (%d)", c.Browse.SimilarCap, c.Browse.RecommendLimit))
	}
	if c.Browse.TopK > c.Browse.SearchLimit {
		errs = append(errs, fmt.Errorf("browse.top_k (%d) exceeds browse.search_limit (%d)", c.Browse.TopK, c.Browse.SearchLimit))
	}
	if c.Index.WatchFixtures && c.Index.FixturesPath == "" {
		errs = append(errs, errors.New("index.watch_fixtures requires index.fixtures_path"))
	}
	if c.Embedding.ResizeShortest < c.Embedding.InputSize {
		errs = append(errs, fmt.Errorf("embedding.resize_shortest (%d) is smaller than embedding.input_size (%d)", c.Embedding.ResizeShortest, c.Embedding.InputSize))
	}
	return errors.Join(errs...)
}

// resolveSecrets fills an empty index URL or API key from the process environment first
// and then from a .env file in configDir. A missing .env file is not an error.
func resolveSecrets(cfg *Config, configDir string) error {
	if cfg.Index.APIKey != "" && cfg.Index.URL != "" {
		return nil
	}
	dotenv, err := godotenv.Read(filepath.Join(configDir, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read .env: %w", err)
	}
	lookup := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(dotenv[key])
	}
	if cfg.Index.APIKey == "" {
		cfg.Index.APIKey = lookup(EnvQdrantAPIKey)
	}
	if cfg.Index.URL == "" {
		cfg.Index.URL = lookup(EnvQdrantURL)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. Empty paths stay empty.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
