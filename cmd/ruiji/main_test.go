package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/selection"
	"github.com/hyperjump/ruiji/internal/server"
)

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after id are moved first",
			args:     []string{"42", "--output", "json"},
			expected: []string{"--output", "json", "42"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"--output", "json", "42"},
			expected: []string{"--output", "json", "42"},
		},
		{
			name:     "positional only returns unchanged",
			args:     []string{"sketch.jpg"},
			expected: []string{"sketch.jpg"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reorderArgs(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("reorderArgs() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
index:
  type: memory
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while configPath from t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug || cfg.Index.Type != "memory" {
		t.Errorf("cwd config.yaml not used: %+v", cfg)
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestLoadConfig_missingExplicitPathUsesDefaults(t *testing.T) {
	cfg, _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Index.Collection != "dino_embedding_collection" {
		t.Errorf("expected default collection, got %q", cfg.Index.Collection)
	}
}

func TestWriteStarterConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	if err := writeStarterConfig(path, false); err != nil {
		t.Fatalf("writeStarterConfig: %v", err)
	}
	if err := writeStarterConfig(path, false); err == nil {
		t.Error("expected an error when the file exists")
	}
	if err := writeStarterConfig(path, true); err != nil {
		t.Errorf("--force should overwrite: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "api_key") {
		t.Error("starter config should not carry an api key")
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("starter config does not load: %v", err)
	}
	if cfg.Browse.TopK != 8 {
		t.Errorf("top_k = %d", cfg.Browse.TopK)
	}
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsageTo(&buf)
	for _, cmd := range []string{"server", "browse", "similar", "upload", "status", "init"} {
		if !strings.Contains(buf.String(), "ruiji "+cmd) {
			t.Errorf("usage is missing %q", cmd)
		}
	}
}

// localComponents builds components over an in-memory index loaded from fixtures.
func localComponents(t *testing.T) *Components {
	t.Helper()
	dir := t.TempDir()
	var records []models.Record
	for i := 1; i <= 20; i++ {
		vec := []float32{float32(i), float32(20 - i), 1, float32(i % 3)}
		records = append(records, models.Record{
			ID:      models.PointID(fmt.Sprint(i)),
			Vector:  vec,
			Payload: models.Payload{ImageURL: fmt.Sprintf("https://img.example/%d.jpg", i%12), Author: fmt.Sprintf("Artist %d", i)},
		})
	}
	data, err := json.Marshal(records)
	if err != nil {
		t.Fatal(err)
	}
	fixtures := filepath.Join(dir, "fixtures.json")
	if err := os.WriteFile(fixtures, data, 0600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Index.Type = "memory"
	cfg.Index.FixturesPath = fixtures
	cfg.Embedding.ModelPath = filepath.Join(dir, "missing.onnx")
	cfg.Embedding.Dimensions = 4

	components, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("initializeComponents: %v", err)
	}
	t.Cleanup(components.Close)
	return components
}

func TestInitializeComponents_FallsBackToMockEmbedder(t *testing.T) {
	c := localComponents(t)
	if c.EmbedderName != "mock" {
		t.Errorf("embedder = %q, want mock", c.EmbedderName)
	}
	status, err := c.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := models.Status{Version: version, IndexType: "memory", Points: 20, Dimensions: 4, Embedder: "mock"}
	if status != want {
		t.Errorf("status = %+v, want %+v", status, want)
	}
}

func TestInitializeComponents_InvalidConfig(t *testing.T) {
	t.Setenv(config.EnvQdrantAPIKey, "")
	t.Setenv(config.EnvQdrantURL, "")
	cfg := config.Default()
	if _, err := initializeComponents(context.Background(), cfg, zap.NewNop()); err == nil {
		t.Error("expected qdrant without credentials to fail")
	}
}

func TestBrowseAndSimilar(t *testing.T) {
	c := localComponents(t)
	ctx := context.Background()

	var st selection.State
	view, err := c.Machine.View(ctx, &st)
	if err != nil {
		t.Fatal(err)
	}
	if view.Mode != selection.Browsing || len(view.Records) != 12 {
		t.Errorf("browse: mode %s, %d records", view.Mode, len(view.Records))
	}

	view, err = similarView(ctx, c.Machine, "5")
	if err != nil {
		t.Fatal(err)
	}
	if view.Mode != selection.Inspecting || view.Selected == nil {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Selected.Payload.Author != "Artist 5" {
		t.Errorf("selected payload not filled from the anchor: %+v", view.Selected.Payload)
	}
	if len(view.Records) == 0 || len(view.Records) > 12 {
		t.Errorf("similar set size %d", len(view.Records))
	}
}

func TestUploadFile(t *testing.T) {
	c := localComponents(t)
	path := filepath.Join(t.TempDir(), "query.png")
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: 80, B: uint8(y * 16), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatal(err)
	}

	response, err := uploadFile(context.Background(), c.Engine, path)
	if err != nil {
		t.Fatalf("uploadFile: %v", err)
	}
	if len(response.Results) != 8 {
		t.Errorf("expected 8 results, got %d", len(response.Results))
	}
	seen := map[string]bool{}
	for _, r := range response.Results {
		if seen[r.ImageURL] {
			t.Errorf("duplicate image %s", r.ImageURL)
		}
		seen[r.ImageURL] = true
	}

	if _, err := uploadFile(context.Background(), c.Engine, filepath.Join(t.TempDir(), "nope.png")); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestWatchFixtures_ReloadsOnChange(t *testing.T) {
	c := localComponents(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	path := c.Config.Index.FixturesPath
	fw, err := watchFixtures(ctx, c.Index, path, zap.NewNop())
	if err != nil {
		t.Fatalf("watchFixtures: %v", err)
	}
	defer fw.Stop()

	extra := []models.Record{{ID: "99", Vector: []float32{1, 1, 1, 1}, Payload: models.Payload{ImageURL: "https://img.example/new.jpg"}}}
	data, err := json.Marshal(extra)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := c.Client.Count(ctx); n == 21 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	n, _ := c.Client.Count(ctx)
	t.Errorf("expected 21 records after reload, got %d", n)
}

func TestInitializeComponents_QdrantWithoutModelDisablesImageSearch(t *testing.T) {
	qdrant := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected index call %s %s", r.Method, r.URL.Path)
		http.Error(w, "unexpected", http.StatusInternalServerError)
	}))
	defer qdrant.Close()

	cfg := config.Default()
	cfg.Index.Type = "qdrant"
	cfg.Index.URL = qdrant.URL
	cfg.Index.APIKey = "test-key"
	cfg.Embedding.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")

	c, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("initializeComponents: %v", err)
	}
	defer c.Close()
	if c.EmbedderName != "unavailable" {
		t.Errorf("embedder = %q, want unavailable", c.EmbedderName)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	srv := server.NewServer(c.Machine, c.Engine, c.Client, c.Loader, cfg, c.Info(), zap.NewNop())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/search/image", bytes.NewReader(buf.Bytes()))
	req.Header.Set("Content-Type", "image/png")
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
}
