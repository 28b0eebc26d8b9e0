// Package main is the ruiji CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/cli"
	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/imageload"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/retrieval"
	"github.com/hyperjump/ruiji/internal/search"
	"github.com/hyperjump/ruiji/internal/selection"
	"github.com/hyperjump/ruiji/internal/server"
	"github.com/hyperjump/ruiji/internal/vector"
	"github.com/hyperjump/ruiji/internal/watcher"
	"github.com/hyperjump/ruiji/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/ruiji/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development).
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// commonFlags are accepted by every subcommand that touches the index.
type commonFlags struct {
	configPath string
	debug      bool
	output     string
}

func newFlagSet(name string) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cf := &commonFlags{}
	fs.StringVar(&cf.configPath, "config", defaultConfigPath, "config file path")
	fs.BoolVar(&cf.debug, "debug", false, "enable debug logging")
	fs.StringVar(&cf.output, "output", "text", "output format: text or json")
	return fs, cf
}

// reorderArgs moves flags that appear after positional arguments to the front so that
// flag.Parse sees them, e.g. "ruiji similar 42 --output json".
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "browse":
		runBrowse(args)
	case "similar":
		runSimilar(args)
	case "upload":
		runUpload(args)
	case "status":
		runStatus(args)
	case "init":
		runInit(args)
	case "version", "--version", "-v":
		fmt.Printf("ruiji version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer(args []string) {
	fs, cf := newFlagSet("server")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(cf.configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || cf.debug
	logger, err := utils.NewLoggerWithFile(debugMode, utils.LogFile{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("index", cfg.Index.Type),
	)

	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Index.WatchFixtures {
		fw, err := watchFixtures(watchCtx, components.Index, cfg.Index.FixturesPath, logger)
		if err != nil {
			logger.Fatal("Failed to watch fixtures", zap.Error(err))
		}
		defer fw.Stop()
	}

	srv := server.NewServer(
		components.Machine,
		components.Engine,
		components.Client,
		components.Loader,
		cfg,
		components.Info(),
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// watchFixtures reloads the fixtures file into index whenever it changes. Records are
// upserted, so entries removed from the file stay in the index until restart.
func watchFixtures(ctx context.Context, index vector.Index, path string, logger *zap.Logger) (*watcher.FileWatcher, error) {
	up, ok := index.(vector.Upserter)
	if !ok {
		return nil, fmt.Errorf("%s index cannot load fixtures", index.Type())
	}
	fw, err := watcher.New(path, func(p string) {
		n, err := vector.LoadFixtures(ctx, up, p)
		if err != nil {
			logger.Warn("fixtures reload failed", zap.String("path", p), zap.Error(err))
			return
		}
		logger.Info("fixtures reloaded", zap.String("path", p), zap.Int("records", n))
	}, watcher.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := fw.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start watcher: %w", err)
	}
	return fw, nil
}

// cliSetup loads config, a stderr logger and the components for one-shot commands.
func cliSetup(cf *commonFlags) (*Components, cli.OutputFormat, *zap.Logger) {
	format, err := cli.ParseOutputFormat(cf.output)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, _, err := loadConfig(cf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := utils.NewStderrLogger(cfg.Debug || cf.debug)
	components, err := initializeComponents(context.Background(), cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	return components, format, logger
}

func runBrowse(args []string) {
	fs, cf := newFlagSet("browse")
	_ = fs.Parse(args)

	components, format, logger := cliSetup(cf)
	defer logger.Sync()
	defer components.Close()

	var st selection.State
	view, err := components.Machine.View(context.Background(), &st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Browse failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteView(os.Stdout, view, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runSimilar(args []string) {
	fs, cf := newFlagSet("similar")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ruiji similar [flags] <id>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}
	id, err := models.ParsePointID(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid id: %v\n", err)
		os.Exit(1)
	}

	components, format, logger := cliSetup(cf)
	defer logger.Sync()
	defer components.Close()

	view, err := similarView(context.Background(), components.Machine, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Similar failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteView(os.Stdout, view, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// similarView inspects the record with id. The index returns the anchor among its own
// neighbours, so its payload is filled in from there when present.
func similarView(ctx context.Context, machine *selection.Machine, id models.PointID) (selection.View, error) {
	var st selection.State
	machine.Select(&st, models.Record{ID: id})
	view, err := machine.View(ctx, &st)
	if err != nil {
		return view, err
	}
	for _, rec := range view.Records {
		if rec.ID == id {
			anchor := rec
			view.Selected = &anchor
			break
		}
	}
	if view.Selected != nil && view.Selected.Payload.Author == "" {
		view.Selected.Payload.Author = models.UnknownAuthor
	}
	return view, nil
}

func runUpload(args []string) {
	fs, cf := newFlagSet("upload")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: ruiji upload [flags] <image-path>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(1)
	}

	components, format, logger := cliSetup(cf)
	defer logger.Sync()
	defer components.Close()

	response, err := uploadFile(context.Background(), components.Engine, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func uploadFile(ctx context.Context, engine *search.Engine, path string) (*search.Response, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()
	return engine.SearchUpload(ctx, f)
}

func runStatus(args []string) {
	fs, cf := newFlagSet("status")
	_ = fs.Parse(args)

	components, format, logger := cliSetup(cf)
	defer logger.Sync()
	defer components.Close()

	status, err := components.Status(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if err := writeStarterConfig(*path, *force); err != nil {
		fmt.Fprintf(os.Stderr, "Init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", *path)
	fmt.Printf("Set %s and %s (or index.url and index.api_key) before running ruiji server.\n",
		config.EnvQdrantURL, config.EnvQdrantAPIKey)
}

// writeStarterConfig writes the default config without credentials.
func writeStarterConfig(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	return config.Save(path, config.Default())
}

// Components holds initialized services.
type Components struct {
	Config       *config.Config
	Embedder     embedding.Embedder
	EmbedderName string
	Index        vector.Index
	Client       *retrieval.Client
	Loader       *imageload.Loader
	Machine      *selection.Machine
	Engine       *search.Engine
}

// Close releases the embedder and the index.
func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
}

// Info returns the static fields reported by the status endpoint.
func (c *Components) Info() server.Info {
	return server.Info{
		Version:    version,
		Embedder:   c.EmbedderName,
		Dimensions: c.Embedder.Dimensions(),
	}
}

// Status reports the index and embedder in use.
func (c *Components) Status(ctx context.Context) (models.Status, error) {
	status, err := c.Client.IndexStatus(ctx)
	if err != nil {
		return models.Status{}, err
	}
	status.Version = version
	status.Dimensions = c.Embedder.Dimensions()
	status.Embedder = c.EmbedderName
	return status, nil
}

// isLocalIndex reports whether the index is built locally, so its vectors may come from the mock embedder.
func isLocalIndex(indexType string) bool {
	switch vector.IndexType(indexType) {
	case vector.IndexTypeMemory, vector.IndexTypeSQLite:
		return true
	}
	return false
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var (
		embedder     embedding.Embedder
		embedderName = "onnx"
	)
	onnxEmbedder, err := embedding.NewONNXEmbedder(embedding.ONNXConfig{
		ModelPath:      cfg.Embedding.ModelPath,
		Dimensions:     cfg.Embedding.Dimensions,
		InputSize:      cfg.Embedding.InputSize,
		ResizeShortest: cfg.Embedding.ResizeShortest,
		PatchSize:      cfg.Embedding.PatchSize,
		InputName:      cfg.Embedding.InputName,
		OutputName:     cfg.Embedding.OutputName,
	})
	switch {
	case err != nil && isLocalIndex(cfg.Index.Type):
		logger.Warn("ONNX embedder unavailable, image search will use the mock embedder",
			zap.String("model_path", cfg.Embedding.ModelPath),
			zap.Error(err))
		embedder = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
		embedderName = "mock"
	case err != nil:
		// Mock vectors are meaningless against a collection of model embeddings.
		logger.Error("ONNX embedder unavailable, image search is disabled",
			zap.String("model_path", cfg.Embedding.ModelPath),
			zap.Error(err))
		embedder = embedding.NewUnavailableEmbedder(cfg.Embedding.ModelPath, cfg.Embedding.Dimensions, err)
		embedderName = "unavailable"
	default:
		embedder = onnxEmbedder
	}
	embedder = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize)

	index, err := vector.NewIndex(ctx, vector.Config{
		Type:         cfg.Index.Type,
		URL:          cfg.Index.URL,
		APIKey:       cfg.Index.APIKey,
		Collection:   cfg.Index.Collection,
		Timeout:      cfg.Index.Timeout(),
		SQLitePath:   cfg.Index.SQLitePath,
		Dimensions:   cfg.Embedding.Dimensions,
		FixturesPath: cfg.Index.FixturesPath,
	}, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize index: %w", err)
	}
	logger.Info("index initialized", zap.String("type", index.Type()))

	client := retrieval.NewClient(index, logger)
	loader := imageload.New(imageload.Options{
		WorkingDir:    cfg.Images.WorkingDir,
		Timeout:       cfg.Images.Timeout(),
		MaxBytes:      cfg.Images.MaxBytes,
		RatePerSecond: cfg.Images.FetchRatePerSecond,
		Concurrency:   cfg.Images.Concurrency,
	}, logger)
	machine := selection.NewMachine(client, selection.Config{
		SampleLimit:    cfg.Browse.SampleLimit,
		DisplayCap:     cfg.Browse.DisplayCap,
		Shuffle:        cfg.Browse.ShuffleOrDefault(),
		RecommendLimit: cfg.Browse.RecommendLimit,
		SimilarCap:     cfg.Browse.SimilarCap,
	}, nil)
	engine := search.NewEngine(embedder, client, loader, search.Config{
		SearchLimit: cfg.Browse.SearchLimit,
		TopK:        cfg.Browse.TopK,
	})

	return &Components{
		Config:       cfg,
		Embedder:     embedder,
		EmbedderName: embedderName,
		Index:        index,
		Client:       client,
		Loader:       loader,
		Machine:      machine,
		Engine:       engine,
	}, nil
}

func printUsage() {
	printUsageTo(os.Stdout)
}

func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, strings.TrimSpace(`
ruiji - Find artworks that look alike

Usage:
  ruiji server [flags]               Start the HTTP server
  ruiji browse [flags]               Show a random sample of the collection
  ruiji similar [flags] <id>         Show artworks similar to the one with <id>
  ruiji upload [flags] <image-path>  Find artworks similar to a local image
  ruiji status [flags]               Show index and embedder status
  ruiji init [--config path]         Write a starter config file
  ruiji version                      Show version
  ruiji help                         Show this help

Flags:
  --config string    Config file path (default: /usr/local/etc/ruiji/config.yaml,
                     or ./config.yaml when present)
  --debug            Enable debug logging
  --output string    Output format: text or json (default: text)

Environment:
  QDRANT_URL         Qdrant endpoint when index.url is not set
  QDRANT_API         Qdrant API key when index.api_key is not set

Examples:
  ruiji server
  ruiji browse --output json
  ruiji similar 42
  ruiji upload ~/Pictures/sketch.jpg`))
}
