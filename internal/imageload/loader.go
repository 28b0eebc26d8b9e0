// Package imageload fetches images from URLs or local paths and normalizes them to RGB
// pixel buffers of a requested size.
package imageload

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"
)

// DefaultMaxBytes bounds a single image download or file read.
const DefaultMaxBytes = 32 << 20

// Size is a target thumbnail size in pixels.
type Size struct {
	Width  int
	Height int
}

// ImageLoadError reports that an image could not be fetched, read or decoded.
type ImageLoadError struct {
	Source string
	Err    error
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("failed to load image %s: %v", e.Source, e.Err)
}

func (e *ImageLoadError) Unwrap() error { return e.Err }

// Options configures a Loader.
type Options struct {
	// WorkingDir resolves relative local paths. Empty means the process working directory.
	WorkingDir    string
	Timeout       time.Duration
	MaxBytes      int64
	RatePerSecond float64
	Concurrency   int
	HTTPClient    *http.Client
}

// Loader loads and normalizes images. It is safe for concurrent use.
type Loader struct {
	client      *http.Client
	workingDir  string
	maxBytes    int64
	limiter     *rate.Limiter
	concurrency int
	logger      *zap.Logger
}

// New creates a Loader.
func New(opts Options, logger *zap.Logger) *Loader {
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
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	var limiter *rate.Limiter
	if opts.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	return &Loader{
		client:      client,
		workingDir:  opts.WorkingDir,
		maxBytes:    maxBytes,
		limiter:     limiter,
		concurrency: concurrency,
		logger:      logger,
	}
}

// Load fetches source, decodes it, drops alpha and resizes it to exactly size
// with a Lanczos filter. Aspect ratio is not preserved.
func (l *Loader) Load(ctx context.Context, source string, size Size) (*image.NRGBA, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, &ImageLoadError{Source: source, Err: fmt.Errorf("invalid size %dx%d", size.Width, size.Height)}
	}
	data, err := l.read(ctx, source)
	if err != nil {
		return nil, &ImageLoadError{Source: source, Err: err}
	}
	img, err := decodeRGB(bytes.NewReader(data))
	if err != nil {
		return nil, &ImageLoadError{Source: source, Err: err}
	}
	return imaging.Resize(img, size.Width, size.Height, imaging.Lanczos), nil
}

// Decode decodes an image from r and normalizes it to opaque RGB without resizing.
func (l *Loader) Decode(r io.Reader) (*image.NRGBA, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, &ImageLoadError{Source: "upload", Err: fmt.Errorf("failed to read image: %w", err)}
	}
	if int64(len(data)) > l.maxBytes {
		return nil, &ImageLoadError{Source: "upload", Err: fmt.Errorf("image exceeds %d bytes", l.maxBytes)}
	}
	img, err := decodeRGB(bytes.NewReader(data))
	if err != nil {
		return nil, &ImageLoadError{Source: "upload", Err: err}
	}
	return img, nil
}

// IsRemote reports whether source is an http or https URL.
func IsRemote(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

func (l *Loader) read(ctx context.Context, source string) ([]byte, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("empty image source")
	}
	if IsRemote(source) {
		return l.fetch(ctx, source)
	}
	return l.readFile(source)
}

func (l *Loader) fetch(ctx context.Context, source string) ([]byte, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("failed to wait for fetch slot: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return l.readLimited(resp.Body)
}

func (l *Loader) readFile(source string) ([]byte, error) {
	path := source
	if !filepath.IsAbs(path) && l.workingDir != "" {
		path = filepath.Join(l.workingDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return l.readLimited(f)
}

func (l *Loader) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", l.maxBytes)
	}
	return data, nil
}

// decodeRGB decodes any registered format (jpeg, png, gif, bmp, tiff, webp), applies EXIF
// orientation and returns an opaque NRGBA copy.
func decodeRGB(r io.Reader) (*image.NRGBA, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("decoded image is empty")
	}
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out, nil
}
