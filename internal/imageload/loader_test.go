package imageload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/models"
)

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// imageHost serves a PNG at /ok*.png and 404 for everything else.
func imageHost(t *testing.T) *httptest.Server {
	t.Helper()
	body := pngBytes(t, 40, 20, color.NRGBA{R: 10, G: 120, B: 200, A: 128})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/ok") {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(body)
			return
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoad_Remote(t *testing.T) {
	srv := imageHost(t)
	l := New(Options{}, zap.NewNop())

	img, err := l.Load(context.Background(), srv.URL+"/ok.png", Size{Width: 180, Height: 180})
	require.NoError(t, err)
	assert.Equal(t, 180, img.Bounds().Dx())
	assert.Equal(t, 180, img.Bounds().Dy())

	c := img.NRGBAAt(90, 90)
	assert.Equal(t, uint8(255), c.A, "alpha should be dropped")
	assert.InDelta(t, 120, int(c.G), 2)
}

func TestLoad_NotFound(t *testing.T) {
	srv := imageHost(t)
	l := New(Options{}, zap.NewNop())

	_, err := l.Load(context.Background(), srv.URL+"/missing.jpg", Size{Width: 10, Height: 10})
	var le *ImageLoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, srv.URL+"/missing.jpg", le.Source)
	assert.Contains(t, err.Error(), "404")
}

func TestLoad_LocalRelativeToWorkingDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "art"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "art", "a.png"), pngBytes(t, 8, 8, color.White), 0644))

	l := New(Options{WorkingDir: dir}, nil)
	img, err := l.Load(context.Background(), "art/a.png", Size{Width: 3, Height: 5})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 5), img.Bounds())

	_, err = l.Load(context.Background(), "art/none.png", Size{Width: 3, Height: 5})
	var le *ImageLoadError
	assert.ErrorAs(t, err, &le)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk.png"), []byte("not an image"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.png"), pngBytes(t, 64, 64, color.Black), 0644))

	l := New(Options{WorkingDir: dir, MaxBytes: 40}, nil)
	ctx := context.Background()
	var le *ImageLoadError

	_, err := l.Load(ctx, "junk.png", Size{Width: 1, Height: 1})
	assert.ErrorAs(t, err, &le)

	_, err = l.Load(ctx, "big.png", Size{Width: 1, Height: 1})
	require.ErrorAs(t, err, &le)
	assert.Contains(t, err.Error(), "exceeds")

	_, err = l.Load(ctx, "", Size{Width: 1, Height: 1})
	assert.ErrorAs(t, err, &le)

	_, err = l.Load(ctx, "junk.png", Size{Width: 0, Height: 1})
	assert.ErrorAs(t, err, &le)
}

func TestDecode(t *testing.T) {
	l := New(Options{}, nil)
	img, err := l.Decode(bytes.NewReader(pngBytes(t, 7, 9, color.NRGBA{R: 1, A: 0})))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 7, 9), img.Bounds())
	assert.Equal(t, uint8(255), img.NRGBAAt(0, 0).A)

	_, err = l.Decode(strings.NewReader("garbage"))
	var le *ImageLoadError
	assert.ErrorAs(t, err, &le)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://example.com/a.jpg"))
	assert.True(t, IsRemote("HTTP://example.com/a.jpg"))
	assert.False(t, IsRemote("images/a.jpg"))
	assert.False(t, IsRemote("/abs/a.jpg"))
	assert.False(t, IsRemote("file:///a.jpg"))
}

func TestGrid_SkipsFailures(t *testing.T) {
	srv := imageHost(t)
	l := New(Options{Concurrency: 3}, zap.NewNop())

	records := []models.Record{
		{ID: "1", Payload: models.Payload{ImageURL: srv.URL + "/ok1.png"}},
		{ID: "2", Payload: models.Payload{ImageURL: srv.URL + "/gone.png"}},
		{ID: "3", Payload: models.Payload{ImageURL: srv.URL + "/ok3.png"}},
		{ID: "4", Payload: models.Payload{ImageURL: srv.URL + "/ok4.png"}},
	}
	thumbs, err := l.Grid(context.Background(), records, Size{Width: 180, Height: 180})
	require.NoError(t, err)
	require.Len(t, thumbs, 3)
	assert.Equal(t, models.PointID("1"), thumbs[0].Record.ID)
	assert.Equal(t, models.PointID("3"), thumbs[1].Record.ID)
	assert.Equal(t, models.PointID("4"), thumbs[2].Record.ID)
	for _, th := range thumbs {
		assert.Equal(t, 180, th.Image.Bounds().Dx())
	}
}

func TestGrid_Cancelled(t *testing.T) {
	srv := imageHost(t)
	l := New(Options{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Grid(ctx, []models.Record{{ID: "1", Payload: models.Payload{ImageURL: srv.URL + "/ok.png"}}}, Size{Width: 4, Height: 4})
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
}

func TestGrid_SlowItemIsSkipped(t *testing.T) {
	body := pngBytes(t, 8, 8, color.White)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow.png" {
			select {
			case <-time.After(500 * time.Millisecond):
			case <-r.Context().Done():
				return
			}
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	l := New(Options{Timeout: 200 * time.Millisecond, Concurrency: 3}, zap.NewNop())

	records := []models.Record{
		{ID: "1", Payload: models.Payload{ImageURL: srv.URL + "/a.png"}},
		{ID: "2", Payload: models.Payload{ImageURL: srv.URL + "/slow.png"}},
		{ID: "3", Payload: models.Payload{ImageURL: srv.URL + "/b.png"}},
	}
	thumbs, err := l.Grid(context.Background(), records, Size{Width: 4, Height: 4})
	require.NoError(t, err)
	require.Len(t, thumbs, 2)
	assert.Equal(t, models.PointID("1"), thumbs[0].Record.ID)
	assert.Equal(t, models.PointID("3"), thumbs[1].Record.ID)
}
