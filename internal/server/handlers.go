package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image/png"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/embedding"
	"github.com/hyperjump/ruiji/internal/imageload"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/retrieval"
	"github.com/hyperjump/ruiji/internal/selection"
)

// uploadOverhead is allowed on top of images.max_bytes for multipart framing.
const uploadOverhead = 1 << 20

type selectRequest struct {
	ID models.PointID `json:"id"`
}

type resultResponse struct {
	models.SearchResult
	SimilarityPercent int `json:"similarity_percent"`
}

type thumbnailResponse struct {
	Record    models.Record `json:"record"`
	Thumbnail string        `json:"thumbnail"`
}

func (s *Server) handleCollection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	view, err := s.machine.View(r.Context(), &s.state)
	if err == nil {
		s.remember(view)
	}
	s.mu.Unlock()

	if err != nil {
		s.respondFailure(w, "view collection", err)
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleCollectionThumbnails(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	view, err := s.machine.View(r.Context(), &s.state)
	if err == nil {
		s.remember(view)
	}
	s.mu.Unlock()

	if err != nil {
		s.respondFailure(w, "view collection", err)
		return
	}
	size, err := s.sizeFromQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	thumbs, err := s.loader.Grid(r.Context(), view.Records, size)
	if err != nil {
		s.respondFailure(w, "load thumbnails", err)
		return
	}
	out := make([]thumbnailResponse, 0, len(thumbs))
	for _, th := range thumbs {
		var buf bytes.Buffer
		if err := png.Encode(&buf, th.Image); err != nil {
			s.logger.Warn("skipping thumbnail", zap.String("id", th.Record.ID.String()), zap.Error(err))
			continue
		}
		out = append(out, thumbnailResponse{
			Record:    th.Record,
			Thumbnail: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"mode":     view.Mode,
		"selected": view.Selected,
		"items":    out,
	})
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("select request", zap.String("id", req.ID.String()))

	s.mu.Lock()
	rec, ok := s.grid[req.ID]
	if !ok {
		s.mu.Unlock()
		s.respondError(w, http.StatusNotFound, "record is not on display")
		return
	}
	prev := s.state
	s.machine.Select(&s.state, rec)
	view, err := s.machine.View(r.Context(), &s.state)
	if err != nil {
		s.state = prev
	} else {
		s.remember(view)
	}
	s.mu.Unlock()

	if err != nil {
		s.respondFailure(w, "select", err)
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	// The reset stands even when the browse fetch fails.
	s.machine.Reset(&s.state)
	view, err := s.machine.View(r.Context(), &s.state)
	if err == nil {
		s.remember(view)
	}
	s.mu.Unlock()

	if err != nil {
		s.respondFailure(w, "reset", err)
		return
	}
	s.respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleSearchImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Images.MaxBytes+uploadOverhead)

	body, closeBody, err := uploadBody(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer closeBody()

	response, err := s.engine.SearchUpload(r.Context(), body)
	if err != nil {
		s.respondFailure(w, "search image", err)
		return
	}

	results := make([]resultResponse, len(response.Results))
	s.mu.Lock()
	for i, res := range response.Results {
		results[i] = resultResponse{SearchResult: res, SimilarityPercent: res.SimilarityPercent()}
		s.known[res.ImageURL] = struct{}{}
	}
	s.mu.Unlock()

	s.respondJSON(w, http.StatusOK, map[string]any{
		"results":       results,
		"query_time_ms": response.QueryTime,
	})
}

// uploadBody returns the image bytes of a multipart "image" field or of the raw body.
func uploadBody(r *http.Request) (io.Reader, func(), error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, func() {}, nil
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return nil, nil, errors.New("multipart field \"image\" is required")
	}
	return file, func() { _ = file.Close() }, nil
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(r.URL.Query().Get("source"))
	if source == "" {
		s.respondError(w, http.StatusBadRequest, "source is required")
		return
	}
	if !imageload.IsRemote(source) {
		s.mu.Lock()
		_, ok := s.known[source]
		s.mu.Unlock()
		if !ok {
			s.respondError(w, http.StatusNotFound, "unknown image source")
			return
		}
	}
	size, err := s.sizeFromQuery(r)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	img, err := s.loader.Load(r.Context(), source, size)
	if err != nil {
		s.respondFailure(w, "load thumbnail", err)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to encode thumbnail")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.client.IndexStatus(r.Context())
	if err != nil {
		s.respondFailure(w, "status", err)
		return
	}
	status.Version = s.info.Version
	status.Dimensions = s.info.Dimensions
	status.Embedder = s.info.Embedder
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// remember records what is on screen. Callers hold s.mu.
func (s *Server) remember(view selection.View) {
	grid := make(map[models.PointID]models.Record, len(view.Records)+1)
	known := make(map[string]struct{}, len(view.Records)+1)
	for _, rec := range view.Records {
		grid[rec.ID] = rec
		known[rec.ImageURL()] = struct{}{}
	}
	if view.Selected != nil {
		grid[view.Selected.ID] = *view.Selected
		known[view.Selected.ImageURL()] = struct{}{}
	}
	s.grid = grid
	s.known = known
}

func (s *Server) sizeFromQuery(r *http.Request) (imageload.Size, error) {
	size := imageload.Size{Width: s.config.Images.ThumbnailWidth, Height: s.config.Images.ThumbnailHeight}
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"width", &size.Width}, {"height", &size.Height}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 4096 {
			return size, errors.New(p.name + " must be an integer between 1 and 4096")
		}
		*p.dst = n
	}
	return size, nil
}

// respondFailure maps core error types to HTTP statuses. The session state is never
// changed by a failed request.
func (s *Server) respondFailure(w http.ResponseWriter, op string, err error) {
	var (
		loadErr  *imageload.ImageLoadError
		modelErr *embedding.ModelInferenceError
		indexErr *retrieval.IndexUnavailableError
		tooLarge *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooLarge):
		s.logger.Warn(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusRequestEntityTooLarge, "image is too large")
	case errors.As(err, &loadErr):
		s.logger.Warn(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusUnprocessableEntity, "could not read image: "+loadErr.Err.Error())
	case errors.As(err, &modelErr):
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusUnprocessableEntity, "could not analyse image")
	case errors.As(err, &indexErr):
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusServiceUnavailable, "image index is unavailable")
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
