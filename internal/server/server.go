// Package server provides the HTTP API for ruiji.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/imageload"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/retrieval"
	"github.com/hyperjump/ruiji/internal/search"
	"github.com/hyperjump/ruiji/internal/selection"
)

// Info is static service information reported by the status endpoint.
type Info struct {
	Version    string
	Embedder   string
	Dimensions int
}

// Server is the HTTP server for the ruiji API. It holds the single active browsing session.
type Server struct {
	machine *selection.Machine
	engine  *search.Engine
	client  *retrieval.Client
	loader  *imageload.Loader
	config  *config.Config
	info    Info
	logger  *zap.Logger
	server  *http.Server

	// mu serialises session transitions.
	mu    sync.Mutex
	state selection.State
	// grid maps the ids on screen to their records so a click can select one.
	grid map[models.PointID]models.Record
	// known holds image sources the client has been shown.
	known map[string]struct{}
}

// NewServer creates a server with the given dependencies.
func NewServer(
	machine *selection.Machine,
	engine *search.Engine,
	client *retrieval.Client,
	loader *imageload.Loader,
	cfg *config.Config,
	info Info,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		machine: machine,
		engine:  engine,
		client:  client,
		loader:  loader,
		config:  cfg,
		info:    info,
		logger:  logger,
		grid:    make(map[models.PointID]models.Record),
		known:   make(map[string]struct{}),
	}
}

// Routes returns the HTTP handler with all middleware and routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/collection", s.handleCollection)
		r.Get("/collection/thumbnails", s.handleCollectionThumbnails)
		r.Post("/selection", s.handleSelect)
		r.Delete("/selection", s.handleReset)
		r.Post("/search/image", s.handleSearchImage)
		r.Get("/thumbnail", s.handleThumbnail)
		r.Get("/status", s.handleStatus)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		s.logger.Debug("request", zap.String("request_id", id), zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}
