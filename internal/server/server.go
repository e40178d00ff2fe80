// Package server provides the HTTP API for webrag.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/webrag/internal/answer"
	"github.com/hyperjump/webrag/internal/config"
	"github.com/hyperjump/webrag/internal/models"
	"github.com/hyperjump/webrag/internal/retrieval"
	"github.com/hyperjump/webrag/internal/storage"
)

const defaultRequestTimeout = 5 * time.Minute

// SourceLoader reads the upstream content named by a catalog record.
// *indexer.Loader implements it.
type SourceLoader interface {
	LoadRecord(ctx context.Context, rec *models.CollectionRecord) ([]string, error)
}

// DirectoryWatcher tracks the documents directories of collections.
// *watcher.Watcher implements it.
type DirectoryWatcher interface {
	Watch(id, dir string, syncExisting bool) error
	Unwatch(id string)
	Directories() map[string]string
}

// DiskUsager reports bytes used by persisted collections. *storage.CollectionStore implements it.
type DiskUsager interface {
	DiskUsage(id string) (int64, error)
}

// Server is the HTTP server for the webrag API.
type Server struct {
	service   *retrieval.Service
	catalog   storage.Catalog
	loader    SourceLoader
	generator answer.Generator
	watch     DirectoryWatcher
	disk      DiskUsager
	config    *config.ServerConfig
	logger    *zap.Logger
	server    *http.Server
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithGenerator enables the ask endpoint.
func WithGenerator(g answer.Generator) Option {
	return func(s *Server) { s.generator = g }
}

// WithWatcher registers documents directories with w when collections are created or deleted.
func WithWatcher(w DirectoryWatcher) Option {
	return func(s *Server) { s.watch = w }
}

// WithDiskUsage adds disk usage to the status endpoint.
func WithDiskUsage(d DiskUsager) Option {
	return func(s *Server) { s.disk = d }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	service *retrieval.Service,
	catalog storage.Catalog,
	loader SourceLoader,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		service: service,
		catalog: catalog,
		loader:  loader,
		config:  cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	timeout := s.config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/collections", s.handleListCollections)
		r.Route("/collections/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetCollection)
			r.Put("/", s.handlePutCollection)
			r.Delete("/", s.handleDeleteCollection)
			r.Post("/rebuild", s.handleRebuild)
			r.Post("/query", s.handleQuery)
			r.Post("/ask", s.handleAsk)
			r.Get("/chats", s.handleListChats)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
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
