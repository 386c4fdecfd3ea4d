// Package api serves the embedding, index, and memory operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Aman-CERP/indexify/internal/embed"
	"github.com/Aman-CERP/indexify/internal/index"
	"github.com/Aman-CERP/indexify/internal/memory"
)

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Embedder is the part of the embedding router the API serves.
type Embedder interface {
	Models() []embed.ModelInfo
	GenerateEmbeddings(ctx context.Context, texts []string, model string) ([][]float32, error)
}

// Config contains the dependencies of a Server.
type Config struct {
	// Embedder is required.
	Embedder Embedder

	// Indexes may be nil; index routes then answer with an error.
	Indexes *index.Manager

	// Memory may be nil; memory routes then answer with an error.
	Memory *memory.Manager

	// RequestTimeout bounds each request. Zero disables the bound.
	RequestTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	embedder       Embedder
	indexes        *index.Manager
	memory         *memory.Manager
	requestTimeout time.Duration
	logger         *slog.Logger
	engine         *gin.Engine
}

// NewServer creates a Server and registers its routes.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("api: embedder is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		embedder:       cfg.Embedder,
		indexes:        cfg.Indexes,
		memory:         cfg.Memory,
		requestTimeout: cfg.RequestTimeout,
		logger:         logger,
		engine:         gin.New(),
	}
	s.engine.Use(requestID(), s.recovery(), s.accessLog(), s.timeout())
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/", s.handleRoot)

	r.GET("/embeddings/models", s.handleListModels)
	r.GET("/embeddings/generate", s.handleGenerate)
	r.POST("/embeddings/generate", s.handleGenerate)

	r.POST("/index/create", s.handleIndexCreate)
	r.POST("/index/add", s.handleIndexAdd)
	r.GET("/index/search", s.handleIndexSearch)
	r.POST("/index/search", s.handleIndexSearch)
	r.GET("/index", s.handleIndexList)
	r.GET("/index/:name", s.handleIndexDescribe)
	r.GET("/index/:name/stats", s.handleIndexStats)
	r.DELETE("/index/:name", s.handleIndexDelete)

	r.POST("/memory/create", s.handleMemoryCreate)
	r.POST("/memory/add", s.handleMemoryAdd)
	r.GET("/memory/get", s.handleMemoryGet)
	r.POST("/memory/get", s.handleMemoryGet)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("server_listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "Indexify Server")
}
