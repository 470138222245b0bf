package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/microknowledge/atlas/internal/storage"
)

// Server is the atlas HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. MCPServer is optional (nil = disabled).
type ServerConfig struct {
	DB      *storage.DB
	Service TopicService
	Logger  *slog.Logger

	MCPServer *mcpserver.MCPServer

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
	DefaultTopK  int
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:          cfg.DB,
		Service:     cfg.Service,
		Logger:      cfg.Logger,
		Version:     cfg.Version,
		DefaultTopK: cfg.DefaultTopK,
	})

	mux := http.NewServeMux()

	// Ingestion.
	mux.HandleFunc("POST /ideas", h.HandleCreateIdea)

	// Retrieval.
	mux.HandleFunc("GET /neighbors", h.HandleNearby)
	mux.HandleFunc("GET /nearby", h.HandleNearby)
	mux.HandleFunc("GET /supportive", h.HandleSupportive)
	mux.HandleFunc("GET /opposing", h.HandleOpposing)
	mux.HandleFunc("GET /relations", h.HandleRelations)

	// Topic tree and map.
	mux.HandleFunc("GET /topics", h.HandleTopics)
	mux.HandleFunc("GET /map", h.HandleMap)

	// Jobs.
	mux.HandleFunc("POST /jobs/recluster", h.HandleRecluster)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health.
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
