// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/tag-gallery/internal/logging"
	"github.com/tag-gallery/internal/metrics"
	"github.com/tag-gallery/internal/ratelimit"
	"github.com/tag-gallery/internal/service"
	"github.com/tag-gallery/internal/storage"
)

// GalleryService defines the session operations the API serves
type GalleryService interface {
	CreateSession(input service.FilterInput) (*service.Session, <-chan struct{}, error)
	Session(id string) (*service.Session, error)
	SetFilter(id string, input service.FilterInput) (<-chan struct{}, error)
	LoadMore(id string) (<-chan struct{}, error)
	Refresh(id string) (<-chan struct{}, error)
	View(id string) (*service.ViewState, error)
	Subscribe(id string) (<-chan *service.ViewState, func(), error)
	CloseSession(id string) error
	SessionCount() int
	CacheStats() storage.CacheStats
}

// BudgetReporter reports upstream budget consumption for the health endpoint
type BudgetReporter interface {
	GetUsage(ctx context.Context) (*ratelimit.UsageStats, error)
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	gallery     GalleryService
	budget      BudgetReporter
	metrics     *metrics.Metrics
	rateLimiter *RateLimiter
	upgrader    websocket.Upgrader
	logger      *logging.Logger
	config      *ServerConfig

	closing   chan struct{}
	closeOnce sync.Once
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	RequestsPerSecond int
	Burst             int
	MaxWait           time.Duration // upper bound for ?wait= on mutating calls
}

// ServerOption customizes a Server
type ServerOption func(*Server)

// WithMetrics exposes /metrics and records request metrics
func WithMetrics(m *metrics.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithBudgetReporter adds upstream budget usage to /health
func WithBudgetReporter(b BudgetReporter) ServerOption {
	return func(s *Server) { s.budget = b }
}

// WithLogger sets the server logger
func WithLogger(l *logging.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, gallery GalleryService, opts ...ServerOption) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		gallery: gallery,
		logger:  logging.GetGlobalLogger(),
		config:  config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("api")
	if s.config.MaxWait <= 0 {
		s.config.MaxWait = 10 * time.Second
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.rateLimiter = NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware(s.logger))
	if s.metrics != nil {
		s.router.Use(MetricsMiddleware(s.metrics))
	}
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Preflight requests only need the CORS headers.
	s.router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(s.rateLimiter))

	// The stream is long-lived and must not be gzipped.
	api.HandleFunc("/sessions/{id}/stream", s.handleStream).Methods("GET")

	sessions := api.PathPrefix("/sessions").Subrouter()
	sessions.Use(CompressionMiddleware)
	sessions.HandleFunc("", s.handleCreateSession).Methods("POST")
	sessions.HandleFunc("/{id}", s.handleGetSession).Methods("GET")
	sessions.HandleFunc("/{id}", s.handleDeleteSession).Methods("DELETE")
	sessions.HandleFunc("/{id}/filter", s.handleSetFilter).Methods("PUT")
	sessions.HandleFunc("/{id}/more", s.handleLoadMore).Methods("POST")
	sessions.HandleFunc("/{id}/refresh", s.handleRefresh).Methods("POST")
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// RateLimiter returns the per-client limiter so idle clients can be reaped.
func (s *Server) RateLimiter() *RateLimiter {
	return s.rateLimiter
}

// handleHealth reports liveness together with cache and budget figures.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":   "healthy",
		"service":  "tag-gallery",
		"sessions": s.gallery.SessionCount(),
		"cache":    s.gallery.CacheStats(),
	}
	if s.budget != nil {
		usage, err := s.budget.GetUsage(r.Context())
		if err != nil {
			body["budget"] = map[string]string{"error": err.Error()}
		} else {
			body["budget"] = usage
		}
	}
	respondJSON(w, http.StatusOK, body)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server. Open streams are told to close
// since hijacked connections are not tracked by http.Server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	s.closeOnce.Do(func() { close(s.closing) })
	return s.httpServer.Shutdown(ctx)
}
