// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/emoki/snipr/internal/logging"
	"github.com/emoki/snipr/internal/service"
	"github.com/emoki/snipr/internal/storage"
	"github.com/emoki/snipr/internal/types"
)

// Service interfaces for dependency injection and testing

// TrackingServiceInterface defines the tracking operations the API exposes
type TrackingServiceInterface interface {
	Track(ctx context.Context, site, url string, title *string, fetchNow bool) (*service.TrackResult, error)
	Untrack(ctx context.Context, site, url string) (bool, error)
	List() []service.ScheduledItem
}

// SiteRegistry lists the supported site codes
type SiteRegistry interface {
	Sites() []types.SiteCode
}

// LogStream hands out live log subscriptions
type LogStream interface {
	Subscribe() (<-chan string, func())
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	tracking   TrackingServiceInterface
	bids       storage.BidStore
	sites      SiteRegistry
	logs       LogStream
	logger     *logging.Logger
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration // 0 keeps log streams open
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond float64
	Burst             int
	KeepAlive         time.Duration // comment line interval on log streams
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	tracking TrackingServiceInterface,
	bids storage.BidStore,
	sites SiteRegistry,
	logs LogStream,
	logger *logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = 15 * time.Second
	}

	s := &Server{
		router:   mux.NewRouter(),
		tracking: tracking,
		bids:     bids,
		sites:    sites,
		logs:     logs,
		logger:   logger.WithField("component", "api"),
		config:   config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// Set up middleware (order matters!)
	s.router.Use(RequestIDMiddleware(s.logger))
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

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
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Preflight requests only need a route to match so CORSMiddleware runs
	s.router.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/sites", s.handleSites).Methods("GET")

	// Tracking registry
	api.HandleFunc("/tracked", s.handleListTracked).Methods("GET")
	api.HandleFunc("/tracked", s.handleTrack).Methods("POST")
	api.HandleFunc("/tracked", s.handleUntrack).Methods("DELETE")

	// Snapshots
	api.HandleFunc("/latest", s.handleLatest).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/recent", s.handleRecent).Methods("GET")

	api.HandleFunc("/logs/stream", s.handleLogStream).Methods("GET")
}

// Handler returns the configured router
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "snipr",
		"jobs":    len(s.tracking.List()),
	})
}

// handleSites lists the site codes a fetcher is registered for
func (s *Server) handleSites(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sites": s.sites.Sites(),
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
