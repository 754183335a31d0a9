package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"newsfeed/internal/auth"
	"newsfeed/internal/config"
	"newsfeed/internal/core"
	"newsfeed/internal/feed"
	"newsfeed/internal/logger"
	"newsfeed/internal/ratelimit"
)

const defaultRequestTimeout = 120 * time.Second

// HealthChecker reports whether the database is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PreferenceService reads and writes preference records
type PreferenceService interface {
	Write(ctx context.Context, userID, rawText string) (core.PreferenceRecord, core.ConsistencyToken, error)
	Read(ctx context.Context, userID string) (*core.PreferenceRecord, error)
}

// TokenEncoder serializes a consistency token for the client
type TokenEncoder interface {
	Encode(token core.ConsistencyToken) (string, error)
}

// FeedService computes feeds and headlines
type FeedService interface {
	GetFeed(ctx context.Context, req feed.Request) (feed.Response, error)
	Headlines(ctx context.Context, category, country string) ([]core.Article, error)
}

// QuotaReporter exposes the AI quota for diagnostics
type QuotaReporter interface {
	Snapshot() ratelimit.State
}

// Deps are the services behind the HTTP API
type Deps struct {
	DB          HealthChecker
	Preferences PreferenceService
	Tokens      TokenEncoder
	Feed        FeedService
	Quota       QuotaReporter
	Verifier    auth.Verifier
	Version     string
}

// Server represents the HTTP server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     config.Server
	log        *slog.Logger
	startedAt  time.Time
}

// New creates a new HTTP server instance
func New(deps Deps, cfg config.Server) *Server {
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		log:       logger.Get(),
		startedAt: time.Now(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupMiddleware configures middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)

	// Must outlast the feed computation deadline
	timeout := s.config.WriteTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	s.router.Use(middleware.Timeout(timeout))

	if s.config.CORS.Enabled {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.config.CORS.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: false,
			MaxAge:           300, // Maximum value not ignored by any major browsers
		}))
	}

	s.router.Use(securityHeaders)
}

// setupRoutes configures routes for the server
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/status", s.handleStatus)

	s.router.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.deps.Verifier))
			r.Use(noCache)

			r.Route("/preferences", func(r chi.Router) {
				r.Get("/", s.handleGetPreferences)
				r.Post("/", s.handleSetPreferences)
			})

			r.Route("/news", func(r chi.Router) {
				r.Get("/", s.handleGetNews)
				r.Post("/", s.handlePostNews)
				r.Get("/headlines", s.handleHeadlines)
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info("Starting HTTP server",
		"addr", s.httpServer.Addr,
		"read_timeout", s.config.ReadTimeout,
		"write_timeout", s.config.WriteTimeout,
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server gracefully...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}

// Router returns the chi router instance (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
