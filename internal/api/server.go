// Package api provides the read-only HTTP API over the mirrored catalog:
// books, change history, statistics, and daily reports. Every endpoint
// except the health check requires a Bearer API key and counts against the
// key's hourly quota.
package api

import (
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/filerskeepers/bookwatch/internal/auth"
	"github.com/filerskeepers/bookwatch/internal/ratelimit"
	"github.com/filerskeepers/bookwatch/internal/report"
	"github.com/filerskeepers/bookwatch/internal/search"
	"github.com/filerskeepers/bookwatch/internal/store"
)

const defaultQuotaPerHour = 100

// Server holds dependencies for the HTTP API handlers.
type Server struct {
	store   *store.Store
	search  *search.SearchIndex
	keys    *auth.APIKeyService
	reports *report.Generator
	limiter *ratelimit.KeyedRateLimiter

	router *chi.Mux
	api    huma.API
	logger *slog.Logger

	version      string
	quotaPerHour int
}

// Options configures the API server.
type Options struct {
	Version      string // reported by the health endpoint
	QuotaPerHour int    // requests allowed per API key per hour
}

// NewServer creates the HTTP server with all routes configured.
func NewServer(st *store.Store, idx *search.SearchIndex, keys *auth.APIKeyService, reports *report.Generator, opts Options, logger *slog.Logger) *Server {
	if opts.QuotaPerHour <= 0 {
		opts.QuotaPerHour = defaultQuotaPerHour
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		store:   st,
		search:  idx,
		keys:    keys,
		reports: reports,
		// Token bucket sized to the full hourly quota, refilled evenly
		// across the hour.
		limiter:      ratelimit.New(float64(opts.QuotaPerHour)/3600.0, opts.QuotaPerHour),
		router:       chi.NewRouter(),
		logger:       logger,
		version:      opts.Version,
		quotaPerHour: opts.QuotaPerHour,
	}

	s.setupMiddleware()

	humaConfig := huma.DefaultConfig("Bookwatch API", opts.Version)
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearer": {
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "API key",
		},
	}
	s.api = humachi.New(s.router, humaConfig)
	RegisterErrorHandler()

	s.registerHealthRoutes()
	s.registerBookRoutes()
	s.registerChangeRoutes()
	s.registerStatsRoutes()
	s.registerReportRoutes()

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the per-key quota limiter.
func (s *Server) Close() {
	s.limiter.Stop()
}

// setupMiddleware configures the middleware stack.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}
