// Package httpapi is the edge layer: a chi router that parses requests, calls
// the check-and-load service and the stores, and wraps every response in the
// standard envelope.
package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jordanhubbard/quizhub/internal/auth"
	"github.com/jordanhubbard/quizhub/internal/health"
	"github.com/jordanhubbard/quizhub/internal/llm"
	"github.com/jordanhubbard/quizhub/internal/logging"
	"github.com/jordanhubbard/quizhub/internal/metrics"
	"github.com/jordanhubbard/quizhub/internal/ratelimit"
	"github.com/jordanhubbard/quizhub/internal/service"
	"github.com/jordanhubbard/quizhub/internal/stats"
	"github.com/jordanhubbard/quizhub/internal/store"
	"github.com/jordanhubbard/quizhub/internal/tracing"
)

// Server holds the handler dependencies.
type Server struct {
	store    store.Store
	svc      *service.Service
	authMgr  *auth.Manager
	registry *llm.Registry
	stats    *stats.Collector
	health   *health.Tracker
	metrics  *metrics.Registry
	limiter  *ratelimit.Limiter
	log      *slog.Logger

	adminKey    string
	corsOrigins []string
}

// Option configures the Server.
type Option func(*Server)

// WithStats attaches the rolling stats collector backing /api/v1/jobs/stats.
func WithStats(c *stats.Collector) Option {
	return func(s *Server) { s.stats = c }
}

// WithHealth attaches the provider health tracker reported by /health.
func WithHealth(t *health.Tracker) Option {
	return func(s *Server) { s.health = t }
}

// WithRateLimiter attaches a per-key rate limiter to the API routes.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithCORSOrigins sets the allowed CORS origins. Empty means allow-all, which
// the widget use case requires by default.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

func NewServer(st store.Store, svc *service.Service, mgr *auth.Manager, reg *llm.Registry,
	m *metrics.Registry, adminKey string, log *slog.Logger, opts ...Option) *Server {
	s := &Server{
		store:    st,
		svc:      svc,
		authMgr:  mgr,
		registry: reg,
		metrics:  m,
		adminKey: adminKey,
		log:      log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router assembles the full route tree with middleware.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.RequestLogger(s.log))
	r.Use(tracing.Middleware())
	r.Use(s.measure)

	origins := s.corsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Admin-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		MaxAge:           300,
		AllowCredentials: false,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method("GET", "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}

		// Publisher endpoints, keyed by X-API-Key.
		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(s.authMgr))
			r.Get("/questions/check-and-load", s.handleCheckAndLoad)
			r.Get("/questions/by-url", s.handleQuestionsByURL)
			r.Post("/jobs/process", s.handleJobsProcess)
			r.Post("/qa/ask", s.handleQAAsk)
		})

		// Admin endpoints, keyed by X-Admin-Key.
		r.Group(func(r chi.Router) {
			r.Use(auth.AdminMiddleware(s.adminKey))
			r.Get("/jobs/status/{job_id}", s.handleJobStatus)
			r.Get("/jobs/stats", s.handleJobStats)
			r.Post("/jobs/cancel/{job_id}", s.handleJobCancel)

			r.Post("/publishers", s.handlePublisherCreate)
			r.Get("/publishers", s.handlePublisherList)
			r.Get("/publishers/{id}", s.handlePublisherGet)
			r.Put("/publishers/{id}", s.handlePublisherUpdate)
			r.Delete("/publishers/{id}", s.handlePublisherDelete)
			r.Post("/publishers/{id}/regenerate-key", s.handlePublisherRegenerateKey)
		})
	})

	return r
}

// measure records request count and latency per route pattern.
func (s *Server) measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.RequestLatency.WithLabelValues(route).
			Observe(float64(time.Since(start).Milliseconds()))
	})
}

// handleHealth reports liveness plus provider health. Any provider in the
// down state degrades the overall report without failing the probe.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	var providers []health.Stats
	if s.health != nil {
		providers = s.health.AllStats()
		for _, p := range providers {
			if p.State != health.StateHealthy {
				status = "degraded"
				break
			}
		}
	}

	result := map[string]any{"status": status}
	if providers != nil {
		result["providers"] = providers
	}
	if counts, err := s.store.CountQueueByStatus(r.Context()); err == nil {
		result["queue"] = counts
	}
	writeSuccess(w, r, http.StatusOK, "healthy", result)
}
