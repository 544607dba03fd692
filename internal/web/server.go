// Package web provides the HTTP API for inspecting tables and loading them
// into PostgreSQL.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/anycsv/internal/config"
	"github.com/JonMunkholm/anycsv/internal/pgload"
	mw "github.com/JonMunkholm/anycsv/internal/web/middleware"
)

// Loader copies a table into the database. *pgload.Loader satisfies it.
type Loader interface {
	Load(ctx context.Context, src pgload.RowSource, target pgload.Target) (*pgload.Result, error)
}

// Server is the HTTP server for the anycsv API.
type Server struct {
	cfg     *config.Config
	loader  Loader
	limiter *AcquireLimiter
	client  *http.Client // nil when private URLs are allowed
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server. A nil loader disables /api/load.
func NewServer(cfg *config.Config, loader Loader) *Server {
	s := &Server{
		cfg:     cfg,
		loader:  loader,
		limiter: NewAcquireLimiter(cfg.Acquire.MaxConcurrent, cfg.Acquire.MaxWaitTime),
		router:  chi.NewRouter(),
	}
	if !cfg.Acquire.AllowPrivateURLs {
		s.client = publicOnlyClient(cfg.CSV.Timeout)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5, "application/json"))
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))

		r.Get("/status", s.handleStatus)

		// Inspection is bounded by the request timeout; loads carry their
		// own, longer deadline.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
			r.Get("/inspect", s.handleInspect)
			r.Post("/inspect", s.handleInspect)
		})
		r.Post("/load/{table}", s.handleLoad)
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then waits for open tables to close.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if n := s.limiter.ActiveCount(); n > 0 {
		slog.Info("waiting for acquisitions to finish", "active", n)
	}
	return s.limiter.WaitForDrain(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Limiter returns the acquisition limiter.
func (s *Server) Limiter() *AcquireLimiter {
	return s.limiter
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")

			// The API serves only JSON.
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}

			next.ServeHTTP(w, r)
		})
	}
}
