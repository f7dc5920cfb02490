// Package web exposes the load engine over a small JSON API.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/stageload/internal/config"
	"github.com/JonMunkholm/stageload/internal/core"
	"github.com/JonMunkholm/stageload/internal/metrics"
	"github.com/JonMunkholm/stageload/internal/settings"
	mw "github.com/JonMunkholm/stageload/internal/web/middleware"
)

// Server is the HTTP front end of a load Service.
type Server struct {
	service  *core.Service
	settings *settings.Settings
	metrics  *metrics.Metrics
	cfg      *config.Config
	router   *chi.Mux
	server   *http.Server
	limiters []*rateLimiter
}

// NewServer creates a Server. m may be nil.
func NewServer(service *core.Service, st *settings.Settings, m *metrics.Metrics, cfg *config.Config) *Server {
	s := &Server{
		service:  service,
		settings: st,
		metrics:  m,
		cfg:      cfg,
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	if s.metrics.IsEnabled() {
		s.router.Handle(s.cfg.Metrics.Path, s.metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(&s.cfg.Security))

		// Loads run as long as LOAD_TIMEOUT allows, so they sit outside
		// the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit(s.cfg.Rate.LoadLimit))
			r.Post("/load", s.handleLoad)
			r.Post("/load/{fileType}", s.handleLoad)
		})

		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
			}
			r.Use(s.rateLimit(s.cfg.Rate.RequestsPerMinute))
			r.Get("/file-types", s.handleFileTypes)
			r.Get("/permissions", s.handlePermissions)
			r.Get("/loads", s.handleLoads)
			r.Get("/loads/{loadID}", s.handleLoadResult)
			r.Get("/status", s.handleStatus)
		})
	})
}

// rateLimit returns per-IP limiting middleware, or a pass-through when
// rate limiting is off.
func (s *Server) rateLimit(perMinute int) func(http.Handler) http.Handler {
	if !s.cfg.Rate.Enabled || perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := newRateLimiter(perMinute)
	s.limiters = append(s.limiters, rl)
	return rl.middleware(s.respondError)
}

// Start listens on addr until Shutdown.
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

// Shutdown stops accepting requests, then waits for in-flight loads to
// finish or ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	for _, rl := range s.limiters {
		rl.stop()
	}
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	return s.service.Limiter().WaitForDrain(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// clientIP is RemoteAddr without its port. TrustedRealIP has already
// replaced it with the forwarded address for trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
