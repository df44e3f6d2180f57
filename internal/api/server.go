// Package api exposes the orchestrator to operators over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"trading-monitor/internal/alert"
	"trading-monitor/internal/orchestrator"
)

// Monitor is the orchestrator surface served by the API.
type Monitor interface {
	RunCycle(ctx context.Context) orchestrator.CycleResult
	ActiveAlerts(f orchestrator.Filter) []*alert.Alert
	AlertHistory(f orchestrator.Filter) []*alert.Alert
	Acknowledge(ctx context.Context, id string) (*alert.Alert, bool, error)
	Resolve(ctx context.Context, id string) (*alert.Alert, bool, error)
	Suppress(ctx context.Context, id string) (*alert.Alert, bool, error)
	Unsuppress(ctx context.Context, id string) (*alert.Alert, bool, error)
	ServiceStatus() orchestrator.Status
	GenerateComprehensiveReport() string
}

// Config holds server configuration.
type Config struct {
	Listen      string
	CORSOrigins []string
	Log         zerolog.Logger
	Monitor     Monitor
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Server is the operator HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	monitor  Monitor
	gatherer prometheus.Gatherer
}

// New creates the server and its routes.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "api").Logger(),
		monitor:  cfg.Monitor,
		gatherer: cfg.Gatherer,
	}

	s.setupMiddleware(cfg.CORSOrigins)
	s.setupRoutes()

	listen := cfg.Listen
	if listen == "" {
		listen = ":8080"
	}
	s.server = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(origins []string) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(75 * time.Second))

	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/status", s.handleStatus)
	s.router.Get("/report", s.handleReport)
	s.router.Post("/cycle", s.handleCycle)

	s.router.Route("/alerts", func(r chi.Router) {
		r.Get("/active", s.handleActive)
		r.Get("/history", s.handleHistory)
		r.Post("/{id}/{action}", s.handleTransition)
	})

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("listen", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
