package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/hunger-risk-pipeline/internal/pipeline"
)

// RunSource is the orchestrator as seen by the HTTP layer.
type RunSource interface {
	sharedobs.ReadinessChecker
	LatestReport() (*pipeline.RunReport, bool)
}

// Server exposes health, readiness, metrics and run report endpoints.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and
// /v1/runs/latest routes.
func NewServer(addr string, runs RunSource, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}

	router.Get("/healthz", sharedobs.LivenessHandler())
	router.Get("/readyz", sharedobs.ReadinessHandler(runs))
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Route("/v1", func(r chi.Router) {
		r.Get("/runs/latest", handleLatestRun(runs))
	})

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func handleLatestRun(runs RunSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		report, ok := runs.LatestReport()
		if !ok {
			sharedobs.WriteJSON(w, http.StatusNotFound, map[string]string{
				"error": "no monthly run has completed yet",
			})
			return
		}
		sharedobs.WriteJSON(w, http.StatusOK, report)
	}
}
