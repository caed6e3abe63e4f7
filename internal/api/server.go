// Package api serves the assistant over HTTP: job submission, per-job
// event streams as Server-Sent Events, job administration and a direct
// chat passthrough.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rendis/scenecraft/internal/diagram"
	"github.com/rendis/scenecraft/internal/jobs"
	"github.com/rendis/scenecraft/internal/llm"
	"github.com/rendis/scenecraft/pkg/schema"
)

// BasePath is where the assistant routes are mounted.
const BasePath = "/api/v1/ai"

// Deps holds the collaborators of the server.
type Deps struct {
	Manager *jobs.Manager
	Client  llm.Client

	// APIKeys are the accepted bearer tokens. Empty disables authentication.
	APIKeys      []string
	DefaultModel string

	// Workflow, if set, is served at GET /workflow.
	Workflow *diagram.Model

	// Metrics, if set, is served at /metrics.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the HTTP surface.
type Server struct {
	deps Deps
	keys map[string]struct{}
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.DefaultModel == "" {
		deps.DefaultModel = schema.DefaultModel
	}
	keys := make(map[string]struct{}, len(deps.APIKeys))
	for _, k := range deps.APIKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	if len(keys) == 0 {
		deps.Logger.Warn("no API keys configured, authentication disabled")
	}
	return &Server{deps: deps, keys: keys}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(s.logRequests)
	router.Use(middleware.Recoverer)
	router.Use(s.cors)

	router.Get("/healthz", s.handleHealthz)
	if s.deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	router.Route(BasePath, func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/chat", s.handleChat)
		r.Post("/scene/diagram", s.handleSceneDiagram)
		if s.deps.Workflow != nil {
			r.Get("/workflow", s.handleWorkflow)
		}
		r.Route("/assistant", func(r chi.Router) {
			r.Post("/add_job", s.handleAddJob)
			r.Get("/stream/{job_id}", s.handleStream)
			r.Get("/jobs", s.handleListJobs)
			r.Post("/jobs/{job_id}/cancel", s.handleCancelJob)
		})
	})
	return router
}
