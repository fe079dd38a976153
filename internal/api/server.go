package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/docflow/internal/config"
	"github.com/dgallion1/docflow/internal/loader"
	"github.com/dgallion1/docflow/internal/parser"
	"github.com/dgallion1/docflow/internal/pipeline"
)

// Server is the HTTP API server for docflow.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	fetcher      *loader.Fetcher
	gatherer     prometheus.Gatherer
	grammar      parser.Config
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. grammar is the default
// parser configuration for requests that do not supply one.
func NewServer(orch *pipeline.Orchestrator, fetcher *loader.Fetcher, gatherer prometheus.Gatherer, grammar parser.Config, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		fetcher:      fetcher,
		gatherer:     gatherer,
		grammar:      grammar,
		log:          log,
		cfg:          cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)

		r.Post("/load", s.handleLoad)
		r.Post("/chunk", s.handleChunk)
		r.Post("/parse", s.handleParse)

		r.Post("/runs", s.handleSubmitRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{runID}", s.handleGetRun)
		r.Delete("/runs/{runID}", s.handleDeleteRun)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
