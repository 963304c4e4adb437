// Package api exposes the HTTP interface for the lorekeep service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dmahlow/lorekeep/internal/config"
	"github.com/dmahlow/lorekeep/internal/knowledge"
	"github.com/dmahlow/lorekeep/internal/runner"
)

// Ingestor enqueues and cancels ingestion jobs.
type Ingestor interface {
	Enqueue(ctx context.Context, req runner.Request) (knowledge.IngestionJob, bool, error)
	Cancel(ctx context.Context, jobID string) error
}

// Searcher runs a federated hybrid search.
type Searcher interface {
	Search(ctx context.Context, query string, opts knowledge.SearchOptions) ([]knowledge.HybridSearchResult, error)
}

// Server wires HTTP handlers to the runner, the search federator, and the
// job store.
type Server struct {
	router   chi.Router
	ingestor Ingestor
	searcher Searcher
	jobs     knowledge.JobStore
	logger   *zap.Logger
	cfg      config.Config
}

// NewServer constructs a Server with middleware and routes. metricsHandler
// serves /metrics; pass promhttp.Handler() in production.
func NewServer(ingestor Ingestor, searcher Searcher, jobs knowledge.JobStore, metricsHandler http.Handler, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ingestor: ingestor,
		searcher: searcher,
		jobs:     jobs,
		logger:   logger,
		cfg:      cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/ingest", s.submitIngest)
		r.Post("/search", s.search)
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Post("/cancel", s.cancelJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type ingestRequest struct {
	SourceIdentifier string            `json:"source_identifier"`
	JobType          string            `json:"job_type"`
	OriginalFileName string            `json:"original_file_name"`
	Priority         int               `json:"priority"`
	Data             map[string]string `json:"data"`
}

func (s *Server) submitIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SourceIdentifier == "" {
		s.writeError(w, http.StatusBadRequest, "source_identifier is required")
		return
	}
	job, created, err := s.ingestor.Enqueue(r.Context(), runner.Request{
		JobType:          knowledge.JobType(req.JobType),
		SourceIdentifier: req.SourceIdentifier,
		OriginalFileName: req.OriginalFileName,
		Priority:         req.Priority,
		Data:             req.Data,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !created {
		s.writeError(w, http.StatusConflict, "source is already queued or processing")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.ingestor.Cancel(r.Context(), jobID); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(knowledge.StatusCancelled),
	})
}

type searchRequest struct {
	Query               string   `json:"query"`
	NumResults          int      `json:"num_results"`
	LocalWeight         float64  `json:"local_weight"`
	ExternalWeight      float64  `json:"external_weight"`
	Deduplicate         *bool    `json:"deduplicate"`
	SimilarityThreshold float64  `json:"similarity_threshold"`
	UseExternal         bool     `json:"use_external"`
	Layers              []string `json:"layers"`
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	// Deduplication is on unless the caller opts out.
	dedup := true
	if req.Deduplicate != nil {
		dedup = *req.Deduplicate
	}
	layers := make([]knowledge.MemoryLayer, 0, len(req.Layers))
	for _, l := range req.Layers {
		layers = append(layers, knowledge.MemoryLayer(l))
	}
	results, err := s.searcher.Search(r.Context(), req.Query, knowledge.SearchOptions{
		NumResults:          req.NumResults,
		LocalWeight:         req.LocalWeight,
		ExternalWeight:      req.ExternalWeight,
		Deduplicate:         dedup,
		SimilarityThreshold: req.SimilarityThreshold,
		UseExternal:         req.UseExternal,
		Layers:              layers,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"query":   req.Query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
