package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docflow/internal/chunker"
	"github.com/dgallion1/docflow/internal/parser"
	"github.com/dgallion1/docflow/internal/pipeline"
	"github.com/dgallion1/docflow/internal/runstore"
)

type runRequest struct {
	Source  sourceRequest   `json:"source"`
	Chunk   *chunker.Config `json:"chunk,omitempty"`
	Grammar *parser.Config  `json:"grammar,omitempty"`
}

// handleSubmitRun queues an asynchronous pipeline run.
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	req := pipeline.Request{
		Chunk: s.cfg.ChunkConfig(),
		Parse: s.grammar,
	}

	var err error
	if isMultipart(r) {
		req.Source, req.Load, err = s.multipartSource(w, r)
		if err == nil {
			// Optional chunk config overrides.
			if n, ok := formInt(r, "max_chunk_size"); ok {
				req.Chunk.MaxChunkSize = n
			}
			if n, ok := formInt(r, "min_chunk_size"); ok {
				req.Chunk.MinChunkSize = n
			}
			if n, ok := formInt(r, "overlap_size"); ok {
				req.Chunk.OverlapSize = n
			}
		}
	} else {
		var body runRequest
		if err = decodeJSON(r, &body); err == nil {
			req.Source, req.Load, err = s.jsonSource(body.Source)
			if body.Chunk != nil {
				req.Chunk = *body.Chunk
			}
			if body.Grammar != nil {
				req.Parse = *body.Grammar
			}
		}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	// Reject bad configs now rather than as a failed run.
	if _, err := req.Chunk.Validate(); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if _, err := parser.Compile(req.Parse); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := pipeline.NewJob(req)
	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":   job.ID,
		"status":   pipeline.StatusQueued,
		"poll_url": fmt.Sprintf("/api/runs/%s", job.ID),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	results, err := s.orchestrator.Store().List(r.Context())
	if err != nil {
		jsonError(w, "failed to list runs: "+err.Error(), http.StatusInternalServerError)
		return
	}
	var active []pipeline.JobSnapshot
	for _, snap := range s.orchestrator.ListJobs() {
		if !snap.Status.Terminal() {
			active = append(active, snap)
		}
	}
	if active == nil {
		active = []pipeline.JobSnapshot{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": active, "results": results})
}

// handleGetRun returns the stored result of a finished run, or the progress
// of one still in flight.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	res, err := s.orchestrator.Store().Get(r.Context(), runID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"run_id": runID,
			"status": res.Outcome(),
			"result": res,
		})
		return
	case !errors.Is(err, runstore.ErrNotFound):
		jsonError(w, "failed to read run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	job := s.orchestrator.GetJob(runID)
	if job == nil {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":   snap.ID,
		"status":   snap.Status,
		"progress": snap.Progress,
	})
}

// handleDeleteRun cancels a run in flight and removes any stored result.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	known := s.orchestrator.GetJob(runID) != nil
	cancelled := s.orchestrator.Cancel(runID)

	err := s.orchestrator.Store().Delete(r.Context(), runID)
	switch {
	case err == nil:
		known = true
	case !errors.Is(err, runstore.ErrNotFound):
		jsonError(w, "failed to delete run: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if !known {
		jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if !cancelled {
		s.orchestrator.Forget(runID)
	}
	s.log.Info("run deleted", "run_id", runID, "cancelled", cancelled)
	w.WriteHeader(http.StatusNoContent)
}
