package api

import (
	"net/http"
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	active := 0
	for _, snap := range s.orchestrator.ListJobs() {
		if !snap.Status.Terminal() {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"stages":      s.orchestrator.Coordinator().Metrics.StageStats(),
		"queue_depth": s.orchestrator.QueueDepth(),
		"active_runs": active,
	})
}
