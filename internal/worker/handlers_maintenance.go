package worker

import (
	"net/http"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
)

// handleDetectStale runs a filesystem mtime pass for a project.
func (s *Service) handleDetectStale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Project string `json:"project"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Project == "" {
		writeError(w, http.StatusBadRequest, errMissingParam("project"))
		return
	}

	marked, err := s.engine.DetectStaleObservations(r.Context(), req.Project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]int{"marked_stale": marked})
}

// handleConsolidate merges duplicate observation groups.
func (s *Service) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Project      string `json:"project"`
		MinGroupSize int    `json:"min_group_size"`
		DryRun       bool   `json:"dry_run"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Project == "" {
		writeError(w, http.StatusBadRequest, errMissingParam("project"))
		return
	}

	result, err := s.engine.ConsolidateObservations(r.Context(), req.Project, sqlite.ConsolidateOptions{
		MinGroupSize: req.MinGroupSize,
		DryRun:       req.DryRun,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, result)
}

// handleRetention runs one retention sweep with the configured policy.
func (s *Service) handleRetention(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.ApplyRetention(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, result)
}

// handleDecayStats returns decay statistics for a project.
func (s *Service) handleDecayStats(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, errMissingParam("project"))
		return
	}

	stats, err := s.engine.GetDecayStats(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, stats)
}

// handleBackfillEmbeddings embeds observations that have no vector yet.
func (s *Service) handleBackfillEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchSize int `json:"batch_size"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	embedded, err := s.engine.BackfillEmbeddings(r.Context(), req.BatchSize)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, map[string]int{"embedded": embedded})
}

// handleEmbeddingStats reports embedding coverage.
func (s *Service) handleEmbeddingStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.GetEmbeddingStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, stats)
}
