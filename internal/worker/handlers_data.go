package worker

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
	"github.com/thebtf/kiro-memory/internal/engine"
	"github.com/thebtf/kiro-memory/internal/search"
	"github.com/thebtf/kiro-memory/pkg/models"
)

// handleStoreObservation persists one hook event. Responds with the new
// id, or -1 when the dedup window suppressed the write.
func (s *Service) handleStoreObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID     string   `json:"session_id"`
		Project       string   `json:"project"`
		Type          string   `json:"type"`
		Title         string   `json:"title"`
		Subtitle      string   `json:"subtitle"`
		Text          string   `json:"text"`
		Narrative     string   `json:"narrative"`
		Facts         string   `json:"facts"`
		Concepts      string   `json:"concepts"`
		FilesRead     []string `json:"files_read"`
		FilesModified []string `json:"files_modified"`
		PromptNumber  int      `json:"prompt_number"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.engine.StoreObservation(r.Context(), engine.StoreObservationParams{
		SessionID:     req.SessionID,
		Project:       req.Project,
		Type:          models.ObservationType(req.Type),
		Title:         req.Title,
		Subtitle:      req.Subtitle,
		Text:          req.Text,
		Narrative:     req.Narrative,
		Facts:         req.Facts,
		Concepts:      req.Concepts,
		FilesRead:     req.FilesRead,
		FilesModified: req.FilesModified,
		PromptNumber:  req.PromptNumber,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if id != engine.DedupSkipped {
		s.broadcaster.Broadcast(map[string]interface{}{
			"type":    "observation_stored",
			"id":      id,
			"project": req.Project,
		})
	}
	writeJSON(w, map[string]int64{"id": id})
}

// handleStoreKnowledge persists one durable knowledge record.
func (s *Service) handleStoreKnowledge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID    string `json:"session_id"`
		Project      string `json:"project"`
		Kind         string `json:"kind"`
		Title        string `json:"title"`
		Narrative    string `json:"narrative"`
		Concepts     string `json:"concepts"`
		Importance   int    `json:"importance"`
		Rationale    string `json:"rationale"`
		Source       string `json:"source"`
		PromptNumber int    `json:"prompt_number"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.engine.StoreKnowledge(r.Context(), engine.StoreKnowledgeParams{
		SessionID:    req.SessionID,
		Project:      req.Project,
		Kind:         models.KnowledgeKind(req.Kind),
		Title:        req.Title,
		Narrative:    req.Narrative,
		Concepts:     req.Concepts,
		Importance:   req.Importance,
		Rationale:    req.Rationale,
		Source:       req.Source,
		PromptNumber: req.PromptNumber,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]int64{"id": id})
}

// handleListObservations returns one keyset page of a project's
// observations.
func (s *Service) handleListObservations(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, errMissingParam("project"))
		return
	}

	page, err := s.engine.ListObservations(r.Context(), project,
		queryInt(r, "limit", 0), r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, page)
}

// handleGetObservation returns one observation by id.
func (s *Service) handleGetObservation(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	obs, err := s.engine.GetObservation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if obs == nil {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, obs)
}

// handleTimeline returns observations around an anchor in project time
// order.
func (s *Service) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	observations, err := s.engine.Timeline(r.Context(), id,
		queryInt(r, "before", 0), queryInt(r, "after", 0))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]interface{}{"observations": observations})
}

// searchOptionsFromQuery translates query parameters into search options.
func searchOptionsFromQuery(r *http.Request) search.Options {
	return search.Options{
		Project: r.URL.Query().Get("project"),
		Type:    r.URL.Query().Get("type"),
		Since:   queryInt64(r, "since", 0),
		Until:   queryInt64(r, "until", 0),
		Limit:   queryInt(r, "limit", 0),
	}
}

// handleSearch runs a hybrid search.
func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, errMissingParam("q"))
		return
	}

	results, err := s.engine.SearchAdvanced(r.Context(), query, searchOptionsFromQuery(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"results": results})
}

// handleSemanticSearch runs the vector half only.
func (s *Service) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, errMissingParam("q"))
		return
	}

	results, err := s.engine.SemanticSearch(r.Context(), query, searchOptionsFromQuery(r))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, map[string]interface{}{"results": results})
}

// handleCreateCheckpoint stores a resumption point.
func (s *Service) handleCreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID       string   `json:"session_id"`
		Project         string   `json:"project"`
		Task            string   `json:"task"`
		Progress        string   `json:"progress"`
		NextSteps       string   `json:"next_steps"`
		OpenQuestions   string   `json:"open_questions"`
		RelevantFiles   []string `json:"relevant_files"`
		ContextSnapshot string   `json:"context_snapshot"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.engine.CreateCheckpoint(r.Context(), sqlite.CreateCheckpointParams{
		SessionID:       req.SessionID,
		Project:         req.Project,
		Task:            req.Task,
		Progress:        req.Progress,
		NextSteps:       req.NextSteps,
		OpenQuestions:   req.OpenQuestions,
		RelevantFiles:   req.RelevantFiles,
		ContextSnapshot: req.ContextSnapshot,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]int64{"id": id})
}

// handleGetCheckpoint returns one checkpoint by id.
func (s *Service) handleGetCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	cp, err := s.engine.GetCheckpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, cp)
}

// handleLatestCheckpoint returns a project's newest checkpoint.
func (s *Service) handleLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, errMissingParam("project"))
		return
	}

	cp, err := s.engine.GetLatestProjectCheckpoint(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cp == nil {
		writeError(w, http.StatusNotFound, errNotFound)
		return
	}
	writeJSON(w, cp)
}
