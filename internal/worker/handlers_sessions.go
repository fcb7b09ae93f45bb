package worker

import (
	"net/http"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
)

// handleSessionInit creates or resumes a session for an external id.
func (s *Service) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Project   string `json:"project"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, err := s.engine.GetOrCreateSession(r.Context(), req.SessionID, req.Project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.broadcaster.Broadcast(map[string]interface{}{
		"type":    "session_started",
		"session": session.ExternalID,
		"project": session.Project,
	})
	writeJSON(w, session)
}

// handleSessionComplete moves a session to its terminal status.
func (s *Service) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Failed    bool   `json:"failed"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	if req.Failed {
		err = s.engine.FailSession(r.Context(), req.SessionID)
	} else {
		err = s.engine.CompleteSession(r.Context(), req.SessionID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

// handleStorePrompt records one user prompt.
func (s *Service) handleStorePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID    string `json:"session_id"`
		PromptNumber int    `json:"prompt_number"`
		Text         string `json:"text"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.engine.StorePrompt(r.Context(), req.SessionID, req.PromptNumber, req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]int64{"id": id})
}

// handleStoreSummary records an end-of-session digest.
func (s *Service) handleStoreSummary(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID    string `json:"session_id"`
		Project      string `json:"project"`
		Request      string `json:"request"`
		Investigated string `json:"investigated"`
		Learned      string `json:"learned"`
		Completed    string `json:"completed"`
		NextSteps    string `json:"next_steps"`
		Notes        string `json:"notes"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.engine.StoreSummary(r.Context(), sqlite.CreateSummaryParams{
		SessionID:    req.SessionID,
		Project:      req.Project,
		Request:      req.Request,
		Investigated: req.Investigated,
		Learned:      req.Learned,
		Completed:    req.Completed,
		NextSteps:    req.NextSteps,
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.broadcaster.Broadcast(map[string]interface{}{
		"type":    "summary_stored",
		"id":      id,
		"project": req.Project,
	})
	writeJSON(w, map[string]int64{"id": id})
}
