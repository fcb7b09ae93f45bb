package worker

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiro-memory/internal/engine"
)

// errNotFound is the generic 404 body.
var errNotFound = fmt.Errorf("not found")

// errMissingParam builds the standard missing-parameter error.
func errMissingParam(name string) error {
	return fmt.Errorf("%s parameter is required", name)
}

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// decodeBody decodes a JSON request body into dst.
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// queryInt reads an integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

// queryInt64 reads an int64 query parameter, falling back to def.
func queryInt64(r *http.Request, key string, def int64) int64 {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	}
	return def
}

// handleHealth reports liveness, version, and uptime.
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleGetContext returns the project's recent activity for session-start
// injection.
func (s *Service) handleGetContext(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, errMissingParam("project"))
		return
	}

	result, err := s.engine.GetContext(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, result)
}

// handleSmartContext returns a token-budgeted context selection.
func (s *Service) handleSmartContext(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, http.StatusBadRequest, errMissingParam("project"))
		return
	}

	result, err := s.engine.BuildSmartContext(r.Context(), project, engine.SmartContextOptions{
		Query:       r.URL.Query().Get("query"),
		TokenBudget: queryInt64(r, "token_budget", 0),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, result)
}

// handleReport returns aggregate activity analytics.
func (s *Service) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.GenerateReport(r.Context(), engine.ReportOptions{
		Project:    r.URL.Query().Get("project"),
		Period:     engine.ReportPeriod(r.URL.Query().Get("period")),
		StartEpoch: queryInt64(r, "start_epoch", 0),
		EndEpoch:   queryInt64(r, "end_epoch", 0),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, report)
}
