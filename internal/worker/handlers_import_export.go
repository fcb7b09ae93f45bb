package worker

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiro-memory/internal/porter"
)

// handleExport streams the store as JSONL.
func (s *Service) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", `attachment; filename="kiro-memory-export.jsonl"`)

	// Headers are already out once the first line is written; a failure
	// mid-stream leaves the client with a truncated file.
	if _, err := s.engine.Export(r.Context(), w, porter.ExportOptions{
		Project: r.URL.Query().Get("project"),
	}); err != nil {
		log.Warn().Err(err).Msg("Export aborted mid-stream")
	}
}

// handleImport reads JSONL records from the request body.
func (s *Service) handleImport(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	dryRun := r.URL.Query().Get("dry_run") == "true"
	result, err := s.engine.Import(r.Context(), r.Body, porter.ImportOptions{DryRun: dryRun})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.broadcaster.Broadcast(map[string]interface{}{
		"type":     "import_completed",
		"imported": result.Imported,
		"skipped":  result.Skipped,
		"errors":   result.Errors,
	})
	writeJSON(w, result)
}

// handleCreateBackup snapshots the database and rotates old snapshots.
func (s *Service) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.CreateBackup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, entry)
}

// handleListBackups returns the available snapshots, newest first.
func (s *Service) handleListBackups(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ListBackups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, map[string]interface{}{"backups": entries})
}
