package sqlite

import (
	"context"
	"database/sql"

	"github.com/thebtf/kiro-memory/pkg/models"
)

// Export scans and raw inserts for the JSONL porter. Export walks each
// family in (created_at_epoch ASC, id ASC) order so the stream is stable
// and resumable; import inserts rows with their original timestamps, which
// the regular create paths would overwrite.

// ExportScanObservations returns the next batch of observations after the
// (afterEpoch, afterID) keyset position, oldest first. Project empty means
// all projects.
func (s *Store) ExportScanObservations(ctx context.Context, project string, afterEpoch, afterID int64, limit int) ([]*models.Observation, error) {
	query := `SELECT ` + observationColumns + `
		FROM observations
		WHERE (created_at_epoch > ? OR (created_at_epoch = ? AND id > ?))`
	args := []interface{}{afterEpoch, afterEpoch, afterID}

	if project != "" {
		query += ` AND project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at_epoch ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// ExportScanSummaries returns the next batch of summaries, oldest first.
func (s *Store) ExportScanSummaries(ctx context.Context, project string, afterEpoch, afterID int64, limit int) ([]*models.Summary, error) {
	query := `SELECT ` + summaryColumns + `
		FROM session_summaries
		WHERE (created_at_epoch > ? OR (created_at_epoch = ? AND id > ?))`
	args := []interface{}{afterEpoch, afterEpoch, afterID}

	if project != "" {
		query += ` AND project = ?`
		args = append(args, project)
	}
	query += ` ORDER BY created_at_epoch ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSummaryRows(rows)
}

// ExportScanPrompts returns the next batch of prompts, oldest first. A
// project filter narrows to prompts of that project's sessions.
func (s *Store) ExportScanPrompts(ctx context.Context, project string, afterEpoch, afterID int64, limit int) ([]*models.Prompt, error) {
	query := `SELECT p.id, p.content_session_id, p.prompt_number, p.prompt_text, p.created_at, p.created_at_epoch
		FROM user_prompts p`
	args := []interface{}{}

	if project != "" {
		query += ` JOIN sessions s ON s.external_session_id = p.content_session_id
			WHERE s.project = ? AND (p.created_at_epoch > ? OR (p.created_at_epoch = ? AND p.id > ?))`
		args = append(args, project, afterEpoch, afterEpoch, afterID)
	} else {
		query += ` WHERE (p.created_at_epoch > ? OR (p.created_at_epoch = ? AND p.id > ?))`
		args = append(args, afterEpoch, afterEpoch, afterID)
	}
	query += ` ORDER BY p.created_at_epoch ASC, p.id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []*models.Prompt
	for rows.Next() {
		prompt, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, prompt)
	}
	return prompts, rows.Err()
}

// ExportCounts returns per-family row counts for the meta block.
func (s *Store) ExportCounts(ctx context.Context, project string) (observations, summaries, prompts int64, err error) {
	if project == "" {
		err = s.db.QueryRowContext(ctx, `
			SELECT
				(SELECT COUNT(*) FROM observations),
				(SELECT COUNT(*) FROM session_summaries),
				(SELECT COUNT(*) FROM user_prompts)
		`).Scan(&observations, &summaries, &prompts)
		return
	}
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM observations WHERE project = ?),
			(SELECT COUNT(*) FROM session_summaries WHERE project = ?),
			(SELECT COUNT(*) FROM user_prompts p
			 JOIN sessions s ON s.external_session_id = p.content_session_id
			 WHERE s.project = ?)
	`, project, project, project).Scan(&observations, &summaries, &prompts)
	return
}

// ObservationHashExists reports whether any row carries the content hash,
// regardless of age. Import dedup has no time window.
func ObservationHashExists(ctx context.Context, tx Querier, contentHash string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM observations WHERE content_hash = ? LIMIT 1", contentHash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SummaryKeyExists reports whether a summary with the import dedup key
// exists.
func SummaryKeyExists(ctx context.Context, tx Querier, sessionID, project string, createdAtEpoch int64) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM session_summaries
		WHERE session_id = ? AND project = ? AND created_at_epoch = ?
		LIMIT 1
	`, sessionID, project, createdAtEpoch).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PromptKeyExists reports whether a prompt with the import dedup key exists.
func PromptKeyExists(ctx context.Context, tx Querier, sessionID string, promptNumber int) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `
		SELECT 1 FROM user_prompts
		WHERE content_session_id = ? AND prompt_number = ?
		LIMIT 1
	`, sessionID, promptNumber).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// InsertObservationRaw inserts an observation preserving its original
// timestamps, hash, and category.
func InsertObservationRaw(ctx context.Context, tx Querier, obs *models.Observation) error {
	autoCategory := obs.AutoCategory
	if autoCategory == "" {
		autoCategory = "general"
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO observations
		(session_id, project, type, title, subtitle, text, narrative, facts, concepts,
		 files_read, files_modified, prompt_number, content_hash, discovery_tokens,
		 auto_category, last_accessed_epoch, stale, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, obs.SessionID, obs.Project, string(obs.Type), obs.Title,
		obs.Subtitle, obs.Text, obs.Narrative, obs.Facts, obs.Concepts,
		obs.FilesRead, obs.FilesModified, obs.PromptNumber, obs.ContentHash,
		obs.DiscoveryTokens, autoCategory, obs.LastAccessed, boolToInt(obs.Stale),
		obs.CreatedAt, obs.CreatedAtEpoch)
	return err
}

// InsertSummaryRaw inserts a summary preserving its original timestamps.
func InsertSummaryRaw(ctx context.Context, tx Querier, summary *models.Summary) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO session_summaries
		(session_id, project, request, investigated, learned, completed, next_steps, notes,
		 created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, summary.SessionID, summary.Project, summary.Request, summary.Investigated,
		summary.Learned, summary.Completed, summary.NextSteps, summary.Notes,
		summary.CreatedAt, summary.CreatedAtEpoch)
	return err
}

// InsertPromptRaw inserts a prompt preserving its original timestamps.
func InsertPromptRaw(ctx context.Context, tx Querier, prompt *models.Prompt) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO user_prompts
		(content_session_id, prompt_number, prompt_text, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)
	`, prompt.ContentSessionID, prompt.PromptNumber, prompt.Text,
		prompt.CreatedAt, prompt.CreatedAtEpoch)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
