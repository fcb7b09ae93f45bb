package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thebtf/kiro-memory/pkg/models"
)

const summaryColumns = `id, session_id, project, request, investigated, learned,
       completed, next_steps, notes, created_at, created_at_epoch`

// SummaryStore provides session-summary database operations.
type SummaryStore struct {
	store *Store
}

// NewSummaryStore creates a new summary store.
func NewSummaryStore(store *Store) *SummaryStore {
	return &SummaryStore{store: store}
}

// CreateSummaryParams carries the writable fields of a session summary.
type CreateSummaryParams struct {
	SessionID    string
	Project      string
	Request      string
	Investigated string
	Learned      string
	Completed    string
	NextSteps    string
	Notes        string
}

// CreateSummary inserts an end-of-session digest and returns its id.
func (s *SummaryStore) CreateSummary(ctx context.Context, p CreateSummaryParams) (int64, error) {
	if p.SessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}
	if p.Project == "" {
		return 0, fmt.Errorf("project is required")
	}

	createdAt, createdAtEpoch := timestampPair(time.Now())
	result, err := s.store.ExecContext(ctx, `
		INSERT INTO session_summaries
		(session_id, project, request, investigated, learned, completed, next_steps, notes,
		 created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.SessionID, p.Project,
		nullString(p.Request), nullString(p.Investigated), nullString(p.Learned),
		nullString(p.Completed), nullString(p.NextSteps), nullString(p.Notes),
		createdAt, createdAtEpoch)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetRecentSummaries returns the most recent summaries for a project.
func (s *SummaryStore) GetRecentSummaries(ctx context.Context, project string, limit int) ([]*models.Summary, error) {
	if limit <= 0 {
		limit = 5
	}

	rows, err := s.store.QueryContext(ctx, `
		SELECT `+summaryColumns+` FROM session_summaries
		WHERE project = ?
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSummaryRows(rows)
}

// GetSummariesBySession returns all summaries for a session, newest first.
func (s *SummaryStore) GetSummariesBySession(ctx context.Context, sessionID string) ([]*models.Summary, error) {
	rows, err := s.store.QueryContext(ctx, `
		SELECT `+summaryColumns+` FROM session_summaries
		WHERE session_id = ?
		ORDER BY created_at_epoch DESC, id DESC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanSummaryRows(rows)
}

// SummaryExists reports whether a summary with the dedup key
// (session_id, project, created_at_epoch) already exists.
func (s *SummaryStore) SummaryExists(ctx context.Context, sessionID, project string, createdAtEpoch int64) (bool, error) {
	var one int
	err := s.store.QueryRowContext(ctx, `
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

func scanSummary(scanner interface{ Scan(...interface{}) error }) (*models.Summary, error) {
	var summary models.Summary
	if err := scanner.Scan(
		&summary.ID, &summary.SessionID, &summary.Project, &summary.Request,
		&summary.Investigated, &summary.Learned, &summary.Completed,
		&summary.NextSteps, &summary.Notes, &summary.CreatedAt, &summary.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &summary, nil
}

func scanSummaryRows(rows *sql.Rows) ([]*models.Summary, error) {
	var summaries []*models.Summary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}
