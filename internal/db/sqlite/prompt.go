package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thebtf/kiro-memory/pkg/models"
)

const promptColumns = `id, content_session_id, prompt_number, prompt_text, created_at, created_at_epoch`

// PromptStore provides user-prompt database operations.
type PromptStore struct {
	store *Store
}

// NewPromptStore creates a new prompt store.
func NewPromptStore(store *Store) *PromptStore {
	return &PromptStore{store: store}
}

// CreatePrompt records one user prompt. (content_session_id, prompt_number)
// is unique; a replay of the same prompt returns the existing id.
func (s *PromptStore) CreatePrompt(ctx context.Context, sessionID string, promptNumber int, text string) (int64, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}
	if promptNumber <= 0 {
		return 0, fmt.Errorf("prompt number must be positive")
	}

	createdAt, createdAtEpoch := timestampPair(time.Now())
	result, err := s.store.ExecContext(ctx, `
		INSERT INTO user_prompts (content_session_id, prompt_number, prompt_text, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, promptNumber, text, createdAt, createdAtEpoch)
	if err != nil {
		if existing, lookupErr := s.GetPrompt(ctx, sessionID, promptNumber); lookupErr == nil && existing != nil {
			return existing.ID, nil
		}
		return 0, err
	}
	return result.LastInsertId()
}

// GetPrompt returns one prompt by its unique key, or nil.
func (s *PromptStore) GetPrompt(ctx context.Context, sessionID string, promptNumber int) (*models.Prompt, error) {
	query := `SELECT ` + promptColumns + ` FROM user_prompts
		WHERE content_session_id = ? AND prompt_number = ?`

	prompt, err := scanPrompt(s.store.QueryRowContext(ctx, query, sessionID, promptNumber))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return prompt, err
}

// GetRecentPrompts returns the most recent prompts for a session.
func (s *PromptStore) GetRecentPrompts(ctx context.Context, sessionID string, limit int) ([]*models.Prompt, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.store.QueryContext(ctx, `
		SELECT `+promptColumns+` FROM user_prompts
		WHERE content_session_id = ?
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT ?
	`, sessionID, limit)
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

// GetRecentPromptsByProject returns the most recent prompts across all of
// a project's sessions.
func (s *PromptStore) GetRecentPromptsByProject(ctx context.Context, project string, limit int) ([]*models.Prompt, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.store.QueryContext(ctx, `
		SELECT p.id, p.content_session_id, p.prompt_number, p.prompt_text, p.created_at, p.created_at_epoch
		FROM user_prompts p
		JOIN sessions s ON s.external_session_id = p.content_session_id
		WHERE s.project = ?
		ORDER BY p.created_at_epoch DESC, p.id DESC
		LIMIT ?
	`, project, limit)
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

func scanPrompt(scanner interface{ Scan(...interface{}) error }) (*models.Prompt, error) {
	var prompt models.Prompt
	if err := scanner.Scan(
		&prompt.ID, &prompt.ContentSessionID, &prompt.PromptNumber,
		&prompt.Text, &prompt.CreatedAt, &prompt.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &prompt, nil
}
