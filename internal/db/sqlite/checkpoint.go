package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thebtf/kiro-memory/pkg/models"
)

const checkpointColumns = `id, session_id, project, task, progress, next_steps,
       open_questions, relevant_files, context_snapshot, created_at, created_at_epoch`

// CheckpointStore provides checkpoint database operations.
type CheckpointStore struct {
	store *Store
}

// NewCheckpointStore creates a new checkpoint store.
func NewCheckpointStore(store *Store) *CheckpointStore {
	return &CheckpointStore{store: store}
}

// CreateCheckpointParams carries the writable fields of a checkpoint.
type CreateCheckpointParams struct {
	SessionID       string
	Project         string
	Task            string
	Progress        string
	NextSteps       string
	OpenQuestions   string
	RelevantFiles   []string
	ContextSnapshot string
}

// CreateCheckpoint inserts a resumption point and returns its id.
func (s *CheckpointStore) CreateCheckpoint(ctx context.Context, p CreateCheckpointParams) (int64, error) {
	if p.SessionID == "" {
		return 0, fmt.Errorf("session id is required")
	}
	if p.Task == "" {
		return 0, fmt.Errorf("task is required")
	}

	createdAt, createdAtEpoch := timestampPair(time.Now())
	result, err := s.store.ExecContext(ctx, `
		INSERT INTO checkpoints
		(session_id, project, task, progress, next_steps, open_questions,
		 relevant_files, context_snapshot, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.SessionID, p.Project, p.Task,
		nullString(p.Progress), nullString(p.NextSteps), nullString(p.OpenQuestions),
		models.JSONStringArray(p.RelevantFiles), nullString(p.ContextSnapshot),
		createdAt, createdAtEpoch)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetCheckpoint returns a checkpoint by id, or nil.
func (s *CheckpointStore) GetCheckpoint(ctx context.Context, id int64) (*models.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints WHERE id = ?`
	cp, err := scanCheckpoint(s.store.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

// GetLatestSessionCheckpoint returns the newest checkpoint for a session.
func (s *CheckpointStore) GetLatestSessionCheckpoint(ctx context.Context, sessionID string) (*models.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints
		WHERE session_id = ?
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT 1`

	cp, err := scanCheckpoint(s.store.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

// GetLatestProjectCheckpoint returns the newest checkpoint for a project.
func (s *CheckpointStore) GetLatestProjectCheckpoint(ctx context.Context, project string) (*models.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints
		WHERE project = ?
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT 1`

	cp, err := scanCheckpoint(s.store.QueryRowContext(ctx, query, project))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cp, err
}

func scanCheckpoint(scanner interface{ Scan(...interface{}) error }) (*models.Checkpoint, error) {
	var cp models.Checkpoint
	if err := scanner.Scan(
		&cp.ID, &cp.SessionID, &cp.Project, &cp.Task, &cp.Progress,
		&cp.NextSteps, &cp.OpenQuestions, &cp.RelevantFiles, &cp.ContextSnapshot,
		&cp.CreatedAt, &cp.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &cp, nil
}
