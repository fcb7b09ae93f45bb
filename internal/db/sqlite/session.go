package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thebtf/kiro-memory/pkg/models"
)

const sessionColumns = `id, external_session_id, project, status, prompt_counter,
       started_at, started_at_epoch, completed_at, completed_at_epoch`

// SessionStore provides session-related database operations.
type SessionStore struct {
	store *Store
}

// NewSessionStore creates a new session store.
func NewSessionStore(store *Store) *SessionStore {
	return &SessionStore{store: store}
}

// GetOrCreateSession returns the session for an external id, creating an
// active one if none exists. Project and external id are immutable once set;
// a lookup hit ignores the project argument.
func (s *SessionStore) GetOrCreateSession(ctx context.Context, externalID, project string) (*models.Session, error) {
	if externalID == "" {
		return nil, fmt.Errorf("external session id is required")
	}

	session, err := s.GetSessionByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	startedAt, startedAtEpoch := timestampPair(time.Now())
	result, err := s.store.ExecContext(ctx, `
		INSERT INTO sessions (external_session_id, project, status, started_at, started_at_epoch)
		VALUES (?, ?, 'active', ?, ?)
	`, externalID, project, startedAt, startedAtEpoch)
	if err != nil {
		// A racing creator may have inserted the row between the read and
		// the write; the unique index makes the insert lose, not the data.
		if existing, lookupErr := s.GetSessionByExternalID(ctx, externalID); lookupErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Session{
		ID:             id,
		ExternalID:     externalID,
		Project:        project,
		Status:         models.SessionActive,
		StartedAt:      startedAt,
		StartedAtEpoch: startedAtEpoch,
	}, nil
}

// GetSessionByExternalID returns the session for an external id, or nil.
func (s *SessionStore) GetSessionByExternalID(ctx context.Context, externalID string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE external_session_id = ?`
	session, err := scanSession(s.store.QueryRowContext(ctx, query, externalID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return session, err
}

// CompleteSession transitions a session to completed or failed and stamps
// the completion time. Completing an already-terminal session is a no-op.
func (s *SessionStore) CompleteSession(ctx context.Context, externalID string, status models.SessionStatus) error {
	if status != models.SessionCompleted && status != models.SessionFailed {
		return fmt.Errorf("invalid terminal status %q", status)
	}

	completedAt, completedAtEpoch := timestampPair(time.Now())
	_, err := s.store.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, completed_at = ?, completed_at_epoch = ?
		WHERE external_session_id = ? AND status = 'active'
	`, string(status), completedAt, completedAtEpoch, externalID)
	return err
}

// IncrementPromptCounter bumps a session's prompt counter and returns the
// new value.
func (s *SessionStore) IncrementPromptCounter(ctx context.Context, externalID string) (int, error) {
	var counter int
	err := s.store.Transaction(ctx, func(ctx context.Context, tx Querier) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE sessions SET prompt_counter = prompt_counter + 1 WHERE external_session_id = ?",
			externalID,
		); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			"SELECT prompt_counter FROM sessions WHERE external_session_id = ?",
			externalID,
		).Scan(&counter)
	})
	return counter, err
}

// GetRecentSessions returns the most recently started sessions for a project.
func (s *SessionStore) GetRecentSessions(ctx context.Context, project string, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.store.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE project = ?
		ORDER BY started_at_epoch DESC, id DESC
		LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func scanSession(scanner interface{ Scan(...interface{}) error }) (*models.Session, error) {
	var session models.Session
	if err := scanner.Scan(
		&session.ID, &session.ExternalID, &session.Project, &session.Status,
		&session.PromptCounter, &session.StartedAt, &session.StartedAtEpoch,
		&session.CompletedAt, &session.CompletedAtEpoch,
	); err != nil {
		return nil, err
	}
	return &session, nil
}
