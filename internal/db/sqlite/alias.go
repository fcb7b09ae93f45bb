package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/thebtf/kiro-memory/pkg/models"
)

// AliasStore provides project-alias and GitHub-link database operations.
type AliasStore struct {
	store *Store
}

// NewAliasStore creates a new alias store.
func NewAliasStore(store *Store) *AliasStore {
	return &AliasStore{store: store}
}

// SetProjectAlias upserts the display name for a project.
func (s *AliasStore) SetProjectAlias(ctx context.Context, projectName, displayName string) error {
	if projectName == "" {
		return fmt.Errorf("project name is required")
	}
	_, err := s.store.ExecContext(ctx, `
		INSERT INTO project_aliases (project_name, display_name)
		VALUES (?, ?)
		ON CONFLICT(project_name) DO UPDATE SET display_name = excluded.display_name
	`, projectName, displayName)
	return err
}

// GetProjectAlias returns the display name for a project, or the project
// name itself when no alias is set.
func (s *AliasStore) GetProjectAlias(ctx context.Context, projectName string) (string, error) {
	var display string
	err := s.store.QueryRowContext(ctx,
		"SELECT display_name FROM project_aliases WHERE project_name = ?",
		projectName,
	).Scan(&display)
	if err == sql.ErrNoRows {
		return projectName, nil
	}
	if err != nil {
		return "", err
	}
	return display, nil
}

// ListProjectAliases returns all aliases ordered by project name.
func (s *AliasStore) ListProjectAliases(ctx context.Context) ([]*models.ProjectAlias, error) {
	rows, err := s.store.QueryContext(ctx,
		"SELECT project_name, display_name FROM project_aliases ORDER BY project_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aliases []*models.ProjectAlias
	for rows.Next() {
		var alias models.ProjectAlias
		if err := rows.Scan(&alias.ProjectName, &alias.DisplayName); err != nil {
			return nil, err
		}
		aliases = append(aliases, &alias)
	}
	return aliases, rows.Err()
}

// CreateGitHubLink cross-references an observation or session to an
// external repo, issue, or PR. At least one of observationID/sessionID
// must be set.
func (s *AliasStore) CreateGitHubLink(ctx context.Context, link *models.GitHubLink) (int64, error) {
	if link.Repo == "" || link.URL == "" {
		return 0, fmt.Errorf("repo and url are required")
	}
	if !link.ObservationID.Valid && !link.SessionID.Valid {
		return 0, fmt.Errorf("link must reference an observation or a session")
	}

	createdAt, createdAtEpoch := timestampPair(time.Now())
	result, err := s.store.ExecContext(ctx, `
		INSERT INTO github_links
		(observation_id, session_id, repo, issue_number, pr_number, url, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, link.ObservationID, link.SessionID, link.Repo,
		link.IssueNumber, link.PRNumber, link.URL, createdAt, createdAtEpoch)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetGitHubLinks returns all links attached to an observation.
func (s *AliasStore) GetGitHubLinks(ctx context.Context, observationID int64) ([]*models.GitHubLink, error) {
	rows, err := s.store.QueryContext(ctx, `
		SELECT id, observation_id, session_id, repo, issue_number, pr_number, url, created_at, created_at_epoch
		FROM github_links
		WHERE observation_id = ?
		ORDER BY created_at_epoch DESC, id DESC
	`, observationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []*models.GitHubLink
	for rows.Next() {
		var link models.GitHubLink
		if err := rows.Scan(
			&link.ID, &link.ObservationID, &link.SessionID, &link.Repo,
			&link.IssueNumber, &link.PRNumber, &link.URL, &link.CreatedAt, &link.CreatedAtEpoch,
		); err != nil {
			return nil, err
		}
		links = append(links, &link)
	}
	return links, rows.Err()
}
