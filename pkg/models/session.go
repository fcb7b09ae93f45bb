package models

import "database/sql"

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session is one bounded sequence of prompts and observations sharing an
// external session id. Project and external id are immutable once set.
type Session struct {
	ID               int64          `json:"id"`
	ExternalID       string         `json:"external_session_id"`
	Project          string         `json:"project"`
	Status           SessionStatus  `json:"status"`
	PromptCounter    int            `json:"prompt_counter"`
	StartedAt        string         `json:"started_at"`
	StartedAtEpoch   int64          `json:"started_at_epoch"`
	CompletedAt      sql.NullString `json:"completed_at"`
	CompletedAtEpoch sql.NullInt64  `json:"completed_at_epoch"`
}

// Summary is the end-of-session digest.
type Summary struct {
	ID             int64          `json:"id"`
	SessionID      string         `json:"session_id"`
	Project        string         `json:"project"`
	Request        sql.NullString `json:"request"`
	Investigated   sql.NullString `json:"investigated"`
	Learned        sql.NullString `json:"learned"`
	Completed      sql.NullString `json:"completed"`
	NextSteps      sql.NullString `json:"next_steps"`
	Notes          sql.NullString `json:"notes"`
	CreatedAt      string         `json:"created_at"`
	CreatedAtEpoch int64          `json:"created_at_epoch"`
}

// Prompt is one user-issued prompt within a session.
// (ContentSessionID, PromptNumber) is unique.
type Prompt struct {
	ID               int64  `json:"id"`
	ContentSessionID string `json:"content_session_id"`
	PromptNumber     int    `json:"prompt_number"`
	Text             string `json:"prompt_text"`
	CreatedAt        string `json:"created_at"`
	CreatedAtEpoch   int64  `json:"created_at_epoch"`
}

// Checkpoint is a structured resumption point attached to a session.
// ContextSnapshot holds a small serialized list of the most recent
// observations at checkpoint time.
type Checkpoint struct {
	ID              int64           `json:"id"`
	SessionID       string          `json:"session_id"`
	Project         string          `json:"project"`
	Task            string          `json:"task"`
	Progress        sql.NullString  `json:"progress"`
	NextSteps       sql.NullString  `json:"next_steps"`
	OpenQuestions   sql.NullString  `json:"open_questions"`
	RelevantFiles   JSONStringArray `json:"relevant_files"`
	ContextSnapshot sql.NullString  `json:"context_snapshot"`
	CreatedAt       string          `json:"created_at"`
	CreatedAtEpoch  int64           `json:"created_at_epoch"`
}

// ProjectAlias maps a project name to a human-friendly display name.
type ProjectAlias struct {
	ProjectName string `json:"project_name"`
	DisplayName string `json:"display_name"`
}

// GitHubLink cross-references an observation or session to an external
// repo/issue/PR.
type GitHubLink struct {
	ID             int64          `json:"id"`
	ObservationID  sql.NullInt64  `json:"observation_id"`
	SessionID      sql.NullString `json:"session_id"`
	Repo           string         `json:"repo"`
	IssueNumber    sql.NullInt64  `json:"issue_number"`
	PRNumber       sql.NullInt64  `json:"pr_number"`
	URL            string         `json:"url"`
	CreatedAt      string         `json:"created_at"`
	CreatedAtEpoch int64          `json:"created_at_epoch"`
}
