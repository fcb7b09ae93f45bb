// Package porter implements the streaming JSONL export and batched JSONL
// import of the memory store.
package porter

import (
	"database/sql"
	"fmt"

	"github.com/thebtf/kiro-memory/pkg/models"
)

// SchemaVersion identifies the JSONL record layout.
const SchemaVersion = "2.5.0"

// Record type tags carried in the _type field.
const (
	TypeObservation = "observation"
	TypeSummary     = "summary"
	TypePrompt      = "prompt"
)

// Counts is the per-family row count block of the meta record.
type Counts struct {
	Observations int64 `json:"observations"`
	Summaries    int64 `json:"summaries"`
	Prompts      int64 `json:"prompts"`
}

// Filters records what narrowed an export.
type Filters struct {
	Project string `json:"project,omitempty"`
}

// Meta is the optional first line of an export.
type Meta struct {
	Version    string   `json:"version"`
	ExportedAt string   `json:"exported_at"`
	ExportID   string   `json:"export_id"`
	Counts     Counts   `json:"counts"`
	Filters    *Filters `json:"filters,omitempty"`
}

// metaLine wraps Meta under the _meta key on the wire.
type metaLine struct {
	Meta *Meta `json:"_meta"`
}

// observationRecord is the wire shape of one observation line.
type observationRecord struct {
	RecordType      string   `json:"_type"`
	ID              int64    `json:"id,omitempty"`
	SessionID       string   `json:"session_id,omitempty"`
	Project         string   `json:"project"`
	Type            string   `json:"type"`
	Title           string   `json:"title"`
	Subtitle        string   `json:"subtitle,omitempty"`
	Text            string   `json:"text,omitempty"`
	Narrative       string   `json:"narrative,omitempty"`
	Facts           string   `json:"facts,omitempty"`
	Concepts        string   `json:"concepts,omitempty"`
	FilesRead       []string `json:"files_read,omitempty"`
	FilesModified   []string `json:"files_modified,omitempty"`
	PromptNumber    int      `json:"prompt_number,omitempty"`
	ContentHash     string   `json:"content_hash,omitempty"`
	DiscoveryTokens int64    `json:"discovery_tokens,omitempty"`
	AutoCategory    string   `json:"auto_category,omitempty"`
	Stale           bool     `json:"stale,omitempty"`
	CreatedAt       string   `json:"created_at,omitempty"`
	CreatedAtEpoch  int64    `json:"created_at_epoch,omitempty"`
}

func observationToRecord(obs *models.Observation) observationRecord {
	return observationRecord{
		RecordType:      TypeObservation,
		ID:              obs.ID,
		SessionID:       obs.SessionID,
		Project:         obs.Project,
		Type:            string(obs.Type),
		Title:           obs.Title,
		Subtitle:        obs.Subtitle.String,
		Text:            obs.Text.String,
		Narrative:       obs.Narrative.String,
		Facts:           obs.Facts.String,
		Concepts:        obs.Concepts.String,
		FilesRead:       obs.FilesRead,
		FilesModified:   obs.FilesModified,
		PromptNumber:    obs.PromptNumber,
		ContentHash:     obs.ContentHash,
		DiscoveryTokens: obs.DiscoveryTokens,
		AutoCategory:    obs.AutoCategory,
		Stale:           obs.Stale,
		CreatedAt:       obs.CreatedAt,
		CreatedAtEpoch:  obs.CreatedAtEpoch,
	}
}

func (r *observationRecord) validate() error {
	switch {
	case r.Project == "":
		return fmt.Errorf("observation record missing project")
	case r.Type == "":
		return fmt.Errorf("observation record missing type")
	case r.Title == "":
		return fmt.Errorf("observation record missing title")
	}
	return nil
}

// toModel converts the record for raw insertion, computing the content
// hash when the record omits it.
func (r *observationRecord) toModel() *models.Observation {
	hash := r.ContentHash
	if hash == "" {
		hash = models.ContentHash(r.Project, models.ObservationType(r.Type), r.Title, r.Narrative)
	}
	return &models.Observation{
		SessionID:       r.SessionID,
		Project:         r.Project,
		Type:            models.ObservationType(r.Type),
		Title:           r.Title,
		Subtitle:        nullable(r.Subtitle),
		Text:            nullable(r.Text),
		Narrative:       nullable(r.Narrative),
		Facts:           nullable(r.Facts),
		Concepts:        nullable(r.Concepts),
		FilesRead:       r.FilesRead,
		FilesModified:   r.FilesModified,
		PromptNumber:    r.PromptNumber,
		ContentHash:     hash,
		DiscoveryTokens: r.DiscoveryTokens,
		AutoCategory:    r.AutoCategory,
		Stale:           r.Stale,
		CreatedAt:       r.CreatedAt,
		CreatedAtEpoch:  r.CreatedAtEpoch,
	}
}

// summaryRecord is the wire shape of one summary line.
type summaryRecord struct {
	RecordType     string `json:"_type"`
	ID             int64  `json:"id,omitempty"`
	SessionID      string `json:"session_id"`
	Project        string `json:"project"`
	Request        string `json:"request,omitempty"`
	Investigated   string `json:"investigated,omitempty"`
	Learned        string `json:"learned,omitempty"`
	Completed      string `json:"completed,omitempty"`
	NextSteps      string `json:"next_steps,omitempty"`
	Notes          string `json:"notes,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	CreatedAtEpoch int64  `json:"created_at_epoch,omitempty"`
}

func summaryToRecord(summary *models.Summary) summaryRecord {
	return summaryRecord{
		RecordType:     TypeSummary,
		ID:             summary.ID,
		SessionID:      summary.SessionID,
		Project:        summary.Project,
		Request:        summary.Request.String,
		Investigated:   summary.Investigated.String,
		Learned:        summary.Learned.String,
		Completed:      summary.Completed.String,
		NextSteps:      summary.NextSteps.String,
		Notes:          summary.Notes.String,
		CreatedAt:      summary.CreatedAt,
		CreatedAtEpoch: summary.CreatedAtEpoch,
	}
}

func (r *summaryRecord) validate() error {
	switch {
	case r.SessionID == "":
		return fmt.Errorf("summary record missing session_id")
	case r.Project == "":
		return fmt.Errorf("summary record missing project")
	}
	return nil
}

func (r *summaryRecord) toModel() *models.Summary {
	return &models.Summary{
		SessionID:      r.SessionID,
		Project:        r.Project,
		Request:        nullable(r.Request),
		Investigated:   nullable(r.Investigated),
		Learned:        nullable(r.Learned),
		Completed:      nullable(r.Completed),
		NextSteps:      nullable(r.NextSteps),
		Notes:          nullable(r.Notes),
		CreatedAt:      r.CreatedAt,
		CreatedAtEpoch: r.CreatedAtEpoch,
	}
}

// promptRecord is the wire shape of one prompt line.
type promptRecord struct {
	RecordType       string `json:"_type"`
	ID               int64  `json:"id,omitempty"`
	ContentSessionID string `json:"content_session_id"`
	PromptNumber     int    `json:"prompt_number"`
	Text             string `json:"prompt_text"`
	CreatedAt        string `json:"created_at,omitempty"`
	CreatedAtEpoch   int64  `json:"created_at_epoch,omitempty"`
}

func promptToRecord(prompt *models.Prompt) promptRecord {
	return promptRecord{
		RecordType:       TypePrompt,
		ID:               prompt.ID,
		ContentSessionID: prompt.ContentSessionID,
		PromptNumber:     prompt.PromptNumber,
		Text:             prompt.Text,
		CreatedAt:        prompt.CreatedAt,
		CreatedAtEpoch:   prompt.CreatedAtEpoch,
	}
}

func (r *promptRecord) validate() error {
	switch {
	case r.ContentSessionID == "":
		return fmt.Errorf("prompt record missing content_session_id")
	case r.PromptNumber <= 0:
		return fmt.Errorf("prompt record has non-positive prompt_number")
	case r.Text == "":
		return fmt.Errorf("prompt record missing prompt_text")
	}
	return nil
}

func (r *promptRecord) toModel() *models.Prompt {
	return &models.Prompt{
		ContentSessionID: r.ContentSessionID,
		PromptNumber:     r.PromptNumber,
		Text:             r.Text,
		CreatedAt:        r.CreatedAt,
		CreatedAtEpoch:   r.CreatedAtEpoch,
	}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
