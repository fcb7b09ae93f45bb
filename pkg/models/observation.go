// Package models contains domain models for kiro-memory.
package models

import (
	"crypto/sha256"
	"database/sql"
	"database/sql/driver"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// ObservationType represents the type of observation.
// The set is open: hooks may submit additional types, which are stored as-is.
type ObservationType string

const (
	ObsTypeFileRead   ObservationType = "file-read"
	ObsTypeFileWrite  ObservationType = "file-write"
	ObsTypeCommand    ObservationType = "command"
	ObsTypeResearch   ObservationType = "research"
	ObsTypeDelegation ObservationType = "delegation"
	ObsTypeToolUse    ObservationType = "tool-use"
	ObsTypeConstraint ObservationType = "constraint"
	ObsTypeDecision   ObservationType = "decision"
	ObsTypeHeuristic  ObservationType = "heuristic"
	ObsTypeRejected   ObservationType = "rejected"
)

// KnowledgeTypes is the closed set of types that carry durable knowledge.
// These receive ranking boosts and importance-based retention exemptions.
var KnowledgeTypes = map[ObservationType]bool{
	ObsTypeConstraint: true,
	ObsTypeDecision:   true,
	ObsTypeHeuristic:  true,
	ObsTypeRejected:   true,
}

// IsKnowledgeType reports whether t is one of the knowledge types.
func IsKnowledgeType(t ObservationType) bool {
	return KnowledgeTypes[t]
}

// KnowledgeBoost returns the multiplicative ranking boost for knowledge types.
// Non-knowledge types return 1.
func KnowledgeBoost(t ObservationType) float64 {
	switch t {
	case ObsTypeConstraint:
		return 1.30
	case ObsTypeDecision:
		return 1.25
	case ObsTypeHeuristic:
		return 1.15
	case ObsTypeRejected:
		return 1.10
	default:
		return 1.0
	}
}

// DefaultDedupWindow is the dedup window for types without a specific policy.
const DefaultDedupWindow = 30 * time.Second

// DedupWindow returns the per-type sliding dedup window.
func DedupWindow(t ObservationType) time.Duration {
	switch t {
	case ObsTypeFileRead:
		return 60 * time.Second
	case ObsTypeFileWrite:
		return 10 * time.Second
	case ObsTypeCommand:
		return 30 * time.Second
	case ObsTypeResearch:
		return 120 * time.Second
	case ObsTypeDelegation:
		return 60 * time.Second
	default:
		return DefaultDedupWindow
	}
}

// Field size limits enforced at write time.
const (
	MaxProjectLen = 200
	MaxTitleLen   = 500
	MaxTextLen    = 100_000
)

// Observation is one atomic record of a hook event.
type Observation struct {
	ID              int64           `json:"id"`
	SessionID       string          `json:"session_id"`
	Project         string          `json:"project"`
	Type            ObservationType `json:"type"`
	Title           string          `json:"title"`
	Subtitle        sql.NullString  `json:"subtitle"`
	Text            sql.NullString  `json:"text"`
	Narrative       sql.NullString  `json:"narrative"`
	Facts           sql.NullString  `json:"facts"`
	Concepts        sql.NullString  `json:"concepts"`
	FilesRead       JSONStringArray `json:"files_read"`
	FilesModified   JSONStringArray `json:"files_modified"`
	PromptNumber    int             `json:"prompt_number"`
	ContentHash     string          `json:"content_hash"`
	DiscoveryTokens int64           `json:"discovery_tokens"`
	AutoCategory    string          `json:"auto_category"`
	LastAccessed    sql.NullInt64   `json:"last_accessed_epoch"`
	Stale           bool            `json:"stale"`
	CreatedAt       string          `json:"created_at"`
	CreatedAtEpoch  int64           `json:"created_at_epoch"`
}

// ContentHash computes the semantic dedup hash for an observation.
// Session id and timestamps are deliberately excluded so the hash is stable
// across invocations.
func ContentHash(project string, obsType ObservationType, title, narrative string) string {
	h := sha256.Sum256([]byte(project + "|" + string(obsType) + "|" + title + "|" + narrative))
	return hex.EncodeToString(h[:])
}

// EstimateTokens is the rough token-cost estimate used for discovery tokens
// and context packing: ceil(len/4).
func EstimateTokens(text string) int64 {
	return int64((len(text) + 3) / 4)
}

// JSONStringArray stores a string slice as a JSON text column.
type JSONStringArray []string

// Scan implements sql.Scanner for JSONStringArray.
func (j *JSONStringArray) Scan(src interface{}) error {
	if src == nil {
		*j = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("JSONStringArray: unsupported type %T", src)
	}

	if len(data) == 0 {
		*j = nil
		return nil
	}
	return json.Unmarshal(data, j)
}

// Value implements driver.Valuer for JSONStringArray.
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
