package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// KnowledgeKind is the tag of the knowledge facts union.
type KnowledgeKind string

const (
	KnowledgeConstraint KnowledgeKind = "constraint"
	KnowledgeDecision   KnowledgeKind = "decision"
	KnowledgeHeuristic  KnowledgeKind = "heuristic"
	KnowledgeRejected   KnowledgeKind = "rejected"
)

// ValidKnowledgeKind reports whether k is a member of the closed set.
func ValidKnowledgeKind(k KnowledgeKind) bool {
	switch k {
	case KnowledgeConstraint, KnowledgeDecision, KnowledgeHeuristic, KnowledgeRejected:
		return true
	}
	return false
}

// KnowledgeFacts is the typed metadata stored in the facts column for
// knowledge observations. It serializes to a JSON string; free-form facts on
// non-knowledge observations bypass this type entirely.
type KnowledgeFacts struct {
	Kind KnowledgeKind `json:"kind"`
	// Importance ranges 1..5; 4 and 5 exempt the row from retention sweeps.
	Importance int    `json:"importance,omitempty"`
	Rationale  string `json:"rationale,omitempty"`
	Source     string `json:"source,omitempty"`
}

// Encode serializes the facts union to its column representation.
func (f KnowledgeFacts) Encode() (string, error) {
	if !ValidKnowledgeKind(f.Kind) {
		return "", fmt.Errorf("invalid knowledge kind %q", f.Kind)
	}
	if f.Importance < 0 || f.Importance > 5 {
		return "", fmt.Errorf("importance %d out of range 0..5", f.Importance)
	}
	data, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeKnowledgeFacts parses a facts column value. Returns nil (no error)
// when the value is not a knowledge union, since facts is free-form for
// non-knowledge observations.
func DecodeKnowledgeFacts(s string) *KnowledgeFacts {
	if s == "" {
		return nil
	}
	var f KnowledgeFacts
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil
	}
	if !ValidKnowledgeKind(f.Kind) {
		return nil
	}
	return &f
}
