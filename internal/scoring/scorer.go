// Package scoring turns raw retrieval signals into a composite relevance
// score in [0,1].
package scoring

import (
	"math"
	"strings"
	"time"

	"github.com/thebtf/kiro-memory/pkg/models"
)

// HalfLifeHours is the recency half-life: one week.
const HalfLifeHours = 168.0

// HybridBoost rewards candidates that both retrieval backends agreed on.
const HybridBoost = 1.15

// Weights is one scoring profile over the four signals.
type Weights struct {
	Semantic     float64
	FTS          float64
	Recency      float64
	ProjectMatch float64
}

// SearchWeights applies when a query is present.
var SearchWeights = Weights{Semantic: 0.40, FTS: 0.30, Recency: 0.20, ProjectMatch: 0.10}

// ContextWeights applies when assembling context with no query; only
// recency and project membership matter.
var ContextWeights = Weights{Recency: 0.70, ProjectMatch: 0.30}

// Recency computes the exponential-decay recency signal for a creation
// epoch in milliseconds. A fresh row scores 1, a week-old row 0.5, a
// missing or non-positive epoch 0.
func Recency(createdAtEpoch int64, now time.Time) float64 {
	if createdAtEpoch <= 0 {
		return 0
	}
	ageHours := float64(now.UnixMilli()-createdAtEpoch) / float64(time.Hour/time.Millisecond)
	if ageHours < 0 {
		return 1
	}
	return math.Exp(-ageHours * math.Ln2 / HalfLifeHours)
}

// ProjectMatch is 1 when both projects are non-empty and equal
// case-insensitively, else 0.
func ProjectMatch(candidate, query string) float64 {
	if candidate == "" || query == "" {
		return 0
	}
	if strings.EqualFold(candidate, query) {
		return 1
	}
	return 0
}

// BM25Normalizer maps raw BM25 ranks of one candidate pool onto [0,1],
// best rank to 1 and worst to 0.
type BM25Normalizer struct {
	min, max float64
	count    int
}

// NewBM25Normalizer builds a normalizer over the raw ranks that appeared
// in a query's candidate pool.
func NewBM25Normalizer(ranks []float64) *BM25Normalizer {
	n := &BM25Normalizer{}
	for _, rank := range ranks {
		if n.count == 0 {
			n.min, n.max = rank, rank
		} else {
			n.min = math.Min(n.min, rank)
			n.max = math.Max(n.max, rank)
		}
		n.count++
	}
	return n
}

// Normalize maps a raw rank to [0,1]. An empty pool yields 0; a
// single-element pool yields 1. BM25 ranks ascend with irrelevance, so the
// minimum rank maps to 1.
func (n *BM25Normalizer) Normalize(rank float64) float64 {
	switch {
	case n.count == 0:
		return 0
	case n.count == 1 || n.max == n.min:
		return 1
	default:
		return (n.max - rank) / (n.max - n.min)
	}
}

// Signals carries one candidate's raw inputs.
type Signals struct {
	Semantic       float64 // cosine similarity, 0 if absent
	FTS            float64 // normalized BM25, 0 if absent
	HasRank        bool    // a raw BM25 rank was present
	CreatedAtEpoch int64
	Project        string
	Type           models.ObservationType
}

// Score computes the composite score: the weighted sum of the four
// signals, a hybrid boost when both backends returned the candidate, the
// knowledge-type boost, clamped to [0,1].
func Score(w Weights, s Signals, queryProject string, now time.Time) float64 {
	score := w.Semantic*s.Semantic +
		w.FTS*s.FTS +
		w.Recency*Recency(s.CreatedAtEpoch, now) +
		w.ProjectMatch*ProjectMatch(s.Project, queryProject)

	if s.Semantic > 0 && s.HasRank {
		score *= HybridBoost
	}
	score *= models.KnowledgeBoost(s.Type)

	return math.Min(1, math.Max(0, score))
}
