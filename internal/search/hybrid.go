// Package search merges lexical and vector retrieval into one ranked
// result list.
package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
	"github.com/thebtf/kiro-memory/internal/embedding"
	"github.com/thebtf/kiro-memory/internal/scoring"
	"github.com/thebtf/kiro-memory/internal/vector"
	"github.com/thebtf/kiro-memory/pkg/models"
)

// Result sources, attached for observability.
const (
	SourceVector  = "vector"
	SourceKeyword = "keyword"
	SourceHybrid  = "hybrid"
)

// Result is one ranked search hit.
type Result struct {
	Observation *models.Observation `json:"observation"`
	Score       float64             `json:"score"`
	Similarity  float64             `json:"similarity,omitempty"`
	Source      string              `json:"source"`
}

// Options narrows a hybrid search.
type Options struct {
	Project string
	Type    string
	Since   int64
	Until   int64
	Limit   int
}

// Searcher fans a query out to the lexical and vector backends, merges the
// candidate pools by observation id, and ranks them with the composite
// scorer.
type Searcher struct {
	observations *sqlite.ObservationStore
	index        vector.Index
	embedder     *embedding.Service
	embedGroup   singleflight.Group
	log          zerolog.Logger
}

// NewSearcher creates a hybrid searcher. index may be nil when no vector
// backend is configured; search then runs lexical-only.
func NewSearcher(observations *sqlite.ObservationStore, index vector.Index, embedder *embedding.Service) *Searcher {
	return &Searcher{
		observations: observations,
		index:        index,
		embedder:     embedder,
		log:          log.With().Str("component", "search").Logger(),
	}
}

// candidate accumulates the per-id signals from both pools.
type candidate struct {
	observation *models.Observation
	similarity  float64
	rank        float64
	hasRank     bool
	fromVector  bool
}

// Search runs the hybrid retrieval pipeline and returns up to opts.Limit
// results sorted by score descending. Chosen ids get their last-accessed
// time touched best-effort.
func (s *Searcher) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if opts.Limit <= 0 {
		opts.Limit = sqlite.DefaultSearchLimit
	}
	// Both backends over-fetch so the merged pool has room to re-rank.
	fanLimit := opts.Limit * 2

	var (
		hits    []vector.Hit
		lexical []sqlite.ScoredObservation
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		hits, err = s.vectorCandidates(gctx, query, opts.Project, fanLimit)
		return err
	})
	g.Go(func() error {
		var err error
		lexical, err = s.observations.SearchLexicalWithRank(gctx, query, sqlite.SearchFilters{
			Project: opts.Project,
			Type:    opts.Type,
			Since:   opts.Since,
			Until:   opts.Until,
			Limit:   fanLimit,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	candidates := make(map[int64]*candidate)
	for _, hit := range hits {
		candidates[hit.ObservationID] = &candidate{
			similarity: hit.Similarity,
			fromVector: true,
		}
	}

	var ranks []float64
	for _, sc := range lexical {
		c, ok := candidates[sc.ID]
		if !ok {
			c = &candidate{}
			candidates[sc.ID] = c
		}
		c.observation = sc.Observation
		if sc.RankValid {
			c.rank = sc.Rank
			c.hasRank = true
			ranks = append(ranks, sc.Rank)
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	if err := s.loadVectorOnlyRows(ctx, candidates); err != nil {
		return nil, err
	}

	normalizer := scoring.NewBM25Normalizer(ranks)
	now := time.Now()

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		if c.observation == nil {
			// Vector hit whose row vanished between the scan and the load.
			continue
		}

		fts := 0.0
		if c.hasRank {
			fts = normalizer.Normalize(c.rank)
		}
		score := scoring.Score(scoring.SearchWeights, scoring.Signals{
			Semantic:       c.similarity,
			FTS:            fts,
			HasRank:        c.hasRank,
			CreatedAtEpoch: c.observation.CreatedAtEpoch,
			Project:        c.observation.Project,
			Type:           c.observation.Type,
		}, opts.Project, now)

		results = append(results, Result{
			Observation: c.observation,
			Score:       score,
			Similarity:  c.similarity,
			Source:      source(c),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Observation.ID > results[j].Observation.ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	s.touch(ctx, results)
	return results, nil
}

// SemanticSearch runs the vector half only. It errors when no embedding
// backend is available rather than silently returning nothing.
func (s *Searcher) SemanticSearch(ctx context.Context, query string, opts Options) ([]Result, error) {
	if s.index == nil || s.embedder == nil || !s.embedder.IsAvailable() {
		return nil, fmt.Errorf("semantic search requires an embedding backend")
	}
	if opts.Limit <= 0 {
		opts.Limit = sqlite.DefaultSearchLimit
	}

	hits, err := s.vectorCandidates(ctx, query, opts.Project, opts.Limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	simByID := make(map[int64]float64, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ObservationID
		simByID[hit.ObservationID] = hit.Similarity
	}

	observations, err := s.observations.GetObservationsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(observations))
	for _, obs := range observations {
		results = append(results, Result{
			Observation: obs,
			Score:       simByID[obs.ID],
			Similarity:  simByID[obs.ID],
			Source:      SourceVector,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	s.touch(ctx, results)
	return results, nil
}

// vectorCandidates embeds the query and scans the index. Any failure on
// this path degrades to an empty pool; the lexical half still answers.
func (s *Searcher) vectorCandidates(ctx context.Context, query, project string, limit int) ([]vector.Hit, error) {
	if s.index == nil || s.embedder == nil || !s.embedder.IsAvailable() || query == "" {
		return nil, nil
	}

	// Identical in-flight queries share one provider call.
	v, err, _ := s.embedGroup.Do(query, func() (interface{}, error) {
		return s.embedder.Embed(query)
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("query embedding failed, degrading to lexical")
		return nil, nil
	}
	queryVec, _ := v.([]float32)
	if len(queryVec) == 0 {
		return nil, nil
	}

	hits, err := s.index.Search(ctx, queryVec, vector.SearchOptions{
		Project:   project,
		Limit:     limit,
		Threshold: vector.DefaultThreshold,
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("vector scan failed, degrading to lexical")
		return nil, nil
	}
	return hits, nil
}

// loadVectorOnlyRows fetches observation rows for candidates the lexical
// pool did not cover.
func (s *Searcher) loadVectorOnlyRows(ctx context.Context, candidates map[int64]*candidate) error {
	var missing []int64
	for id, c := range candidates {
		if c.observation == nil {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	observations, err := s.observations.GetObservationsByIDs(ctx, missing)
	if err != nil {
		return err
	}
	for _, obs := range observations {
		candidates[obs.ID].observation = obs
	}
	return nil
}

func source(c *candidate) string {
	switch {
	case c.fromVector && c.hasRank:
		return SourceHybrid
	case c.fromVector:
		return SourceVector
	default:
		return SourceKeyword
	}
}

// touch records access on the returned ids. Failures are logged, never
// surfaced; ranking already happened.
func (s *Searcher) touch(ctx context.Context, results []Result) {
	if len(results) == 0 {
		return
	}
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.Observation.ID
	}
	if err := s.observations.UpdateLastAccessed(ctx, ids); err != nil {
		s.log.Warn().Err(err).Msg("failed to update last-accessed on search results")
	}
}
