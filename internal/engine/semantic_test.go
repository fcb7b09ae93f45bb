package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiro-memory/internal/config"
	"github.com/thebtf/kiro-memory/internal/search"
	"github.com/thebtf/kiro-memory/pkg/models"
)

func newVectorEngine(t *testing.T) *Engine {
	return newTestEngine(t, func(cfg *config.Config) {
		cfg.EmbeddingProvider = fakeModelVersion
	})
}

// seedAndEmbed seeds rows directly and then backfills so every vector is
// persisted before the test searches.
func seedAndEmbed(t *testing.T, e *Engine, observations ...*models.Observation) {
	t.Helper()
	for _, obs := range observations {
		seedRaw(t, e, obs)
	}
	_, err := e.BackfillEmbeddings(context.Background(), 100)
	require.NoError(t, err)
}

func TestSemanticSearch(t *testing.T) {
	e := newVectorEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UnixMilli()

	dbObs := rawObservation("memory", "tuned the database checkpoint cadence", base)
	feObs := rawObservation("memory", "reworked the frontend panel layout", base+1000)
	seedAndEmbed(t, e, dbObs, feObs)

	results, err := e.SemanticSearch(ctx, "database write amplification", search.Options{Project: "memory"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tuned the database checkpoint cadence", results[0].Observation.Title)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, search.SourceVector, results[0].Source)
}

func TestHybridSearchMergesBothPools(t *testing.T) {
	e := newVectorEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UnixMilli()

	// Lexical-only hit: carries the query term but embeds on the frontend
	// axis, below the similarity threshold.
	lexical := rawObservation("memory", "frontend database glue", base)
	lexical.Text.String = "frontend notes"
	// Vector-only hit: no query term anywhere, but "storage" shares the
	// query's embedding axis.
	vectorOnly := rawObservation("memory", "checkpoint cadence was too aggressive", base+1000)
	vectorOnly.Text.String = "storage flush interval analysis"
	seedAndEmbed(t, e, lexical, vectorOnly)

	results, err := e.SearchAdvanced(ctx, "database", search.Options{Project: "memory"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	bySource := map[string]string{}
	for _, r := range results {
		bySource[r.Observation.Title] = r.Source
	}
	assert.Equal(t, search.SourceKeyword, bySource["frontend database glue"])
	assert.Equal(t, search.SourceVector, bySource["checkpoint cadence was too aggressive"])
}

func TestBackfillEmbeddings(t *testing.T) {
	e := newVectorEngine(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UnixMilli()

	seedRaw(t, e, rawObservation("memory", "first pending row", base))
	seedRaw(t, e, rawObservation("memory", "second pending row", base+1000))

	embedded, err := e.BackfillEmbeddings(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 2, embedded)

	stats, err := e.GetEmbeddingStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Embedded)
	assert.Equal(t, int64(2), stats.TotalObservations)
	assert.InDelta(t, 100.0, stats.Percent, 1e-6)

	// Nothing left to backfill.
	embedded, err = e.BackfillEmbeddings(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, embedded)
}

func TestBackfillEmbeddingsUnavailable(t *testing.T) {
	e := newTestEngine(t, nil)
	_, err := e.BackfillEmbeddings(context.Background(), 100)
	assert.Error(t, err)
}
