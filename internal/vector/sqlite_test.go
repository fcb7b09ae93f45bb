package vector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
	"github.com/thebtf/kiro-memory/pkg/models"
)

func newTestIndex(t *testing.T) (*SQLiteIndex, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewSQLiteIndex(store), store
}

func seedObservation(t *testing.T, store *sqlite.Store, project, title string) int64 {
	t.Helper()
	ctx := context.Background()

	now := time.Now()
	obs := &models.Observation{
		SessionID:      "sess-vec",
		Project:        project,
		Type:           models.ObsTypeToolUse,
		Title:          title,
		ContentHash:    models.ContentHash(project, models.ObsTypeToolUse, title, ""),
		CreatedAt:      now.UTC().Format(time.RFC3339),
		CreatedAtEpoch: now.UnixMilli(),
	}
	require.NoError(t, sqlite.InsertObservationRaw(ctx, store, obs))

	var id int64
	require.NoError(t, store.QueryRowContext(ctx,
		"SELECT id FROM observations WHERE content_hash = ?", obs.ContentHash).Scan(&id))
	return id
}

func TestSQLiteIndexPutAndSearch(t *testing.T) {
	index, store := newTestIndex(t)
	ctx := context.Background()

	aligned := seedObservation(t, store, "memory", "aligned row")
	orthogonal := seedObservation(t, store, "memory", "orthogonal row")
	otherProject := seedObservation(t, store, "elsewhere", "foreign row")

	require.NoError(t, index.Put(ctx, aligned, "memory", []float32{1, 0, 0}, "test"))
	require.NoError(t, index.Put(ctx, orthogonal, "memory", []float32{0, 1, 0}, "test"))
	require.NoError(t, index.Put(ctx, otherProject, "elsewhere", []float32{1, 0, 0}, "test"))

	hits, err := index.Search(ctx, []float32{1, 0, 0}, SearchOptions{Project: "memory"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, aligned, hits[0].ObservationID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)

	// Without a project filter the foreign row joins the result.
	hits, err = index.Search(ctx, []float32{1, 0, 0}, SearchOptions{})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSQLiteIndexPutOverwrites(t *testing.T) {
	index, store := newTestIndex(t)
	ctx := context.Background()

	id := seedObservation(t, store, "memory", "re-embedded row")
	require.NoError(t, index.Put(ctx, id, "memory", []float32{1, 0, 0}, "v1"))
	require.NoError(t, index.Put(ctx, id, "memory", []float32{0, 1, 0}, "v2"))

	hits, err := index.Search(ctx, []float32{0, 1, 0}, SearchOptions{Project: "memory"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ObservationID)

	stats, err := index.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Embedded)
}

func TestSQLiteIndexThreshold(t *testing.T) {
	index, store := newTestIndex(t)
	ctx := context.Background()

	id := seedObservation(t, store, "memory", "weak match")
	// Cosine similarity with the query lands at ~0.196, under the default
	// threshold.
	require.NoError(t, index.Put(ctx, id, "memory", []float32{1, 5, 0}, "test"))

	hits, err := index.Search(ctx, []float32{1, 0, 0}, SearchOptions{Project: "memory"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	// A negative threshold disables the cut.
	hits, err = index.Search(ctx, []float32{1, 0, 0}, SearchOptions{Project: "memory", Threshold: -1})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSQLiteIndexDelete(t *testing.T) {
	index, store := newTestIndex(t)
	ctx := context.Background()

	id := seedObservation(t, store, "memory", "short lived")
	require.NoError(t, index.Put(ctx, id, "memory", []float32{1, 0, 0}, "test"))
	require.NoError(t, index.DeleteByObservation(ctx, id))

	stats, err := index.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Embedded)
	assert.Equal(t, int64(1), stats.TotalObservations)
	assert.Zero(t, stats.Percent)
}
