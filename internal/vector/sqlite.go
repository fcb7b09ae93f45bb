package vector

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
)

// SQLiteIndex keeps vectors in the observation_embeddings table of the main
// database and scans them brute-force. Per-developer datasets stay small
// enough that a linear cosine pass over one project is cheap, and the
// store's memory map keeps the working set hot.
type SQLiteIndex struct {
	store *sqlite.Store
	log   zerolog.Logger
}

// NewSQLiteIndex creates an index backed by the main database.
func NewSQLiteIndex(store *sqlite.Store) *SQLiteIndex {
	return &SQLiteIndex{
		store: store,
		log:   log.With().Str("component", "vector-index").Logger(),
	}
}

var _ Index = (*SQLiteIndex)(nil)

// Put stores or replaces the vector for an observation. The project is
// implied by the observation row here; other backends persist it.
func (x *SQLiteIndex) Put(ctx context.Context, observationID int64, _ string, vec []float32, modelTag string) error {
	now := time.Now()
	_, err := x.store.ExecContext(ctx, `
		INSERT INTO observation_embeddings
		(observation_id, embedding, model, dimensions, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(observation_id) DO UPDATE SET
			embedding = excluded.embedding,
			model = excluded.model,
			dimensions = excluded.dimensions,
			created_at = excluded.created_at,
			created_at_epoch = excluded.created_at_epoch
	`, observationID, EncodeVector(vec), modelTag, len(vec),
		now.UTC().Format(time.RFC3339), now.UnixMilli())
	return err
}

// Search scans every embedding of the requested project, computes cosine
// similarity in-process, and returns hits at or above the threshold sorted
// by similarity descending.
func (x *SQLiteIndex) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Hit, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}

	sql := `SELECT e.observation_id, e.embedding, e.dimensions
		FROM observation_embeddings e`
	var args []interface{}
	if opts.Project != "" {
		sql += ` JOIN observations o ON o.id = e.observation_id WHERE o.project = ?`
		args = append(args, opts.Project)
	}

	rows, err := x.store.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var id int64
		var blob []byte
		var dimensions int
		if err := rows.Scan(&id, &blob, &dimensions); err != nil {
			return nil, err
		}

		vec, err := DecodeVector(blob, dimensions)
		if err != nil {
			// A malformed row is skipped, not fatal; it gets rewritten on
			// the next backfill.
			x.log.Warn().Err(err).Int64("observation_id", id).Msg("skipping malformed embedding")
			continue
		}

		sim := CosineSimilarity(query, vec)
		if sim >= opts.Threshold {
			hits = append(hits, Hit{ObservationID: id, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ObservationID > hits[j].ObservationID
	})
	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}
	return hits, nil
}

// DeleteByObservation removes the vector for an observation. The cascade
// handles observation deletes; this covers explicit re-embeds.
func (x *SQLiteIndex) DeleteByObservation(ctx context.Context, observationID int64) error {
	_, err := x.store.ExecContext(ctx,
		"DELETE FROM observation_embeddings WHERE observation_id = ?", observationID)
	return err
}

// Stats reports embedding coverage over all observations.
func (x *SQLiteIndex) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	err := x.store.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM observations),
			(SELECT COUNT(*) FROM observation_embeddings)
	`).Scan(&stats.TotalObservations, &stats.Embedded)
	if err != nil {
		return nil, err
	}
	if stats.TotalObservations > 0 {
		stats.Percent = float64(stats.Embedded) / float64(stats.TotalObservations) * 100
	}
	return &stats, nil
}

// Close is a no-op; the underlying store is owned by the engine.
func (x *SQLiteIndex) Close() error {
	return nil
}
