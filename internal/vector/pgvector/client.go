// Package pgvector provides a PostgreSQL+pgvector backed vector index, as
// an alternative to the embedded SQLite scan for installations that already
// run Postgres.
package pgvector

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	pgvec "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiro-memory/internal/vector"
)

// Config holds configuration for the pgvector client.
type Config struct {
	DSN        string
	Dimensions int
}

// Client provides vector operations via PostgreSQL+pgvector. Similarity is
// computed by the database with the cosine distance operator, so search
// cost scales with the pgvector index rather than a client-side scan.
type Client struct {
	db         *sql.DB
	dimensions int
	log        zerolog.Logger
}

var _ vector.Index = (*Client)(nil)

// NewClient connects to Postgres and ensures the vectors table exists.
func NewClient(cfg Config) (*Client, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("pgvector DSN is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("pgvector dimensions must be positive")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	c := &Client{
		db:         db,
		dimensions: cfg.Dimensions,
		log:        log.With().Str("component", "pgvector").Logger(),
	}
	if err := c.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS observation_embeddings (
			observation_id BIGINT PRIMARY KEY,
			project TEXT NOT NULL DEFAULT '',
			embedding vector(%d) NOT NULL,
			model TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, c.dimensions),
		`CREATE INDEX IF NOT EXISTS idx_observation_embeddings_project
			ON observation_embeddings(project)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure pgvector schema: %w", err)
		}
	}
	return nil
}

// Put stores or replaces the vector for an observation.
func (c *Client) Put(ctx context.Context, observationID int64, project string, vec []float32, modelTag string) error {
	if len(vec) != c.dimensions {
		return fmt.Errorf("vector has %d dimensions, want %d", len(vec), c.dimensions)
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO observation_embeddings (observation_id, project, embedding, model)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (observation_id) DO UPDATE SET
			project = excluded.project,
			embedding = excluded.embedding,
			model = excluded.model,
			created_at = now()
	`, observationID, project, pgvec.NewVector(vec), modelTag)
	return err
}

// Search returns hits at or above the threshold sorted by similarity
// descending. Cosine similarity is 1 minus pgvector's cosine distance.
func (c *Client) Search(ctx context.Context, query []float32, opts vector.SearchOptions) ([]vector.Hit, error) {
	if opts.Limit <= 0 {
		opts.Limit = 10
	}
	if opts.Threshold == 0 {
		opts.Threshold = vector.DefaultThreshold
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT observation_id, 1 - (embedding <=> $1) AS similarity
		FROM observation_embeddings
		WHERE ($2 = '' OR project = $2)
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4
	`, pgvec.NewVector(query), opts.Project, opts.Threshold, opts.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vector.Hit
	for rows.Next() {
		var hit vector.Hit
		if err := rows.Scan(&hit.ObservationID, &hit.Similarity); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// DeleteByObservation removes the vector for an observation.
func (c *Client) DeleteByObservation(ctx context.Context, observationID int64) error {
	_, err := c.db.ExecContext(ctx,
		"DELETE FROM observation_embeddings WHERE observation_id = $1", observationID)
	return err
}

// Stats reports the embedded count. Total observation count lives in the
// main store; the engine fills it in.
func (c *Client) Stats(ctx context.Context) (*vector.Stats, error) {
	var stats vector.Stats
	err := c.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM observation_embeddings").Scan(&stats.Embedded)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// Close closes the Postgres connection.
func (c *Client) Close() error {
	return c.db.Close()
}
