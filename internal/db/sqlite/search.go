package sqlite

import (
	"context"
	"strings"

	"github.com/thebtf/kiro-memory/pkg/models"
)

// Search limit defaults. Callers can lower the cap but never raise it.
const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// SearchFilters narrows a lexical or hybrid search.
type SearchFilters struct {
	Project string
	Type    string
	Since   int64 // minimum created_at_epoch, inclusive
	Until   int64 // maximum created_at_epoch, inclusive
	Limit   int
}

func (f *SearchFilters) normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultSearchLimit
	}
	if f.Limit > MaxSearchLimit {
		f.Limit = MaxSearchLimit
	}
}

// ScoredObservation pairs an observation with its raw BM25 rank. Rank is
// only meaningful when RankValid is set; the LIKE fallback has no rank.
type ScoredObservation struct {
	*models.Observation
	Rank      float64
	RankValid bool
}

// SearchLexical runs a full-text search and returns matching observations.
func (s *ObservationStore) SearchLexical(ctx context.Context, query string, filters SearchFilters) ([]*models.Observation, error) {
	scored, err := s.SearchLexicalWithRank(ctx, query, filters)
	if err != nil {
		return nil, err
	}
	observations := make([]*models.Observation, len(scored))
	for i, sc := range scored {
		observations[i] = sc.Observation
	}
	return observations, nil
}

// SearchLexicalWithRank attempts an FTS5 MATCH ranked by BM25 with column
// weights title 10, text 1, narrative 5, concepts 3 (ascending, lower is
// better). Any FTS error falls back to a LIKE scan in insertion-order
// descending, which carries no rank.
func (s *ObservationStore) SearchLexicalWithRank(ctx context.Context, query string, filters SearchFilters) ([]ScoredObservation, error) {
	filters.normalize()

	if match := sanitizeFTSQuery(query); match != "" {
		results, err := s.ftsSearch(ctx, match, filters)
		if err == nil {
			return results, nil
		}
		// FTS rejects some inputs the sanitizer cannot predict; the LIKE
		// path answers every query, just without a rank.
	}
	return s.likeSearch(ctx, query, filters)
}

func (s *ObservationStore) ftsSearch(ctx context.Context, match string, filters SearchFilters) ([]ScoredObservation, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT o.id, o.session_id, o.project, o.type, o.title, o.subtitle, o.text, o.narrative,
		o.facts, o.concepts, o.files_read, o.files_modified, o.prompt_number, o.content_hash,
		o.discovery_tokens, o.auto_category, o.last_accessed_epoch, o.stale, o.created_at, o.created_at_epoch,
		bm25(observations_fts, 10, 1, 5, 3) AS rank
		FROM observations o
		JOIN observations_fts ON observations_fts.rowid = o.id
		WHERE observations_fts MATCH ?`)
	args := []interface{}{match}

	appendObservationFilters(&sb, &args, "o", filters)
	sb.WriteString(` ORDER BY rank ASC LIMIT ?`)
	args = append(args, filters.Limit)

	rows, err := s.store.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ScoredObservation
	for rows.Next() {
		var obs models.Observation
		var stale int
		var rank float64
		if err := rows.Scan(
			&obs.ID, &obs.SessionID, &obs.Project, &obs.Type, &obs.Title,
			&obs.Subtitle, &obs.Text, &obs.Narrative, &obs.Facts, &obs.Concepts,
			&obs.FilesRead, &obs.FilesModified, &obs.PromptNumber, &obs.ContentHash,
			&obs.DiscoveryTokens, &obs.AutoCategory, &obs.LastAccessed, &stale,
			&obs.CreatedAt, &obs.CreatedAtEpoch, &rank,
		); err != nil {
			return nil, err
		}
		obs.Stale = stale != 0
		results = append(results, ScoredObservation{Observation: &obs, Rank: rank, RankValid: true})
	}
	return results, rows.Err()
}

func (s *ObservationStore) likeSearch(ctx context.Context, query string, filters SearchFilters) ([]ScoredObservation, error) {
	pattern := "%" + escapeLike(query) + "%"

	var sb strings.Builder
	sb.WriteString(`SELECT ` + observationColumns + `
		FROM observations
		WHERE (title LIKE ? ESCAPE '\'
		   OR text LIKE ? ESCAPE '\'
		   OR narrative LIKE ? ESCAPE '\'
		   OR concepts LIKE ? ESCAPE '\')`)
	args := []interface{}{pattern, pattern, pattern, pattern}

	appendObservationFilters(&sb, &args, "", filters)
	sb.WriteString(` ORDER BY id DESC LIMIT ?`)
	args = append(args, filters.Limit)

	rows, err := s.store.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	observations, err := scanObservationRows(rows)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredObservation, len(observations))
	for i, obs := range observations {
		results[i] = ScoredObservation{Observation: obs}
	}
	return results, nil
}

// appendObservationFilters appends the shared WHERE fragments for search
// filters. prefix qualifies column names in joined queries.
func appendObservationFilters(sb *strings.Builder, args *[]interface{}, prefix string, filters SearchFilters) {
	col := func(name string) string {
		if prefix == "" {
			return name
		}
		return prefix + "." + name
	}
	if filters.Project != "" {
		sb.WriteString(` AND ` + col("project") + ` = ?`)
		*args = append(*args, filters.Project)
	}
	if filters.Type != "" {
		sb.WriteString(` AND ` + col("type") + ` = ?`)
		*args = append(*args, filters.Type)
	}
	if filters.Since > 0 {
		sb.WriteString(` AND ` + col("created_at_epoch") + ` >= ?`)
		*args = append(*args, filters.Since)
	}
	if filters.Until > 0 {
		sb.WriteString(` AND ` + col("created_at_epoch") + ` <= ?`)
		*args = append(*args, filters.Until)
	}
}
