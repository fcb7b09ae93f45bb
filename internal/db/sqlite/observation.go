package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/thebtf/kiro-memory/internal/category"
	"github.com/thebtf/kiro-memory/internal/privacy"
	"github.com/thebtf/kiro-memory/pkg/models"
)

// observationColumns is the standard list of columns to select for
// observations. Keeping it in one place keeps every query and scanner
// consistent.
const observationColumns = `id, session_id, project, type, title, subtitle, text, narrative,
       facts, concepts, files_read, files_modified, prompt_number, content_hash,
       discovery_tokens, auto_category, last_accessed_epoch, stale, created_at, created_at_epoch`

// MaxBatchIDs caps the id count for batched UPDATE operations.
const MaxBatchIDs = 500

// ConsolidatedTextLimit bounds the merged text produced by consolidation.
const ConsolidatedTextLimit = models.MaxTextLen

// ObservationStore provides observation-related database operations.
type ObservationStore struct {
	store *Store
}

// NewObservationStore creates a new observation store.
func NewObservationStore(store *Store) *ObservationStore {
	return &ObservationStore{store: store}
}

// CreateObservationParams carries the writable fields of a new observation.
type CreateObservationParams struct {
	SessionID       string
	Project         string
	Type            models.ObservationType
	Title           string
	Subtitle        string
	Text            string
	Narrative       string
	Facts           string
	Concepts        string
	FilesRead       []string
	FilesModified   []string
	PromptNumber    int
	ContentHash     string
	DiscoveryTokens int64
}

// validate enforces the field size limits before anything is persisted.
func (p *CreateObservationParams) validate() error {
	switch {
	case p.Project == "":
		return fmt.Errorf("project is required")
	case len(p.Project) > models.MaxProjectLen:
		return fmt.Errorf("project exceeds %d characters", models.MaxProjectLen)
	case p.Type == "":
		return fmt.Errorf("type is required")
	case p.Title == "":
		return fmt.Errorf("title is required")
	case len(p.Title) > models.MaxTitleLen:
		return fmt.Errorf("title exceeds %d characters", models.MaxTitleLen)
	case len(p.Text) > models.MaxTextLen:
		return fmt.Errorf("text exceeds %d characters", models.MaxTextLen)
	}
	return nil
}

// CreateObservation redacts the textual fields, auto-categorizes, and
// inserts a new observation. Returns the new id. Dedup is the caller's
// responsibility via IsDuplicate; the content hash is computed here when
// absent so both sides agree on it.
func (s *ObservationStore) CreateObservation(ctx context.Context, p CreateObservationParams) (int64, error) {
	if err := p.validate(); err != nil {
		return 0, err
	}

	// Redaction runs before the hash so the stored hash matches stored text.
	p.Title = privacy.Redact(p.Title)
	p.Text = privacy.Redact(p.Text)
	p.Narrative = privacy.Redact(p.Narrative)

	autoCategory := category.Categorize(category.Input{
		Type:          string(p.Type),
		Title:         p.Title,
		Text:          p.Text,
		Narrative:     p.Narrative,
		Concepts:      p.Concepts,
		FilesModified: p.FilesModified,
		FilesRead:     p.FilesRead,
	})

	if p.ContentHash == "" {
		p.ContentHash = models.ContentHash(p.Project, p.Type, p.Title, p.Narrative)
	}
	if p.DiscoveryTokens <= 0 {
		p.DiscoveryTokens = models.EstimateTokens(p.Text)
	}

	createdAt, createdAtEpoch := timestampPair(time.Now())

	const query = `
		INSERT INTO observations
		(session_id, project, type, title, subtitle, text, narrative, facts, concepts,
		 files_read, files_modified, prompt_number, content_hash, discovery_tokens,
		 auto_category, created_at, created_at_epoch)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.store.ExecContext(ctx, query,
		p.SessionID, p.Project, string(p.Type), p.Title,
		nullString(p.Subtitle), nullString(p.Text), nullString(p.Narrative),
		nullString(p.Facts), nullString(p.Concepts),
		models.JSONStringArray(p.FilesRead), models.JSONStringArray(p.FilesModified),
		p.PromptNumber, p.ContentHash, p.DiscoveryTokens,
		autoCategory, createdAt, createdAtEpoch,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// IsDuplicate reports whether any observation with the given content hash
// was created within the last window. The check is a pre-insert read; a
// racing writer can slip a duplicate through, which consolidation cleans up
// later.
func (s *ObservationStore) IsDuplicate(ctx context.Context, contentHash string, window time.Duration) (bool, error) {
	if contentHash == "" {
		return false, nil
	}
	if window <= 0 {
		window = models.DefaultDedupWindow
	}
	cutoff := time.Now().Add(-window).UnixMilli()

	var one int
	err := s.store.QueryRowContext(ctx,
		"SELECT 1 FROM observations WHERE content_hash = ? AND created_at_epoch > ? LIMIT 1",
		contentHash, cutoff,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// validBatchIDs drops non-positive ids and caps the batch size.
func validBatchIDs(ids []int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		out = append(out, id)
		if len(out) == MaxBatchIDs {
			break
		}
	}
	return out
}

// UpdateLastAccessed records access time for a batch of observations in a
// single UPDATE. Non-positive ids are ignored; at most MaxBatchIDs per call.
func (s *ObservationStore) UpdateLastAccessed(ctx context.Context, ids []int64) error {
	ids = validBatchIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	query := `UPDATE observations SET last_accessed_epoch = ? WHERE id IN (?` +
		repeatPlaceholders(len(ids)-1) + `)`

	args := append([]interface{}{time.Now().UnixMilli()}, int64SliceToInterface(ids)...)
	_, err := s.store.db.ExecContext(ctx, query, args...)
	return err
}

// MarkStale sets or clears the stale flag for a batch of observations.
func (s *ObservationStore) MarkStale(ctx context.Context, ids []int64, stale bool) error {
	ids = validBatchIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	flag := 0
	if stale {
		flag = 1
	}

	query := `UPDATE observations SET stale = ? WHERE id IN (?` +
		repeatPlaceholders(len(ids)-1) + `)`

	args := append([]interface{}{flag}, int64SliceToInterface(ids)...)
	_, err := s.store.db.ExecContext(ctx, query, args...)
	return err
}

// GetObservationByID retrieves an observation by id, or nil when absent.
func (s *ObservationStore) GetObservationByID(ctx context.Context, id int64) (*models.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations WHERE id = ?`

	obs, err := scanObservation(s.store.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return obs, err
}

// GetObservationsByIDs retrieves observations in (created_at_epoch DESC,
// id DESC) order.
func (s *ObservationStore) GetObservationsByIDs(ctx context.Context, ids []int64) ([]*models.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + observationColumns + `
		FROM observations
		WHERE id IN (?` + repeatPlaceholders(len(ids)-1) + `)
		ORDER BY created_at_epoch DESC, id DESC`

	rows, err := s.store.db.QueryContext(ctx, query, int64SliceToInterface(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// GetRecentObservations retrieves the most recent observations for a project.
func (s *ObservationStore) GetRecentObservations(ctx context.Context, project string, limit int) ([]*models.Observation, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT ` + observationColumns + `
		FROM observations
		WHERE project = ?
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT ?`

	rows, err := s.store.QueryContext(ctx, query, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// ObservationPage is one keyset-paginated page of observations.
type ObservationPage struct {
	Observations []*models.Observation `json:"observations"`
	NextCursor   string                `json:"next_cursor,omitempty"`
}

// ListObservationsPage returns one page of a project's observations in
// (created_at_epoch DESC, id DESC) order. An empty cursor starts at the
// newest row; the returned cursor resumes after the last row of this page.
// Keyset predicates never drift when rows are inserted between pages at
// epochs above the cursor.
func (s *ObservationStore) ListObservationsPage(ctx context.Context, project string, limit int, cursor string) (*ObservationPage, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT ` + observationColumns + ` FROM observations WHERE project = ?`
	args := []interface{}{project}

	if cursor != "" {
		epoch, id, err := DecodeCursor(cursor)
		if err != nil {
			return nil, err
		}
		query += ` AND (created_at_epoch < ? OR (created_at_epoch = ? AND id < ?))`
		args = append(args, epoch, epoch, id)
	}

	query += ` ORDER BY created_at_epoch DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	observations, err := scanObservationRows(rows)
	if err != nil {
		return nil, err
	}

	page := &ObservationPage{Observations: observations}
	if len(observations) == limit {
		last := observations[len(observations)-1]
		page.NextCursor = EncodeCursor(last.CreatedAtEpoch, last.ID)
	}
	return page, nil
}

// Timeline returns up to before rows strictly older than the anchor (oldest
// first), the anchor itself, then up to after rows strictly newer. Ordering
// ties break by id so the sequence is total.
func (s *ObservationStore) Timeline(ctx context.Context, anchorID int64, before, after int) ([]*models.Observation, error) {
	anchor, err := s.GetObservationByID(ctx, anchorID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, fmt.Errorf("observation %d not found", anchorID)
	}
	if before < 0 {
		before = 0
	}
	if after < 0 {
		after = 0
	}

	olderQuery := `SELECT ` + observationColumns + `
		FROM observations
		WHERE project = ?
		  AND (created_at_epoch < ? OR (created_at_epoch = ? AND id < ?))
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT ?`

	rows, err := s.store.db.QueryContext(ctx, olderQuery,
		anchor.Project, anchor.CreatedAtEpoch, anchor.CreatedAtEpoch, anchor.ID, before)
	if err != nil {
		return nil, err
	}
	older, err := scanObservationRows(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	newerQuery := `SELECT ` + observationColumns + `
		FROM observations
		WHERE project = ?
		  AND (created_at_epoch > ? OR (created_at_epoch = ? AND id > ?))
		ORDER BY created_at_epoch ASC, id ASC
		LIMIT ?`

	rows, err = s.store.db.QueryContext(ctx, newerQuery,
		anchor.Project, anchor.CreatedAtEpoch, anchor.CreatedAtEpoch, anchor.ID, after)
	if err != nil {
		return nil, err
	}
	newer, err := scanObservationRows(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	// The older scan ran newest-first; reverse so the timeline reads oldest
	// to newest end to end.
	timeline := make([]*models.Observation, 0, len(older)+1+len(newer))
	for i := len(older) - 1; i >= 0; i-- {
		timeline = append(timeline, older[i])
	}
	timeline = append(timeline, anchor)
	timeline = append(timeline, newer...)
	return timeline, nil
}

// DeleteObservations deletes observations by id. Embeddings cascade.
func (s *ObservationStore) DeleteObservations(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query := `DELETE FROM observations WHERE id IN (?` + repeatPlaceholders(len(ids)-1) + `)`

	result, err := s.store.db.ExecContext(ctx, query, int64SliceToInterface(ids)...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountByProject returns the observation count for a project.
func (s *ObservationStore) CountByProject(ctx context.Context, project string) (int, error) {
	var count int
	err := s.store.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM observations WHERE project = ?", project).Scan(&count)
	return count, err
}

// GetObservationsWithoutEmbeddings returns observations that have no
// vector yet, oldest first, for backfill.
func (s *ObservationStore) GetObservationsWithoutEmbeddings(ctx context.Context, limit int) ([]*models.Observation, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + observationColumns + `
		FROM observations
		WHERE id NOT IN (SELECT observation_id FROM observation_embeddings)
		ORDER BY id ASC
		LIMIT ?`

	rows, err := s.store.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanObservationRows(rows)
}

// FindIDsByModifiedFile returns ids of observations whose files_modified
// list contains the exact path, newest first.
func (s *ObservationStore) FindIDsByModifiedFile(ctx context.Context, path string, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = MaxBatchIDs
	}
	pattern := `%"` + escapeLike(path) + `"%`

	rows, err := s.store.QueryContext(ctx, `
		SELECT id FROM observations
		WHERE files_modified LIKE ? ESCAPE '\'
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT ?
	`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountAll returns the total observation count.
func (s *ObservationStore) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := s.store.QueryRowContext(ctx, "SELECT COUNT(*) FROM observations").Scan(&count)
	return count, err
}

// ActiveProjects returns the distinct projects with an observation at or
// after sinceEpoch, most recently active first.
func (s *ObservationStore) ActiveProjects(ctx context.Context, sinceEpoch int64) ([]string, error) {
	rows, err := s.store.QueryContext(ctx, `
		SELECT project FROM observations
		WHERE created_at_epoch >= ?
		GROUP BY project
		ORDER BY MAX(created_at_epoch) DESC
	`, sinceEpoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var project string
		if err := rows.Scan(&project); err != nil {
			return nil, err
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// Helper functions

// scanObservation scans a single observation from a row scanner.
func scanObservation(scanner interface{ Scan(...interface{}) error }) (*models.Observation, error) {
	var obs models.Observation
	var stale int
	if err := scanner.Scan(
		&obs.ID, &obs.SessionID, &obs.Project, &obs.Type, &obs.Title,
		&obs.Subtitle, &obs.Text, &obs.Narrative, &obs.Facts, &obs.Concepts,
		&obs.FilesRead, &obs.FilesModified, &obs.PromptNumber, &obs.ContentHash,
		&obs.DiscoveryTokens, &obs.AutoCategory, &obs.LastAccessed, &stale,
		&obs.CreatedAt, &obs.CreatedAtEpoch,
	); err != nil {
		return nil, err
	}
	obs.Stale = stale != 0
	return &obs, nil
}

// scanObservationRows scans multiple observations from rows.
// Caller must close rows after calling this function.
func scanObservationRows(rows *sql.Rows) ([]*models.Observation, error) {
	var observations []*models.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// consolidationTitlePrefix marks a keeper row that absorbed a group.
func consolidationTitlePrefix(n int) string {
	return fmt.Sprintf("[consolidated x%d] ", n)
}

// ConsolidateResult reports what a consolidation pass did.
type ConsolidateResult struct {
	Merged  int `json:"merged"`
	Removed int `json:"removed"`
}

// ConsolidateOptions tunes a consolidation pass.
type ConsolidateOptions struct {
	MinGroupSize int
	DryRun       bool
}

// Consolidate merges groups of >= MinGroupSize observations sharing
// (type, files_modified) within a project. The newest row of each group
// (ties by greater id) becomes the keeper: its text becomes the unique
// non-empty texts of the group joined by "\n---\n" (bounded), its title
// gains a "[consolidated xN] " prefix, and the other rows are deleted along
// with their embeddings. The entire operation is one transaction.
func (s *ObservationStore) Consolidate(ctx context.Context, project string, opts ConsolidateOptions) (*ConsolidateResult, error) {
	if opts.MinGroupSize <= 0 {
		opts.MinGroupSize = 3
	}

	result := &ConsolidateResult{}
	err := s.store.Transaction(ctx, func(ctx context.Context, tx Querier) error {
		const groupQuery = `
			SELECT type, files_modified, COUNT(*) as n
			FROM observations
			WHERE project = ?
			  AND files_modified IS NOT NULL AND files_modified != '' AND files_modified != '[]'
			GROUP BY type, files_modified
			HAVING COUNT(*) >= ?
		`

		rows, err := tx.QueryContext(ctx, groupQuery, project, opts.MinGroupSize)
		if err != nil {
			return err
		}

		type group struct {
			obsType       string
			filesModified string
			count         int
		}
		var groups []group
		for rows.Next() {
			var g group
			if err := rows.Scan(&g.obsType, &g.filesModified, &g.count); err != nil {
				rows.Close()
				return err
			}
			groups = append(groups, g)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		for _, g := range groups {
			const memberQuery = `
				SELECT id, title, text
				FROM observations
				WHERE project = ? AND type = ? AND files_modified = ?
				ORDER BY created_at_epoch DESC, id DESC
			`
			rows, err := tx.QueryContext(ctx, memberQuery, project, g.obsType, g.filesModified)
			if err != nil {
				return err
			}

			type member struct {
				id    int64
				title string
				text  sql.NullString
			}
			var members []member
			for rows.Next() {
				var m member
				if err := rows.Scan(&m.id, &m.title, &m.text); err != nil {
					rows.Close()
					return err
				}
				members = append(members, m)
			}
			if err := rows.Err(); err != nil {
				rows.Close()
				return err
			}
			rows.Close()

			if len(members) < opts.MinGroupSize {
				continue
			}

			result.Merged++
			result.Removed += len(members) - 1

			if opts.DryRun {
				continue
			}

			keeper := members[0]

			// Unique non-empty texts, keeper-first for stable output.
			seen := make(map[string]bool)
			var texts []string
			for _, m := range members {
				if !m.text.Valid || m.text.String == "" || seen[m.text.String] {
					continue
				}
				seen[m.text.String] = true
				texts = append(texts, m.text.String)
			}
			merged := truncate(strings.Join(texts, "\n---\n"), ConsolidatedTextLimit)

			newTitle := consolidationTitlePrefix(len(members)) + keeper.title
			if len(newTitle) > models.MaxTitleLen {
				newTitle = newTitle[:models.MaxTitleLen]
			}

			if _, err := tx.ExecContext(ctx,
				"UPDATE observations SET title = ?, text = ? WHERE id = ?",
				newTitle, nullString(merged), keeper.id,
			); err != nil {
				return err
			}

			removeIDs := make([]int64, 0, len(members)-1)
			for _, m := range members[1:] {
				removeIDs = append(removeIDs, m.id)
			}
			deleteQuery := `DELETE FROM observations WHERE id IN (?` +
				repeatPlaceholders(len(removeIDs)-1) + `)`
			if _, err := tx.ExecContext(ctx, deleteQuery, int64SliceToInterface(removeIDs)...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
