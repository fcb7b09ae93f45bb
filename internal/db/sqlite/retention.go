package sqlite

import (
	"context"
	"time"

	"github.com/thebtf/kiro-memory/pkg/models"
)

// RetentionPolicy sets the per-family maximum age in days. A value <= 0
// disables the sweep for that family.
type RetentionPolicy struct {
	ObservationsMaxAgeDays int `json:"observations_max_age_days"`
	SummariesMaxAgeDays    int `json:"summaries_max_age_days"`
	PromptsMaxAgeDays      int `json:"prompts_max_age_days"`
	KnowledgeMaxAgeDays    int `json:"knowledge_max_age_days"`
}

// RetentionResult reports how many rows each family lost in one sweep.
type RetentionResult struct {
	Observations int64  `json:"observations"`
	Summaries    int64  `json:"summaries"`
	Prompts      int64  `json:"prompts"`
	Knowledge    int64  `json:"knowledge"`
	ExecutedAt   string `json:"executed_at"`
}

// knowledgeTypePlaceholders is the inline list of knowledge types used by
// the retention partition queries.
const knowledgeTypePlaceholders = `('constraint', 'decision', 'heuristic', 'rejected')`

// importanceExemption matches facts JSON carrying importance 4 or 5, in
// both spaced and unspaced serializations. A substring match is deliberate;
// facts is small and the false-positive direction only preserves rows.
const importanceExemption = `(
	facts LIKE '%"importance": 4%' OR facts LIKE '%"importance":4%' OR
	facts LIKE '%"importance": 5%' OR facts LIKE '%"importance":5%'
)`

// ApplyRetention deletes rows strictly older than each enabled family's
// cutoff. Observations partition into non-knowledge and knowledge at the
// cutoff; knowledge rows with importance 4 or 5 in their facts are exempt
// regardless of age. The whole sweep is one transaction.
func (s *ObservationStore) ApplyRetention(ctx context.Context, policy RetentionPolicy) (*RetentionResult, error) {
	now := time.Now()
	result := &RetentionResult{ExecutedAt: now.UTC().Format(time.RFC3339)}

	cutoff := func(days int) int64 {
		return now.UnixMilli() - int64(days)*86_400_000
	}

	err := s.store.Transaction(ctx, func(ctx context.Context, tx Querier) error {
		if policy.ObservationsMaxAgeDays > 0 {
			res, err := tx.ExecContext(ctx, `
				DELETE FROM observations
				WHERE created_at_epoch < ?
				  AND type NOT IN `+knowledgeTypePlaceholders,
				cutoff(policy.ObservationsMaxAgeDays))
			if err != nil {
				return err
			}
			result.Observations, _ = res.RowsAffected()
		}

		if policy.KnowledgeMaxAgeDays > 0 {
			res, err := tx.ExecContext(ctx, `
				DELETE FROM observations
				WHERE created_at_epoch < ?
				  AND type IN `+knowledgeTypePlaceholders+`
				  AND NOT (facts IS NOT NULL AND `+importanceExemption+`)`,
				cutoff(policy.KnowledgeMaxAgeDays))
			if err != nil {
				return err
			}
			result.Knowledge, _ = res.RowsAffected()
		}

		if policy.SummariesMaxAgeDays > 0 {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM session_summaries WHERE created_at_epoch < ?",
				cutoff(policy.SummariesMaxAgeDays))
			if err != nil {
				return err
			}
			result.Summaries, _ = res.RowsAffected()
		}

		if policy.PromptsMaxAgeDays > 0 {
			res, err := tx.ExecContext(ctx,
				"DELETE FROM user_prompts WHERE created_at_epoch < ?",
				cutoff(policy.PromptsMaxAgeDays))
			if err != nil {
				return err
			}
			result.Prompts, _ = res.RowsAffected()
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// DecayStats summarizes how a project's memory is aging.
type DecayStats struct {
	Total            int `json:"total"`
	Stale            int `json:"stale"`
	NeverAccessed    int `json:"never_accessed"`
	RecentlyAccessed int `json:"recently_accessed"`
}

// recentAccessWindow bounds what DecayStats counts as a recent access.
const recentAccessWindow = 48 * time.Hour

// GetDecayStats computes decay statistics for a project.
func (s *ObservationStore) GetDecayStats(ctx context.Context, project string) (*DecayStats, error) {
	recentCutoff := time.Now().Add(-recentAccessWindow).UnixMilli()

	var stats DecayStats
	err := s.store.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN stale != 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN last_accessed_epoch IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN last_accessed_epoch >= ? THEN 1 ELSE 0 END), 0)
		FROM observations
		WHERE project = ?
	`, recentCutoff, project).Scan(
		&stats.Total, &stats.Stale, &stats.NeverAccessed, &stats.RecentlyAccessed)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// StaleCandidate is one observation eligible for a filesystem mtime check.
type StaleCandidate struct {
	ID             int64
	CreatedAtEpoch int64
	FilesModified  models.JSONStringArray
}

// GetStaleCandidates returns the most recent observations of a project with
// a non-empty files_modified list, newest first.
func (s *ObservationStore) GetStaleCandidates(ctx context.Context, project string, limit int) ([]StaleCandidate, error) {
	if limit <= 0 || limit > MaxBatchIDs {
		limit = MaxBatchIDs
	}

	rows, err := s.store.QueryContext(ctx, `
		SELECT id, created_at_epoch, files_modified
		FROM observations
		WHERE project = ?
		  AND files_modified IS NOT NULL AND files_modified != '' AND files_modified != '[]'
		ORDER BY created_at_epoch DESC, id DESC
		LIMIT ?
	`, project, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []StaleCandidate
	for rows.Next() {
		var c StaleCandidate
		if err := rows.Scan(&c.ID, &c.CreatedAtEpoch, &c.FilesModified); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}
