package porter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
)

// ExportBatchSize is how many rows one scan pulls per family.
const ExportBatchSize = 200

// Porter streams the store to and from JSONL.
type Porter struct {
	store *sqlite.Store
	log   zerolog.Logger
}

// New creates a porter over the store.
func New(store *sqlite.Store) *Porter {
	return &Porter{
		store: store,
		log:   log.With().Str("component", "porter").Logger(),
	}
}

// ExportOptions narrows an export.
type ExportOptions struct {
	Project string
}

// ExportStats reports what an export wrote.
type ExportStats struct {
	Counts Counts `json:"counts"`
	Lines  int64  `json:"lines"`
}

// Export streams the store as JSONL: a _meta line first, then every
// observation, summary, and prompt in (created_at_epoch ASC, id ASC)
// order, serialized one object per line.
func (p *Porter) Export(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportStats, error) {
	observations, summaries, prompts, err := p.store.ExportCounts(ctx, opts.Project)
	if err != nil {
		return nil, fmt.Errorf("export counts: %w", err)
	}

	stats := &ExportStats{
		Counts: Counts{Observations: observations, Summaries: summaries, Prompts: prompts},
	}

	meta := &Meta{
		Version:    SchemaVersion,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		ExportID:   uuid.NewString(),
		Counts:     stats.Counts,
	}
	if opts.Project != "" {
		meta.Filters = &Filters{Project: opts.Project}
	}
	if err := writeLine(w, metaLine{Meta: meta}, &stats.Lines); err != nil {
		return nil, err
	}

	var afterEpoch, afterID int64
	for {
		batch, err := p.store.ExportScanObservations(ctx, opts.Project, afterEpoch, afterID, ExportBatchSize)
		if err != nil {
			return nil, fmt.Errorf("scan observations: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, obs := range batch {
			if err := writeLine(w, observationToRecord(obs), &stats.Lines); err != nil {
				return nil, err
			}
		}
		last := batch[len(batch)-1]
		afterEpoch, afterID = last.CreatedAtEpoch, last.ID
	}

	afterEpoch, afterID = 0, 0
	for {
		batch, err := p.store.ExportScanSummaries(ctx, opts.Project, afterEpoch, afterID, ExportBatchSize)
		if err != nil {
			return nil, fmt.Errorf("scan summaries: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, summary := range batch {
			if err := writeLine(w, summaryToRecord(summary), &stats.Lines); err != nil {
				return nil, err
			}
		}
		last := batch[len(batch)-1]
		afterEpoch, afterID = last.CreatedAtEpoch, last.ID
	}

	afterEpoch, afterID = 0, 0
	for {
		batch, err := p.store.ExportScanPrompts(ctx, opts.Project, afterEpoch, afterID, ExportBatchSize)
		if err != nil {
			return nil, fmt.Errorf("scan prompts: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		for _, prompt := range batch {
			if err := writeLine(w, promptToRecord(prompt), &stats.Lines); err != nil {
				return nil, err
			}
		}
		last := batch[len(batch)-1]
		afterEpoch, afterID = last.CreatedAtEpoch, last.ID
	}

	p.log.Info().
		Int64("observations", stats.Counts.Observations).
		Int64("summaries", stats.Counts.Summaries).
		Int64("prompts", stats.Counts.Prompts).
		Msg("export completed")
	return stats, nil
}

func writeLine(w io.Writer, v interface{}, lines *int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal export line: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write export line: %w", err)
	}
	*lines++
	return nil
}
