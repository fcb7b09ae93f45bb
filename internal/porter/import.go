package porter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
	"github.com/thebtf/kiro-memory/pkg/models"
)

// ImportBatchSize is how many accepted records per type one transaction
// carries.
const ImportBatchSize = 100

// maxErrorDetails caps how many line-level errors the result reports.
const maxErrorDetails = 20

// maxLineBytes bounds one JSONL line; observation text alone can reach
// 100k, so leave generous headroom.
const maxLineBytes = 4 * 1024 * 1024

// ImportOptions tunes an import.
type ImportOptions struct {
	DryRun bool
}

// ImportResult reports what an import did.
type ImportResult struct {
	Imported     int      `json:"imported"`
	Skipped      int      `json:"skipped"`
	Errors       int      `json:"errors"`
	Total        int      `json:"total"`
	ErrorDetails []string `json:"error_details,omitempty"`
}

func (r *ImportResult) addError(lineNo int, line string, err error) {
	r.Errors++
	if len(r.ErrorDetails) < maxErrorDetails {
		r.ErrorDetails = append(r.ErrorDetails, fmt.Sprintf("line %d: %v (%s)", lineNo, err, excerpt(line)))
	}
}

func excerpt(line string) string {
	line = strings.TrimSpace(line)
	if len(line) > 80 {
		line = line[:80] + "..."
	}
	return line
}

// importState accumulates batches and the in-file dedup sets.
type importState struct {
	observations []*models.Observation
	summaries    []*models.Summary
	prompts      []*models.Prompt

	seenHashes      map[string]bool
	seenSummaryKeys map[string]bool
	seenPromptKeys  map[string]bool
}

// Import reads JSONL records and inserts them in batches, one transaction
// per batch. Lines that are empty or start with # are skipped silently;
// a _meta line is tolerated anywhere. Dedup is per family: observations by
// content hash, summaries by (session_id, project, created_at_epoch),
// prompts by (content_session_id, prompt_number). DryRun counts what would
// happen without writing.
func (p *Porter) Import(ctx context.Context, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}
	state := &importState{
		seenHashes:      make(map[string]bool),
		seenSummaryKeys: make(map[string]bool),
		seenPromptKeys:  make(map[string]bool),
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		var probe struct {
			Meta *Meta  `json:"_meta"`
			Type string `json:"_type"`
		}
		if err := json.Unmarshal([]byte(line), &probe); err != nil {
			result.addError(lineNo, line, fmt.Errorf("invalid JSON: %w", err))
			continue
		}
		if probe.Meta != nil {
			continue
		}

		switch probe.Type {
		case TypeObservation:
			var rec observationRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				result.addError(lineNo, line, err)
				continue
			}
			if err := rec.validate(); err != nil {
				result.addError(lineNo, line, err)
				continue
			}
			state.observations = append(state.observations, withTimestamps(rec.toModel()))

		case TypeSummary:
			var rec summaryRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				result.addError(lineNo, line, err)
				continue
			}
			if err := rec.validate(); err != nil {
				result.addError(lineNo, line, err)
				continue
			}
			summary := rec.toModel()
			if summary.CreatedAt == "" || summary.CreatedAtEpoch == 0 {
				now := time.Now()
				summary.CreatedAt = now.UTC().Format(time.RFC3339)
				summary.CreatedAtEpoch = now.UnixMilli()
			}
			state.summaries = append(state.summaries, summary)

		case TypePrompt:
			var rec promptRecord
			if err := json.Unmarshal([]byte(line), &rec); err != nil {
				result.addError(lineNo, line, err)
				continue
			}
			if err := rec.validate(); err != nil {
				result.addError(lineNo, line, err)
				continue
			}
			prompt := rec.toModel()
			if prompt.CreatedAt == "" || prompt.CreatedAtEpoch == 0 {
				now := time.Now()
				prompt.CreatedAt = now.UTC().Format(time.RFC3339)
				prompt.CreatedAtEpoch = now.UnixMilli()
			}
			state.prompts = append(state.prompts, prompt)

		default:
			result.addError(lineNo, line, fmt.Errorf("unknown _type %q", probe.Type))
			continue
		}

		if err := p.flushFull(ctx, state, result, opts.DryRun); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read import stream: %w", err)
	}

	if err := p.flushAll(ctx, state, result, opts.DryRun); err != nil {
		return nil, err
	}

	result.Total = result.Imported + result.Skipped + result.Errors
	p.log.Info().
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Int("errors", result.Errors).
		Bool("dry_run", opts.DryRun).
		Msg("import completed")
	return result, nil
}

func withTimestamps(obs *models.Observation) *models.Observation {
	if obs.CreatedAt == "" || obs.CreatedAtEpoch == 0 {
		now := time.Now()
		obs.CreatedAt = now.UTC().Format(time.RFC3339)
		obs.CreatedAtEpoch = now.UnixMilli()
	}
	return obs
}

// flushFull flushes any batch that reached ImportBatchSize.
func (p *Porter) flushFull(ctx context.Context, state *importState, result *ImportResult, dryRun bool) error {
	if len(state.observations) >= ImportBatchSize {
		if err := p.flushObservations(ctx, state, result, dryRun); err != nil {
			return err
		}
	}
	if len(state.summaries) >= ImportBatchSize {
		if err := p.flushSummaries(ctx, state, result, dryRun); err != nil {
			return err
		}
	}
	if len(state.prompts) >= ImportBatchSize {
		if err := p.flushPrompts(ctx, state, result, dryRun); err != nil {
			return err
		}
	}
	return nil
}

func (p *Porter) flushAll(ctx context.Context, state *importState, result *ImportResult, dryRun bool) error {
	if err := p.flushObservations(ctx, state, result, dryRun); err != nil {
		return err
	}
	if err := p.flushSummaries(ctx, state, result, dryRun); err != nil {
		return err
	}
	return p.flushPrompts(ctx, state, result, dryRun)
}

func (p *Porter) flushObservations(ctx context.Context, state *importState, result *ImportResult, dryRun bool) error {
	batch := state.observations
	state.observations = nil
	if len(batch) == 0 {
		return nil
	}

	return p.store.Transaction(ctx, func(ctx context.Context, tx sqlite.Querier) error {
		for _, obs := range batch {
			if state.seenHashes[obs.ContentHash] {
				result.Skipped++
				continue
			}
			exists, err := sqlite.ObservationHashExists(ctx, tx, obs.ContentHash)
			if err != nil {
				return err
			}
			if exists {
				result.Skipped++
				continue
			}

			state.seenHashes[obs.ContentHash] = true
			if !dryRun {
				if err := sqlite.InsertObservationRaw(ctx, tx, obs); err != nil {
					return err
				}
			}
			result.Imported++
		}
		return nil
	})
}

func (p *Porter) flushSummaries(ctx context.Context, state *importState, result *ImportResult, dryRun bool) error {
	batch := state.summaries
	state.summaries = nil
	if len(batch) == 0 {
		return nil
	}

	return p.store.Transaction(ctx, func(ctx context.Context, tx sqlite.Querier) error {
		for _, summary := range batch {
			key := fmt.Sprintf("%s|%s|%d", summary.SessionID, summary.Project, summary.CreatedAtEpoch)
			if state.seenSummaryKeys[key] {
				result.Skipped++
				continue
			}
			exists, err := sqlite.SummaryKeyExists(ctx, tx, summary.SessionID, summary.Project, summary.CreatedAtEpoch)
			if err != nil {
				return err
			}
			if exists {
				result.Skipped++
				continue
			}

			state.seenSummaryKeys[key] = true
			if !dryRun {
				if err := sqlite.InsertSummaryRaw(ctx, tx, summary); err != nil {
					return err
				}
			}
			result.Imported++
		}
		return nil
	})
}

func (p *Porter) flushPrompts(ctx context.Context, state *importState, result *ImportResult, dryRun bool) error {
	batch := state.prompts
	state.prompts = nil
	if len(batch) == 0 {
		return nil
	}

	return p.store.Transaction(ctx, func(ctx context.Context, tx sqlite.Querier) error {
		for _, prompt := range batch {
			key := fmt.Sprintf("%s|%d", prompt.ContentSessionID, prompt.PromptNumber)
			if state.seenPromptKeys[key] {
				result.Skipped++
				continue
			}
			exists, err := sqlite.PromptKeyExists(ctx, tx, prompt.ContentSessionID, prompt.PromptNumber)
			if err != nil {
				return err
			}
			if exists {
				result.Skipped++
				continue
			}

			state.seenPromptKeys[key] = true
			if !dryRun {
				if err := sqlite.InsertPromptRaw(ctx, tx, prompt); err != nil {
					return err
				}
			}
			result.Imported++
		}
		return nil
	})
}
