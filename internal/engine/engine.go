// Package engine wires the storage, search, embedding, and maintenance
// components into the single handle the worker exposes.
package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiro-memory/internal/backup"
	"github.com/thebtf/kiro-memory/internal/config"
	"github.com/thebtf/kiro-memory/internal/db/sqlite"
	"github.com/thebtf/kiro-memory/internal/embedding"
	"github.com/thebtf/kiro-memory/internal/maintenance"
	"github.com/thebtf/kiro-memory/internal/porter"
	"github.com/thebtf/kiro-memory/internal/search"
	"github.com/thebtf/kiro-memory/internal/vector"
	"github.com/thebtf/kiro-memory/internal/vector/pgvector"
	"github.com/thebtf/kiro-memory/pkg/models"
)

// DedupSkipped is returned by StoreObservation when the dedup window
// suppressed the write. Not an error.
const DedupSkipped int64 = -1

// Engine is the process-wide handle over the memory store. One Engine per
// process; all worker surfaces call through it.
type Engine struct {
	cfg *config.Config

	store        *sqlite.Store
	observations *sqlite.ObservationStore
	sessions     *sqlite.SessionStore
	summaries    *sqlite.SummaryStore
	prompts      *sqlite.PromptStore
	checkpoints  *sqlite.CheckpointStore
	aliases      *sqlite.AliasStore

	embedder *embedding.Service
	index    vector.Index
	queue    *embedding.Queue
	searcher *search.Searcher

	maintainer *maintenance.Service
	porter     *porter.Porter
	backups    *backup.Manager

	log zerolog.Logger
}

// New opens the store, selects the vector backend, and wires every
// component. The returned engine is not yet running; call Start.
func New(cfg *config.Config) (*Engine, error) {
	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: cfg.DBPath, MaxConns: cfg.MaxConns})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	e := &Engine{
		cfg:          cfg,
		store:        store,
		observations: sqlite.NewObservationStore(store),
		sessions:     sqlite.NewSessionStore(store),
		summaries:    sqlite.NewSummaryStore(store),
		prompts:      sqlite.NewPromptStore(store),
		checkpoints:  sqlite.NewCheckpointStore(store),
		aliases:      sqlite.NewAliasStore(store),
		embedder:     embedding.NewService(cfg.EmbeddingProvider),
		porter:       porter.New(store),
		backups:      backup.NewManager(store),
		log:          log.With().Str("component", "engine").Logger(),
	}

	switch cfg.VectorBackend {
	case "pgvector":
		client, err := pgvector.NewClient(pgvector.Config{
			DSN:        cfg.PGVectorDSN,
			Dimensions: cfg.EmbeddingDimensions,
		})
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("pgvector backend: %w", err)
		}
		e.index = client
	default:
		e.index = vector.NewSQLiteIndex(store)
	}

	e.queue = embedding.NewQueue(e.embedTask)
	e.searcher = search.NewSearcher(e.observations, e.index, e.embedder)

	interval := time.Duration(cfg.MaintenanceIntervalHours) * time.Hour
	if !cfg.MaintenanceEnabled {
		interval = 0
	}
	e.maintainer = maintenance.NewService(maintenance.Config{
		Observations: e.observations,
		Policy: sqlite.RetentionPolicy{
			ObservationsMaxAgeDays: cfg.ObservationsMaxAgeDays,
			SummariesMaxAgeDays:    cfg.SummariesMaxAgeDays,
			PromptsMaxAgeDays:      cfg.PromptsMaxAgeDays,
			KnowledgeMaxAgeDays:    cfg.KnowledgeMaxAgeDays,
		},
		Interval: interval,
	})

	return e, nil
}

// Start launches the background workers.
func (e *Engine) Start() {
	e.queue.Start()
	e.maintainer.Start()
	e.log.Info().Msg("engine started")
}

// Close stops the background workers and releases every resource.
func (e *Engine) Close() error {
	e.maintainer.Stop()
	e.queue.Stop()
	_ = e.embedder.Close()
	_ = e.index.Close()
	err := e.store.Close()
	e.log.Info().Msg("engine stopped")
	return err
}

// Store exposes the underlying store for surfaces that need raw access
// (backup quiesce, health checks).
func (e *Engine) Store() *sqlite.Store { return e.store }

// StoreObservationParams aliases the repository params for callers.
type StoreObservationParams = sqlite.CreateObservationParams

// StoreObservation persists one hook event. Returns DedupSkipped when a
// row with the same content hash exists within the type's dedup window.
// The embedding is scheduled fire-and-forget.
func (e *Engine) StoreObservation(ctx context.Context, p StoreObservationParams) (int64, error) {
	hash := p.ContentHash
	if hash == "" {
		hash = models.ContentHash(p.Project, p.Type, p.Title, p.Narrative)
		p.ContentHash = hash
	}

	dup, err := e.observations.IsDuplicate(ctx, hash, models.DedupWindow(p.Type))
	if err != nil {
		return 0, err
	}
	if dup {
		return DedupSkipped, nil
	}

	id, err := e.observations.CreateObservation(ctx, p)
	if err != nil {
		return 0, err
	}

	if e.embedder.IsAvailable() {
		e.queue.Enqueue(embedding.Task{
			ObservationID: id,
			Project:       p.Project,
			Text:          composeEmbedText(p.Title, p.Text, p.Narrative, p.Concepts),
		})
	}
	return id, nil
}

// StoreKnowledgeParams carries a durable knowledge record.
type StoreKnowledgeParams struct {
	SessionID    string
	Project      string
	Kind         models.KnowledgeKind
	Title        string
	Narrative    string
	Concepts     string
	Importance   int
	Rationale    string
	Source       string
	PromptNumber int
}

// StoreKnowledge validates the knowledge kind, encodes the typed facts
// union, and stores the record as an observation of that kind.
func (e *Engine) StoreKnowledge(ctx context.Context, p StoreKnowledgeParams) (int64, error) {
	if !models.ValidKnowledgeKind(p.Kind) {
		return 0, fmt.Errorf("invalid knowledge type %q", p.Kind)
	}

	facts, err := models.KnowledgeFacts{
		Kind:       p.Kind,
		Importance: p.Importance,
		Rationale:  p.Rationale,
		Source:     p.Source,
	}.Encode()
	if err != nil {
		return 0, err
	}

	return e.StoreObservation(ctx, StoreObservationParams{
		SessionID:    p.SessionID,
		Project:      p.Project,
		Type:         models.ObservationType(p.Kind),
		Title:        p.Title,
		Narrative:    p.Narrative,
		Concepts:     p.Concepts,
		Facts:        facts,
		PromptNumber: p.PromptNumber,
	})
}

// StoreSummary persists an end-of-session digest.
func (e *Engine) StoreSummary(ctx context.Context, p sqlite.CreateSummaryParams) (int64, error) {
	return e.summaries.CreateSummary(ctx, p)
}

// StorePrompt records a user prompt and bumps the session counter.
func (e *Engine) StorePrompt(ctx context.Context, sessionID string, promptNumber int, text string) (int64, error) {
	id, err := e.prompts.CreatePrompt(ctx, sessionID, promptNumber, text)
	if err != nil {
		return 0, err
	}
	if _, err := e.sessions.IncrementPromptCounter(ctx, sessionID); err != nil {
		e.log.Warn().Err(err).Str("session", sessionID).Msg("failed to bump prompt counter")
	}
	return id, nil
}

// GetOrCreateSession returns the session for an external id, creating it
// if needed.
func (e *Engine) GetOrCreateSession(ctx context.Context, externalID, project string) (*models.Session, error) {
	return e.sessions.GetOrCreateSession(ctx, externalID, project)
}

// CompleteSession marks a session completed.
func (e *Engine) CompleteSession(ctx context.Context, externalID string) error {
	return e.sessions.CompleteSession(ctx, externalID, models.SessionCompleted)
}

// FailSession marks a session failed.
func (e *Engine) FailSession(ctx context.Context, externalID string) error {
	return e.sessions.CompleteSession(ctx, externalID, models.SessionFailed)
}

// Search runs a hybrid search with default options.
func (e *Engine) Search(ctx context.Context, query, project string) ([]search.Result, error) {
	return e.searcher.Search(ctx, query, search.Options{Project: project})
}

// SearchAdvanced runs a hybrid search with explicit filters.
func (e *Engine) SearchAdvanced(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return e.searcher.Search(ctx, query, opts)
}

// HybridSearch is an explicit alias for SearchAdvanced kept for the tool
// surface.
func (e *Engine) HybridSearch(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return e.searcher.Search(ctx, query, opts)
}

// SemanticSearch runs the vector half only.
func (e *Engine) SemanticSearch(ctx context.Context, query string, opts search.Options) ([]search.Result, error) {
	return e.searcher.SemanticSearch(ctx, query, opts)
}

// Timeline returns observations around an anchor.
func (e *Engine) Timeline(ctx context.Context, anchorID int64, before, after int) ([]*models.Observation, error) {
	if before <= 0 {
		before = 5
	}
	if after <= 0 {
		after = 5
	}
	return e.observations.Timeline(ctx, anchorID, before, after)
}

// ListObservations returns one keyset page of a project's observations.
func (e *Engine) ListObservations(ctx context.Context, project string, limit int, cursor string) (*sqlite.ObservationPage, error) {
	return e.observations.ListObservationsPage(ctx, project, limit, cursor)
}

// GetObservation returns one observation by id, or nil.
func (e *Engine) GetObservation(ctx context.Context, id int64) (*models.Observation, error) {
	return e.observations.GetObservationByID(ctx, id)
}

// DetectStaleObservations runs a filesystem mtime pass for a project.
func (e *Engine) DetectStaleObservations(ctx context.Context, project string) (int, error) {
	return e.maintainer.DetectStale(ctx, project)
}

// ConsolidateObservations merges duplicate observation groups.
func (e *Engine) ConsolidateObservations(ctx context.Context, project string, opts sqlite.ConsolidateOptions) (*sqlite.ConsolidateResult, error) {
	return e.maintainer.Consolidate(ctx, project, opts)
}

// GetDecayStats returns decay statistics for a project.
func (e *Engine) GetDecayStats(ctx context.Context, project string) (*sqlite.DecayStats, error) {
	return e.maintainer.GetDecayStats(ctx, project)
}

// ApplyRetention runs one retention sweep with the configured policy.
func (e *Engine) ApplyRetention(ctx context.Context) (*sqlite.RetentionResult, error) {
	return e.maintainer.ApplyRetention(ctx)
}

// CreateCheckpoint stores a resumption point, snapshotting the project's
// 10 most recent observations when the caller provides none.
func (e *Engine) CreateCheckpoint(ctx context.Context, p sqlite.CreateCheckpointParams) (int64, error) {
	if p.ContextSnapshot == "" && p.Project != "" {
		if snapshot, err := e.snapshotRecent(ctx, p.Project); err == nil {
			p.ContextSnapshot = snapshot
		}
	}
	return e.checkpoints.CreateCheckpoint(ctx, p)
}

// snapshotRecent serializes the project's 10 most recent observations as
// the checkpoint's context snapshot.
func (e *Engine) snapshotRecent(ctx context.Context, project string) (string, error) {
	recent, err := e.observations.GetRecentObservations(ctx, project, 10)
	if err != nil {
		return "", err
	}

	type snapshotItem struct {
		ID    int64  `json:"id"`
		Type  string `json:"type"`
		Title string `json:"title"`
		Epoch int64  `json:"created_at_epoch"`
	}
	items := make([]snapshotItem, 0, len(recent))
	for _, obs := range recent {
		items = append(items, snapshotItem{
			ID:    obs.ID,
			Type:  string(obs.Type),
			Title: obs.Title,
			Epoch: obs.CreatedAtEpoch,
		})
	}

	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// GetCheckpoint returns a checkpoint by id.
func (e *Engine) GetCheckpoint(ctx context.Context, id int64) (*models.Checkpoint, error) {
	return e.checkpoints.GetCheckpoint(ctx, id)
}

// GetLatestProjectCheckpoint returns a project's newest checkpoint.
func (e *Engine) GetLatestProjectCheckpoint(ctx context.Context, project string) (*models.Checkpoint, error) {
	return e.checkpoints.GetLatestProjectCheckpoint(ctx, project)
}

// SetProjectAlias upserts a display name for a project.
func (e *Engine) SetProjectAlias(ctx context.Context, projectName, displayName string) error {
	return e.aliases.SetProjectAlias(ctx, projectName, displayName)
}

// Export streams the store as JSONL.
func (e *Engine) Export(ctx context.Context, w io.Writer, opts porter.ExportOptions) (*porter.ExportStats, error) {
	return e.porter.Export(ctx, w, opts)
}

// Import reads JSONL records into the store.
func (e *Engine) Import(ctx context.Context, r io.Reader, opts porter.ImportOptions) (*porter.ImportResult, error) {
	return e.porter.Import(ctx, r, opts)
}

// CreateBackup snapshots the database into the backup directory and
// rotates old snapshots per config.
func (e *Engine) CreateBackup(ctx context.Context) (*backup.Entry, error) {
	entry, err := e.backups.Create(ctx, e.cfg.DBPath, config.BackupDir())
	if err != nil {
		return nil, err
	}
	if e.cfg.BackupMaxKeep > 0 {
		if _, err := backup.Rotate(config.BackupDir(), e.cfg.BackupMaxKeep); err != nil {
			e.log.Warn().Err(err).Msg("backup rotation failed")
		}
	}
	return entry, nil
}

// ListBackups returns the available snapshots, newest first.
func (e *Engine) ListBackups() ([]backup.Entry, error) {
	return backup.List(config.BackupDir())
}

// composeEmbedText builds the embedding input from the searchable fields.
func composeEmbedText(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, "\n")
}

// embedTask is the queue handler: embed one observation and persist its
// vector. Failures are logged and swallowed; the row stays and a backfill
// can retry.
func (e *Engine) embedTask(ctx context.Context, task embedding.Task) {
	vec, err := e.embedder.Embed(task.Text)
	if err != nil {
		e.log.Debug().Err(err).Int64("observation_id", task.ObservationID).Msg("embedding failed")
		return
	}
	if len(vec) == 0 {
		return
	}
	if err := e.index.Put(ctx, task.ObservationID, task.Project, vec, e.embedder.Provider()); err != nil {
		e.log.Debug().Err(err).Int64("observation_id", task.ObservationID).Msg("vector store failed")
	}
}

// BackfillEmbeddings embeds up to batchSize observations that have no
// vector yet. Returns the count embedded.
func (e *Engine) BackfillEmbeddings(ctx context.Context, batchSize int) (int, error) {
	if !e.embedder.IsAvailable() {
		return 0, fmt.Errorf("no embedding backend available")
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	pending, err := e.observations.GetObservationsWithoutEmbeddings(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	embedded := 0
	for _, obs := range pending {
		text := composeEmbedText(obs.Title, obs.Text.String, obs.Narrative.String, obs.Concepts.String)
		vec, err := e.embedder.Embed(text)
		if err != nil {
			e.log.Debug().Err(err).Int64("observation_id", obs.ID).Msg("backfill embedding failed")
			continue
		}
		if len(vec) == 0 {
			continue
		}
		if err := e.index.Put(ctx, obs.ID, obs.Project, vec, e.embedder.Provider()); err != nil {
			e.log.Debug().Err(err).Int64("observation_id", obs.ID).Msg("backfill vector store failed")
			continue
		}
		embedded++
	}
	return embedded, nil
}

// GetEmbeddingStats reports embedding coverage.
func (e *Engine) GetEmbeddingStats(ctx context.Context) (*vector.Stats, error) {
	stats, err := e.index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	if stats.TotalObservations == 0 {
		total, err := e.observations.CountAll(ctx)
		if err != nil {
			return nil, err
		}
		stats.TotalObservations = total
		if total > 0 {
			stats.Percent = float64(stats.Embedded) / float64(total) * 100
		}
	}
	return stats, nil
}
