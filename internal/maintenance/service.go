// Package maintenance runs the background upkeep passes: stale detection,
// consolidation, retention sweeps, and decay statistics.
package maintenance

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
)

// StaleScanLimit bounds how many recent observations one stale-detection
// pass inspects.
const StaleScanLimit = 500

// activeProjectWindow bounds which projects a scheduled tick visits for
// the per-project passes. Dormant projects are still swept by retention.
const activeProjectWindow = 7 * 24 * time.Hour

// Service owns the maintenance passes and an optional periodic scheduler.
type Service struct {
	observations *sqlite.ObservationStore
	policy       sqlite.RetentionPolicy
	interval     time.Duration
	log          zerolog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Config holds maintenance service configuration.
type Config struct {
	Observations *sqlite.ObservationStore
	Policy       sqlite.RetentionPolicy
	Interval     time.Duration
}

// NewService creates a maintenance service. Interval <= 0 disables the
// scheduler; the individual passes remain callable.
func NewService(cfg Config) *Service {
	return &Service{
		observations: cfg.Observations,
		policy:       cfg.Policy,
		interval:     cfg.Interval,
		log:          log.With().Str("component", "maintenance").Logger(),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// DetectStale checks the most recent observations of a project that carry
// a files_modified list. An observation is stale when any listed file's
// mtime is newer than the observation's creation epoch. Stat failures on
// individual paths are skipped, never fatal. Returns the stale count.
func (s *Service) DetectStale(ctx context.Context, project string) (int, error) {
	candidates, err := s.observations.GetStaleCandidates(ctx, project, StaleScanLimit)
	if err != nil {
		return 0, err
	}

	var staleIDs []int64
	for _, c := range candidates {
		for _, path := range c.FilesModified {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.ModTime().UnixMilli() > c.CreatedAtEpoch {
				staleIDs = append(staleIDs, c.ID)
				break
			}
		}
	}

	if len(staleIDs) > 0 {
		if err := s.observations.MarkStale(ctx, staleIDs, true); err != nil {
			return 0, err
		}
	}
	return len(staleIDs), nil
}

// Consolidate merges duplicate observation groups for a project.
func (s *Service) Consolidate(ctx context.Context, project string, opts sqlite.ConsolidateOptions) (*sqlite.ConsolidateResult, error) {
	return s.observations.Consolidate(ctx, project, opts)
}

// GetDecayStats returns decay statistics for a project.
func (s *Service) GetDecayStats(ctx context.Context, project string) (*sqlite.DecayStats, error) {
	return s.observations.GetDecayStats(ctx, project)
}

// ApplyRetention runs one retention sweep with the configured policy.
func (s *Service) ApplyRetention(ctx context.Context) (*sqlite.RetentionResult, error) {
	return s.observations.ApplyRetention(ctx, s.policy)
}

// Start launches the periodic scheduler. Each tick runs a retention sweep
// followed by per-project stale detection, consolidation, and decay-stat
// logging. No-op when no interval is configured.
func (s *Service) Start() {
	if s.started.Swap(true) {
		return
	}
	if s.interval <= 0 {
		close(s.doneCh)
		return
	}
	go s.run()
}

// Stop signals the scheduler and waits for the current pass to finish.
// Safe to call more than once, and before Start.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started.Load() {
		<-s.doneCh
	}
}

func (s *Service) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("maintenance scheduler started")

	for {
		select {
		case <-s.stopCh:
			s.log.Info().Msg("maintenance scheduler stopped")
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick runs every pass once. Each task is error-isolated: a failure is
// logged and the remaining tasks still run.
func (s *Service) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if result, err := s.ApplyRetention(ctx); err != nil {
		s.log.Warn().Err(err).Msg("retention sweep failed")
	} else {
		s.log.Info().
			Int64("observations", result.Observations).
			Int64("knowledge", result.Knowledge).
			Int64("summaries", result.Summaries).
			Int64("prompts", result.Prompts).
			Msg("retention sweep completed")
	}

	since := time.Now().Add(-activeProjectWindow).UnixMilli()
	projects, err := s.observations.ActiveProjects(ctx, since)
	if err != nil {
		s.log.Warn().Err(err).Msg("active project scan failed")
		return
	}

	for _, project := range projects {
		if marked, err := s.DetectStale(ctx, project); err != nil {
			s.log.Warn().Err(err).Str("project", project).Msg("stale detection failed")
		} else if marked > 0 {
			s.log.Info().Int("marked", marked).Str("project", project).
				Msg("stale observations flagged")
		}

		if result, err := s.Consolidate(ctx, project, sqlite.ConsolidateOptions{}); err != nil {
			s.log.Warn().Err(err).Str("project", project).Msg("consolidation failed")
		} else if result.Removed > 0 {
			s.log.Info().Int("merged", result.Merged).Int("removed", result.Removed).
				Str("project", project).Msg("duplicate observations consolidated")
		}

		if stats, err := s.GetDecayStats(ctx, project); err != nil {
			s.log.Warn().Err(err).Str("project", project).Msg("decay stats failed")
		} else {
			s.log.Debug().Int("total", stats.Total).Int("stale", stats.Stale).
				Str("project", project).Msg("decay stats")
		}
	}
}
