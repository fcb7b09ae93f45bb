package engine

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/kiro-memory/internal/config"
	"github.com/thebtf/kiro-memory/internal/db/sqlite"
	"github.com/thebtf/kiro-memory/internal/porter"
	"github.com/thebtf/kiro-memory/internal/search"
	"github.com/thebtf/kiro-memory/pkg/models"
)

type EngineSuite struct {
	suite.Suite
	engine *Engine
	ctx    context.Context
}

func (s *EngineSuite) SetupTest() {
	s.engine = newTestEngine(s.T(), nil)
	s.ctx = context.Background()
}

func (s *EngineSuite) TestStoreObservation() {
	id, err := s.engine.StoreObservation(s.ctx, StoreObservationParams{
		SessionID: "sess-1",
		Project:   "memory",
		Type:      models.ObsTypeToolUse,
		Title:     "inspected the queue",
		Text:      "backlog was empty",
	})
	s.Require().NoError(err)
	s.Greater(id, int64(0))

	obs, err := s.engine.GetObservation(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(obs)
	s.Equal("inspected the queue", obs.Title)
}

func (s *EngineSuite) TestStoreObservationDedup() {
	p := StoreObservationParams{
		SessionID: "sess-1",
		Project:   "memory",
		Type:      models.ObsTypeToolUse,
		Title:     "same event twice",
	}

	first, err := s.engine.StoreObservation(s.ctx, p)
	s.Require().NoError(err)
	s.Greater(first, int64(0))

	// The second write lands inside the type's dedup window.
	second, err := s.engine.StoreObservation(s.ctx, p)
	s.Require().NoError(err)
	s.Equal(DedupSkipped, second)
}

func (s *EngineSuite) TestStoreKnowledge() {
	id, err := s.engine.StoreKnowledge(s.ctx, StoreKnowledgeParams{
		SessionID:  "sess-1",
		Project:    "memory",
		Kind:       models.KnowledgeConstraint,
		Title:      "never block the hook path",
		Narrative:  "hooks run inline with the editor",
		Importance: 5,
		Rationale:  "latency budget is 100ms",
	})
	s.Require().NoError(err)

	obs, err := s.engine.GetObservation(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(models.ObsTypeConstraint, obs.Type)

	facts := models.DecodeKnowledgeFacts(obs.Facts.String)
	s.Require().NotNil(facts)
	s.Equal(models.KnowledgeConstraint, facts.Kind)
	s.Equal(5, facts.Importance)
}

func (s *EngineSuite) TestStoreKnowledgeRejectsUnknownKind() {
	_, err := s.engine.StoreKnowledge(s.ctx, StoreKnowledgeParams{
		SessionID: "sess-1",
		Project:   "memory",
		Kind:      "opinion",
		Title:     "tabs beat spaces",
	})
	s.Error(err)
}

func (s *EngineSuite) TestSessionLifecycle() {
	session, err := s.engine.GetOrCreateSession(s.ctx, "ext-1", "memory")
	s.Require().NoError(err)
	s.Equal(models.SessionActive, session.Status)

	_, err = s.engine.StorePrompt(s.ctx, "ext-1", 1, "look into the flaky test")
	s.Require().NoError(err)
	_, err = s.engine.StorePrompt(s.ctx, "ext-1", 2, "now fix it")
	s.Require().NoError(err)

	_, err = s.engine.StoreSummary(s.ctx, sqlite.CreateSummaryParams{
		SessionID: "ext-1",
		Project:   "memory",
		Request:   "fix the flaky test",
		Completed: "stabilized the fixture",
	})
	s.Require().NoError(err)

	s.Require().NoError(s.engine.CompleteSession(s.ctx, "ext-1"))

	sctx, err := s.engine.GetContext(s.ctx, "memory")
	s.Require().NoError(err)
	s.Len(sctx.RecentPrompts, 2)
	s.Len(sctx.RecentSummaries, 1)
}

func (s *EngineSuite) TestFailSession() {
	_, err := s.engine.GetOrCreateSession(s.ctx, "ext-2", "memory")
	s.Require().NoError(err)
	s.Require().NoError(s.engine.FailSession(s.ctx, "ext-2"))

	session, err := s.engine.GetOrCreateSession(s.ctx, "ext-2", "memory")
	s.Require().NoError(err)
	s.Equal(models.SessionFailed, session.Status)
}

func (s *EngineSuite) TestTimeline() {
	base := time.Now().Add(-time.Hour).UnixMilli()
	var ids []int64
	for i, title := range []string{"step one", "step two", "step three"} {
		ids = append(ids, seedRaw(s.T(), s.engine, rawObservation("memory", title, base+int64(i)*1000)))
	}

	timeline, err := s.engine.Timeline(s.ctx, ids[1], 0, 0)
	s.Require().NoError(err)
	s.Require().Len(timeline, 3)
	s.Equal("step one", timeline[0].Title)
	s.Equal("step three", timeline[2].Title)
}

func (s *EngineSuite) TestListObservationsPagination() {
	base := time.Now().Add(-time.Hour).UnixMilli()
	for i, title := range []string{"first", "second", "third"} {
		seedRaw(s.T(), s.engine, rawObservation("memory", title, base+int64(i)*1000))
	}

	page, err := s.engine.ListObservations(s.ctx, "memory", 2, "")
	s.Require().NoError(err)
	s.Require().Len(page.Observations, 2)
	s.Equal("third", page.Observations[0].Title)
	s.NotEmpty(page.NextCursor)

	page, err = s.engine.ListObservations(s.ctx, "memory", 2, page.NextCursor)
	s.Require().NoError(err)
	s.Require().Len(page.Observations, 1)
	s.Equal("first", page.Observations[0].Title)
	s.Empty(page.NextCursor)
}

func (s *EngineSuite) TestCheckpointSnapshotsRecentActivity() {
	base := time.Now().Add(-time.Hour).UnixMilli()
	seedRaw(s.T(), s.engine, rawObservation("memory", "traced the import path", base))

	id, err := s.engine.CreateCheckpoint(s.ctx, sqlite.CreateCheckpointParams{
		SessionID: "sess-1",
		Project:   "memory",
		Task:      "finish the import rework",
	})
	s.Require().NoError(err)

	cp, err := s.engine.GetCheckpoint(s.ctx, id)
	s.Require().NoError(err)
	s.Require().NotNil(cp)
	s.Contains(cp.ContextSnapshot.String, "traced the import path")

	latest, err := s.engine.GetLatestProjectCheckpoint(s.ctx, "memory")
	s.Require().NoError(err)
	s.Require().NotNil(latest)
	s.Equal(id, latest.ID)
}

func (s *EngineSuite) TestCheckpointKeepsCallerSnapshot() {
	id, err := s.engine.CreateCheckpoint(s.ctx, sqlite.CreateCheckpointParams{
		SessionID:       "sess-1",
		Project:         "memory",
		Task:            "resume later",
		ContextSnapshot: `{"handwritten":true}`,
	})
	s.Require().NoError(err)

	cp, err := s.engine.GetCheckpoint(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(`{"handwritten":true}`, cp.ContextSnapshot.String)
}

func (s *EngineSuite) TestConsolidate() {
	base := time.Now().Add(-time.Hour).UnixMilli()
	for i := 0; i < 3; i++ {
		obs := rawObservation("memory", "edited the worker loop", base+int64(i)*1000)
		obs.Type = models.ObsTypeFileWrite
		obs.FilesModified = models.JSONStringArray{"internal/worker/service.go"}
		obs.Title = obs.Title + " " + string(rune('a'+i))
		seedRaw(s.T(), s.engine, obs)
	}

	result, err := s.engine.ConsolidateObservations(s.ctx, "memory", sqlite.ConsolidateOptions{})
	s.Require().NoError(err)
	s.Equal(1, result.Merged)
	s.Equal(2, result.Removed)

	page, err := s.engine.ListObservations(s.ctx, "memory", 10, "")
	s.Require().NoError(err)
	s.Require().Len(page.Observations, 1)
	s.True(strings.HasPrefix(page.Observations[0].Title, "[consolidated x3] "))
}

func (s *EngineSuite) TestSearchLexicalOnly() {
	base := time.Now().Add(-time.Hour).UnixMilli()
	seedRaw(s.T(), s.engine, rawObservation("memory", "chased a goroutine leak", base))
	seedRaw(s.T(), s.engine, rawObservation("memory", "wrote release notes", base+1000))

	results, err := s.engine.Search(s.ctx, "goroutine", "memory")
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.Equal("chased a goroutine leak", results[0].Observation.Title)
}

func (s *EngineSuite) TestSearchRanksFreshTitleHitFirst() {
	// The old row only mentions the term in its body; the fresh row carries
	// it in the heavily weighted title and wins on both rank and recency.
	old := rawObservation("memory", "scheduler stall last quarter", time.Now().AddDate(0, -3, 0).UnixMilli())
	old.Stale = true
	old.Text.String = "root cause was a deadlock on the tick channel"
	seedRaw(s.T(), s.engine, old)
	seedRaw(s.T(), s.engine, rawObservation("memory", "deadlock in the queue drain", time.Now().Add(-time.Hour).UnixMilli()))

	results, err := s.engine.Search(s.ctx, "deadlock", "memory")
	s.Require().NoError(err)
	s.Require().Len(results, 2)
	s.Equal("deadlock in the queue drain", results[0].Observation.Title)
	s.Greater(results[0].Score, results[1].Score)
}

func (s *EngineSuite) TestSemanticSearchUnavailable() {
	_, err := s.engine.SemanticSearch(s.ctx, "anything", search.Options{})
	s.Error(err)
}

func (s *EngineSuite) TestGenerateReport() {
	base := time.Now().Add(-time.Hour).UnixMilli()
	seedRaw(s.T(), s.engine, rawObservation("memory", "window hit", base))
	seedRaw(s.T(), s.engine, rawObservation("elsewhere", "other project hit", base))
	seedRaw(s.T(), s.engine, rawObservation("memory", "outside the window", base-48*3600*1000))

	report, err := s.engine.GenerateReport(s.ctx, ReportOptions{Period: PeriodDay})
	s.Require().NoError(err)
	s.Equal(int64(2), report.Observations)
	s.NotEmpty(report.BusiestProjects)

	report, err = s.engine.GenerateReport(s.ctx, ReportOptions{Project: "memory", Period: PeriodDay})
	s.Require().NoError(err)
	s.Equal(int64(1), report.Observations)
	s.Empty(report.BusiestProjects)
	s.Equal(int64(1), report.ByType["tool-use"])
}

func (s *EngineSuite) TestGenerateReportRejectsBadOptions() {
	_, err := s.engine.GenerateReport(s.ctx, ReportOptions{Period: "fortnight"})
	s.Error(err)

	now := time.Now().UnixMilli()
	_, err = s.engine.GenerateReport(s.ctx, ReportOptions{StartEpoch: now, EndEpoch: now - 1000})
	s.Error(err)
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func TestApplyRetentionKeepsImportantKnowledge(t *testing.T) {
	e := newTestEngine(t, func(cfg *config.Config) {
		cfg.ObservationsMaxAgeDays = 90
		cfg.KnowledgeMaxAgeDays = 365
	})
	ctx := context.Background()

	old := time.Now().AddDate(-2, 0, 0).UnixMilli()
	seedRaw(t, e, rawObservation("memory", "forgettable activity", old))

	keep := rawObservation("memory", "critical constraint", old)
	keep.Type = models.ObsTypeConstraint
	facts, err := models.KnowledgeFacts{Kind: models.KnowledgeConstraint, Importance: 5}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	keep.Facts = sqlNullString(facts)
	seedRaw(t, e, keep)

	drop := rawObservation("memory", "minor heuristic", old)
	drop.Type = models.ObsTypeHeuristic
	facts, err = models.KnowledgeFacts{Kind: models.KnowledgeHeuristic, Importance: 2}.Encode()
	if err != nil {
		t.Fatal(err)
	}
	drop.Facts = sqlNullString(facts)
	seedRaw(t, e, drop)

	result, err := e.ApplyRetention(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.Observations != 1 || result.Knowledge != 1 {
		t.Fatalf("swept observations=%d knowledge=%d, want 1 and 1",
			result.Observations, result.Knowledge)
	}

	page, err := e.ListObservations(ctx, "memory", 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Observations) != 1 || page.Observations[0].Title != "critical constraint" {
		t.Fatalf("unexpected survivors: %+v", page.Observations)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	source := newTestEngine(t, nil)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour).UnixMilli()
	for i, title := range []string{"first finding", "second finding", "third finding"} {
		seedRaw(t, source, rawObservation("memory", title, base+int64(i)*1000))
	}
	if _, err := source.GetOrCreateSession(ctx, "ext-1", "memory"); err != nil {
		t.Fatal(err)
	}
	if _, err := source.StorePrompt(ctx, "ext-1", 1, "dig in"); err != nil {
		t.Fatal(err)
	}
	if _, err := source.StoreSummary(ctx, sqlite.CreateSummaryParams{
		SessionID: "ext-1", Project: "memory", Request: "dig in",
	}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	stats, err := source.Export(ctx, &buf, porter.ExportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Counts.Observations != 3 {
		t.Fatalf("exported %d observations, want 3", stats.Counts.Observations)
	}

	target := newTestEngine(t, nil)
	result, err := target.Import(ctx, bytes.NewReader(buf.Bytes()), porter.ImportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Imported != 5 || result.Skipped != 0 || result.Errors != 0 {
		t.Fatalf("import got imported=%d skipped=%d errors=%d, want 5/0/0",
			result.Imported, result.Skipped, result.Errors)
	}
}

func TestCloseWithoutStart(t *testing.T) {
	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.MaintenanceEnabled = false
	cfg.EmbeddingProvider = "disabled"

	e, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	// Close must not wait on background workers that were never launched.
	done := make(chan struct{})
	go func() {
		_ = e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close hung on an engine that was never started")
	}
}

func TestCreateAndListBackups(t *testing.T) {
	t.Setenv("KIRO_MEMORY_DIR", t.TempDir())

	e := newTestEngine(t, func(cfg *config.Config) {
		cfg.BackupMaxKeep = 5
	})
	ctx := context.Background()

	seedRaw(t, e, rawObservation("memory", "worth keeping", time.Now().UnixMilli()))

	entry, err := e.CreateBackup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Metadata.Stats.Observations != 1 {
		t.Fatalf("backup stats counted %d observations, want 1", entry.Metadata.Stats.Observations)
	}

	entries, err := e.ListBackups()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("listed %d backups, want 1", len(entries))
	}
}
