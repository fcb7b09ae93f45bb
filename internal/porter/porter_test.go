package porter

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
	"github.com/thebtf/kiro-memory/pkg/models"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.NewStore(sqlite.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedStore(t *testing.T, store *sqlite.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).UnixMilli()

	for i, title := range []string{"traced the deadlock", "rewrote the pool", "added the drain step"} {
		epoch := base + int64(i)*1000
		obs := &models.Observation{
			SessionID:      "sess-export",
			Project:        "memory",
			Type:           models.ObsTypeToolUse,
			Title:          title,
			Text:           sql.NullString{String: "details of " + title, Valid: true},
			ContentHash:    models.ContentHash("memory", models.ObsTypeToolUse, title, ""),
			CreatedAt:      time.UnixMilli(epoch).UTC().Format(time.RFC3339),
			CreatedAtEpoch: epoch,
		}
		require.NoError(t, sqlite.InsertObservationRaw(ctx, store, obs))
	}

	require.NoError(t, sqlite.InsertSummaryRaw(ctx, store, &models.Summary{
		SessionID:      "sess-export",
		Project:        "memory",
		Request:        sql.NullString{String: "stabilize the worker pool", Valid: true},
		CreatedAt:      time.UnixMilli(base).UTC().Format(time.RFC3339),
		CreatedAtEpoch: base,
	}))

	require.NoError(t, sqlite.InsertPromptRaw(ctx, store, &models.Prompt{
		ContentSessionID: "sess-export",
		PromptNumber:     1,
		Text:             "why does shutdown hang",
		CreatedAt:        time.UnixMilli(base).UTC().Format(time.RFC3339),
		CreatedAtEpoch:   base,
	}))
}

func TestExportWritesMetaAndRecords(t *testing.T) {
	store := newTestStore(t)
	seedStore(t, store)

	var buf bytes.Buffer
	stats, err := New(store).Export(context.Background(), &buf, ExportOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Counts.Observations)
	assert.Equal(t, int64(1), stats.Counts.Summaries)
	assert.Equal(t, int64(1), stats.Counts.Prompts)
	assert.Equal(t, int64(6), stats.Lines)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 6)

	var meta metaLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &meta))
	require.NotNil(t, meta.Meta)
	assert.Equal(t, SchemaVersion, meta.Meta.Version)
	assert.Equal(t, int64(3), meta.Meta.Counts.Observations)
	assert.NotEmpty(t, meta.Meta.ExportID)

	// Observations stream oldest first.
	var first observationRecord
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &first))
	assert.Equal(t, TypeObservation, first.RecordType)
	assert.Equal(t, "traced the deadlock", first.Title)
}

func TestExportProjectFilter(t *testing.T) {
	store := newTestStore(t)
	seedStore(t, store)

	other := &models.Observation{
		SessionID:      "sess-other",
		Project:        "elsewhere",
		Type:           models.ObsTypeToolUse,
		Title:          "unrelated work",
		ContentHash:    models.ContentHash("elsewhere", models.ObsTypeToolUse, "unrelated work", ""),
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
		CreatedAtEpoch: time.Now().UnixMilli(),
	}
	require.NoError(t, sqlite.InsertObservationRaw(context.Background(), store, other))

	var buf bytes.Buffer
	stats, err := New(store).Export(context.Background(), &buf, ExportOptions{Project: "memory"})
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.Counts.Observations)
	assert.NotContains(t, buf.String(), "unrelated work")

	var meta metaLine
	firstLine := strings.SplitN(buf.String(), "\n", 2)[0]
	require.NoError(t, json.Unmarshal([]byte(firstLine), &meta))
	require.NotNil(t, meta.Meta.Filters)
	assert.Equal(t, "memory", meta.Meta.Filters.Project)
}

func TestImportRoundTrip(t *testing.T) {
	source := newTestStore(t)
	seedStore(t, source)

	var buf bytes.Buffer
	_, err := New(source).Export(context.Background(), &buf, ExportOptions{})
	require.NoError(t, err)

	target := newTestStore(t)
	result, err := New(target).Import(context.Background(), bytes.NewReader(buf.Bytes()), ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Imported)
	assert.Zero(t, result.Skipped)
	assert.Zero(t, result.Errors)
	assert.Equal(t, 5, result.Total)

	observations, summaries, prompts, err := target.ExportCounts(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), observations)
	assert.Equal(t, int64(1), summaries)
	assert.Equal(t, int64(1), prompts)

	// A second import of the same stream dedups everything.
	result, err = New(target).Import(context.Background(), bytes.NewReader(buf.Bytes()), ImportOptions{})
	require.NoError(t, err)
	assert.Zero(t, result.Imported)
	assert.Equal(t, 5, result.Skipped)
}

func TestImportDryRunWritesNothing(t *testing.T) {
	source := newTestStore(t)
	seedStore(t, source)

	var buf bytes.Buffer
	_, err := New(source).Export(context.Background(), &buf, ExportOptions{})
	require.NoError(t, err)

	target := newTestStore(t)
	result, err := New(target).Import(context.Background(), bytes.NewReader(buf.Bytes()), ImportOptions{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 5, result.Imported)

	observations, summaries, prompts, err := target.ExportCounts(context.Background(), "")
	require.NoError(t, err)
	assert.Zero(t, observations)
	assert.Zero(t, summaries)
	assert.Zero(t, prompts)
}

func TestImportSkipsCommentsAndBlankLines(t *testing.T) {
	input := strings.Join([]string{
		"# exported by hand",
		"",
		`{"_type":"observation","project":"memory","type":"tool-use","title":"kept line"}`,
		"   ",
	}, "\n")

	store := newTestStore(t)
	result, err := New(store).Import(context.Background(), strings.NewReader(input), ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	assert.Zero(t, result.Errors)
}

func TestImportReportsBadLines(t *testing.T) {
	input := strings.Join([]string{
		`not json at all`,
		`{"_type":"mystery","project":"memory"}`,
		`{"_type":"observation","project":"","type":"tool-use","title":"missing project"}`,
		`{"_type":"prompt","content_session_id":"sess-1","prompt_number":0,"prompt_text":"bad number"}`,
		`{"_type":"observation","project":"memory","type":"tool-use","title":"good line"}`,
	}, "\n")

	store := newTestStore(t)
	result, err := New(store).Import(context.Background(), strings.NewReader(input), ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 4, result.Errors)
	assert.Len(t, result.ErrorDetails, 4)
	assert.Contains(t, result.ErrorDetails[0], "line 1")
}

func TestImportToleratesMetaLine(t *testing.T) {
	input := strings.Join([]string{
		`{"_meta":{"version":"2.5.0","exported_at":"2026-08-20T00:00:00Z","export_id":"x","counts":{}}}`,
		`{"_type":"observation","project":"memory","type":"tool-use","title":"after meta"}`,
	}, "\n")

	store := newTestStore(t)
	result, err := New(store).Import(context.Background(), strings.NewReader(input), ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	assert.Zero(t, result.Errors)
}

func TestImportDedupsWithinStream(t *testing.T) {
	line := `{"_type":"observation","project":"memory","type":"tool-use","title":"same twice"}`
	input := line + "\n" + line

	store := newTestStore(t)
	result, err := New(store).Import(context.Background(), strings.NewReader(input), ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)
}
