package engine

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiro-memory/internal/config"
	"github.com/thebtf/kiro-memory/internal/db/sqlite"
	"github.com/thebtf/kiro-memory/internal/embedding"
	"github.com/thebtf/kiro-memory/pkg/models"
)

// fakeModelVersion selects the deterministic test embedder; provider
// "disabled" deliberately resolves to no backend.
const fakeModelVersion = "unit-fake"

func init() {
	embedding.RegisterModel(embedding.ModelMetadata{
		Name:       "Unit Fake",
		Version:    fakeModelVersion,
		Dimensions: 4,
	}, func() (embedding.Model, error) {
		return &fakeModel{}, nil
	})
}

// fakeModel maps texts onto orthogonal axes by keyword so similarity is
// exactly 1 for same-topic texts and 0 across topics. "storage" shares the
// "database" axis, which lets tests build a semantic match with no lexical
// overlap.
type fakeModel struct{}

func (m *fakeModel) Name() string    { return "Unit Fake" }
func (m *fakeModel) Version() string { return fakeModelVersion }
func (m *fakeModel) Dimensions() int { return 4 }
func (m *fakeModel) Close() error    { return nil }

func (m *fakeModel) Embed(text string) ([]float32, error) {
	switch {
	case strings.Contains(text, "frontend"):
		return []float32{0, 1, 0, 0}, nil
	case strings.Contains(text, "database"), strings.Contains(text, "storage"):
		return []float32{1, 0, 0, 0}, nil
	default:
		return []float32{0, 0, 1, 0}, nil
	}
}

func (m *fakeModel) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := m.Embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// newTestEngine builds a started engine on a temp database. mutate, when
// non-nil, adjusts the config before wiring.
func newTestEngine(t *testing.T, mutate func(*config.Config)) *Engine {
	t.Helper()

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "test.db")
	cfg.MaintenanceEnabled = false
	// Resolves to no backend; vector tests opt in to the fake model.
	cfg.EmbeddingProvider = "disabled"
	if mutate != nil {
		mutate(cfg)
	}

	e, err := New(cfg)
	require.NoError(t, err)
	e.Start()
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// seedRaw inserts an observation at an explicit epoch, bypassing dedup and
// redaction, and returns its id.
func seedRaw(t *testing.T, e *Engine, obs *models.Observation) int64 {
	t.Helper()

	if obs.CreatedAtEpoch == 0 {
		obs.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if obs.CreatedAt == "" {
		obs.CreatedAt = time.UnixMilli(obs.CreatedAtEpoch).UTC().Format(time.RFC3339)
	}
	if obs.ContentHash == "" {
		obs.ContentHash = models.ContentHash(obs.Project, obs.Type, obs.Title, obs.Narrative.String)
	}
	require.NoError(t, sqlite.InsertObservationRaw(context.Background(), e.Store(), obs))

	var id int64
	require.NoError(t, e.Store().QueryRowContext(context.Background(),
		"SELECT id FROM observations WHERE content_hash = ? ORDER BY id DESC LIMIT 1",
		obs.ContentHash).Scan(&id))
	return id
}

func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// rawObservation builds a minimal observation for seeding.
func rawObservation(project, title string, epoch int64) *models.Observation {
	return &models.Observation{
		SessionID:      "sess-engine",
		Project:        project,
		Type:           models.ObsTypeToolUse,
		Title:          title,
		Text:           sql.NullString{String: "text for " + title, Valid: true},
		CreatedAtEpoch: epoch,
	}
}
