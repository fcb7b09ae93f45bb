package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/thebtf/kiro-memory/pkg/models"
)

// newTestStore opens a fully migrated store on a temp file.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// seedObservationAt inserts an observation at an explicit creation epoch,
// bypassing the redaction and dedup of the regular create path.
func seedObservationAt(t *testing.T, store *Store, obs *models.Observation) int64 {
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

	require.NoError(t, InsertObservationRaw(context.Background(), store, obs))

	var id int64
	require.NoError(t, store.QueryRowContext(context.Background(),
		"SELECT id FROM observations WHERE content_hash = ? ORDER BY id DESC LIMIT 1",
		obs.ContentHash).Scan(&id))
	return id
}

// testObservation builds a minimal observation for seeding.
func testObservation(project, title string, epoch int64) *models.Observation {
	return &models.Observation{
		SessionID:      "sess-test",
		Project:        project,
		Type:           models.ObsTypeToolUse,
		Title:          title,
		Text:           sql.NullString{String: "text for " + title, Valid: true},
		CreatedAtEpoch: epoch,
	}
}
