// Package backup implements file-copy snapshots of the database with
// sidecar metadata, plus listing, restore, and rotation.
package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/kiro-memory/internal/db/sqlite"
)

// sidecarSuffixes are the WAL-mode companions copied with the main file
// when present.
var sidecarSuffixes = []string{"-wal", "-shm"}

// Stats is the snapshot's row-count block.
type Stats struct {
	Observations int64 `json:"observations"`
	Sessions     int64 `json:"sessions"`
	Summaries    int64 `json:"summaries"`
	Prompts      int64 `json:"prompts"`
	DBSizeBytes  int64 `json:"db_size_bytes"`
}

// Metadata is the JSON sidecar written next to each snapshot.
type Metadata struct {
	Timestamp      string `json:"timestamp"`
	TimestampEpoch int64  `json:"timestamp_epoch"`
	SchemaVersion  int    `json:"schema_version"`
	Stats          Stats  `json:"stats"`
	SourcePath     string `json:"source_path"`
	Filename       string `json:"filename"`
}

// Entry pairs a snapshot file with its metadata.
type Entry struct {
	Path     string   `json:"path"`
	Metadata Metadata `json:"metadata"`
}

// Manager creates and manages database snapshots. Snapshots are
// best-effort file copies; callers should quiesce writes or rely on WAL
// checkpointing for consistency.
type Manager struct {
	store *sqlite.Store
	log   zerolog.Logger
}

// NewManager creates a backup manager. The store is only used for the
// metadata stats; the snapshot itself is a plain file copy.
func NewManager(store *sqlite.Store) *Manager {
	return &Manager{
		store: store,
		log:   log.With().Str("component", "backup").Logger(),
	}
}

// backupFilename formats the snapshot name for a moment in time.
func backupFilename(t time.Time) string {
	return fmt.Sprintf("backup-%s-%03d.db", t.Format("2006-01-02-150405"), t.Nanosecond()/1e6)
}

// Create snapshots dbPath (plus any -wal/-shm sidecars) into backupDir and
// writes the metadata sidecar. Returns the new entry.
func (m *Manager) Create(ctx context.Context, dbPath, backupDir string) (*Entry, error) {
	if err := os.MkdirAll(backupDir, 0750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		return nil, fmt.Errorf("stat database: %w", err)
	}

	now := time.Now()
	filename := backupFilename(now)
	target := filepath.Join(backupDir, filename)

	if err := copyFile(dbPath, target); err != nil {
		return nil, fmt.Errorf("copy database: %w", err)
	}
	for _, suffix := range sidecarSuffixes {
		src := dbPath + suffix
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := copyFile(src, target+suffix); err != nil {
			return nil, fmt.Errorf("copy sidecar %s: %w", suffix, err)
		}
	}

	meta := Metadata{
		Timestamp:      now.UTC().Format(time.RFC3339),
		TimestampEpoch: now.UnixMilli(),
		SourcePath:     dbPath,
		Filename:       filename,
		Stats:          Stats{DBSizeBytes: info.Size()},
	}
	if m.store != nil {
		meta.SchemaVersion, _ = m.store.SchemaVersion(ctx)
		m.fillStats(ctx, &meta.Stats)
	}

	metaData, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal backup metadata: %w", err)
	}
	if err := os.WriteFile(target+".meta.json", metaData, 0600); err != nil {
		return nil, fmt.Errorf("write backup metadata: %w", err)
	}

	m.log.Info().Str("file", filename).Int64("bytes", info.Size()).Msg("backup created")
	return &Entry{Path: target, Metadata: meta}, nil
}

func (m *Manager) fillStats(ctx context.Context, stats *Stats) {
	_ = m.store.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM observations),
			(SELECT COUNT(*) FROM sessions),
			(SELECT COUNT(*) FROM session_summaries),
			(SELECT COUNT(*) FROM user_prompts)
	`).Scan(&stats.Observations, &stats.Sessions, &stats.Summaries, &stats.Prompts)
}

// List pairs snapshot files with their metadata sidecars, newest first.
// Snapshots without a readable sidecar are discarded as orphans.
func List(backupDir string) ([]Entry, error) {
	files, err := os.ReadDir(backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []Entry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, "backup-") || !strings.HasSuffix(name, ".db") {
			continue
		}

		metaData, err := os.ReadFile(filepath.Join(backupDir, name+".meta.json"))
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(metaData, &meta); err != nil {
			continue
		}
		entries = append(entries, Entry{
			Path:     filepath.Join(backupDir, name),
			Metadata: meta,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Metadata.TimestampEpoch > entries[j].Metadata.TimestampEpoch
	})
	return entries, nil
}

// Restore replaces the live database (and sidecars) with a snapshot.
// Sidecars absent from the snapshot are removed from the live path so the
// restored database does not replay a stale WAL. The caller must have
// closed the store first.
func Restore(backupFile, dbPath string) error {
	if _, err := os.Stat(backupFile); err != nil {
		return fmt.Errorf("stat backup file: %w", err)
	}

	if err := copyFile(backupFile, dbPath); err != nil {
		return fmt.Errorf("restore database: %w", err)
	}

	for _, suffix := range sidecarSuffixes {
		src := backupFile + suffix
		dst := dbPath + suffix
		if _, err := os.Stat(src); err == nil {
			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("restore sidecar %s: %w", suffix, err)
			}
			continue
		}
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale sidecar %s: %w", suffix, err)
		}
	}
	return nil
}

// Rotate keeps the maxKeep most recent snapshots and deletes the rest,
// sidecars included. maxKeep must be positive.
func Rotate(backupDir string, maxKeep int) (int, error) {
	if maxKeep <= 0 {
		return 0, fmt.Errorf("rotation count must be positive, got %d", maxKeep)
	}

	entries, err := List(backupDir)
	if err != nil {
		return 0, err
	}
	if len(entries) <= maxKeep {
		return 0, nil
	}

	removed := 0
	for _, entry := range entries[maxKeep:] {
		paths := []string{entry.Path, entry.Path + ".meta.json"}
		for _, suffix := range sidecarSuffixes {
			paths = append(paths, entry.Path+suffix)
		}
		for _, path := range paths {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return removed, err
			}
		}
		removed++
	}
	return removed, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
