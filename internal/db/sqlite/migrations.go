package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrations is the list of all database migrations in order. Migrations are
// append-only; never edit an applied migration in place.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "core_tables",
		SQL: `
			-- Sessions (lifecycle tracking)
			CREATE TABLE IF NOT EXISTS sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_session_id TEXT UNIQUE NOT NULL,
				project TEXT NOT NULL,
				status TEXT CHECK(status IN ('active', 'completed', 'failed')) NOT NULL DEFAULT 'active',
				prompt_counter INTEGER DEFAULT 0,
				started_at TEXT NOT NULL,
				started_at_epoch INTEGER NOT NULL,
				completed_at TEXT,
				completed_at_epoch INTEGER
			);

			CREATE INDEX IF NOT EXISTS idx_sessions_external_id ON sessions(external_session_id);
			CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project);
			CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
			CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at_epoch DESC);

			-- Observations (atomic hook events)
			CREATE TABLE IF NOT EXISTS observations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				project TEXT NOT NULL,
				type TEXT NOT NULL,
				title TEXT NOT NULL,
				subtitle TEXT,
				text TEXT,
				narrative TEXT,
				facts TEXT,
				concepts TEXT,
				files_read TEXT,
				files_modified TEXT,
				prompt_number INTEGER DEFAULT 0,
				content_hash TEXT NOT NULL,
				discovery_tokens INTEGER DEFAULT 0,
				auto_category TEXT NOT NULL DEFAULT 'general',
				last_accessed_epoch INTEGER,
				stale INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_observations_session ON observations(session_id);
			CREATE INDEX IF NOT EXISTS idx_observations_type ON observations(type);
			CREATE INDEX IF NOT EXISTS idx_observations_hash ON observations(content_hash, created_at_epoch DESC);
			CREATE INDEX IF NOT EXISTS idx_observations_keyset ON observations(project, created_at_epoch DESC, id DESC);
			CREATE INDEX IF NOT EXISTS idx_observations_stale ON observations(stale);

			-- Session summaries (end-of-session digests)
			CREATE TABLE IF NOT EXISTS session_summaries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				project TEXT NOT NULL,
				request TEXT,
				investigated TEXT,
				learned TEXT,
				completed TEXT,
				next_steps TEXT,
				notes TEXT,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_summaries_session ON session_summaries(session_id);
			CREATE INDEX IF NOT EXISTS idx_summaries_keyset ON session_summaries(project, created_at_epoch DESC, id DESC);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_summaries_dedup
			ON session_summaries(session_id, project, created_at_epoch);

			-- User prompts
			CREATE TABLE IF NOT EXISTS user_prompts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				content_session_id TEXT NOT NULL,
				prompt_number INTEGER NOT NULL,
				prompt_text TEXT NOT NULL,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_prompts_session_number
			ON user_prompts(content_session_id, prompt_number);
			CREATE INDEX IF NOT EXISTS idx_prompts_keyset ON user_prompts(content_session_id, created_at_epoch DESC, id DESC);
		`,
	},
	{
		Version: 2,
		Name:    "observations_fts",
		SQL: `
			-- FTS5 mirror over the searchable observation fields
			CREATE VIRTUAL TABLE IF NOT EXISTS observations_fts USING fts5(
				title, text, narrative, concepts,
				content='observations',
				content_rowid='id'
			);

			CREATE TRIGGER IF NOT EXISTS observations_ai AFTER INSERT ON observations BEGIN
				INSERT INTO observations_fts(rowid, title, text, narrative, concepts)
				VALUES (new.id, new.title, new.text, new.narrative, new.concepts);
			END;

			CREATE TRIGGER IF NOT EXISTS observations_ad AFTER DELETE ON observations BEGIN
				INSERT INTO observations_fts(observations_fts, rowid, title, text, narrative, concepts)
				VALUES('delete', old.id, old.title, old.text, old.narrative, old.concepts);
			END;

			CREATE TRIGGER IF NOT EXISTS observations_au AFTER UPDATE ON observations BEGIN
				INSERT INTO observations_fts(observations_fts, rowid, title, text, narrative, concepts)
				VALUES('delete', old.id, old.title, old.text, old.narrative, old.concepts);
				INSERT INTO observations_fts(rowid, title, text, narrative, concepts)
				VALUES (new.id, new.title, new.text, new.narrative, new.concepts);
			END;
		`,
	},
	{
		Version: 3,
		Name:    "observation_embeddings",
		SQL: `
			-- Per-observation dense vectors. Strictly subordinate to the
			-- observation row: cascade delete keeps them consistent.
			CREATE TABLE IF NOT EXISTS observation_embeddings (
				observation_id INTEGER PRIMARY KEY,
				embedding BLOB NOT NULL,
				model TEXT NOT NULL,
				dimensions INTEGER NOT NULL,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL,
				FOREIGN KEY(observation_id) REFERENCES observations(id) ON DELETE CASCADE
			);
		`,
	},
	{
		Version: 4,
		Name:    "checkpoints",
		SQL: `
			CREATE TABLE IF NOT EXISTS checkpoints (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				project TEXT NOT NULL,
				task TEXT NOT NULL,
				progress TEXT,
				next_steps TEXT,
				open_questions TEXT,
				relevant_files TEXT,
				context_snapshot TEXT,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, created_at_epoch DESC);
			CREATE INDEX IF NOT EXISTS idx_checkpoints_project ON checkpoints(project, created_at_epoch DESC);
		`,
	},
	{
		Version: 5,
		Name:    "project_aliases_and_github_links",
		SQL: `
			CREATE TABLE IF NOT EXISTS project_aliases (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				project_name TEXT NOT NULL,
				display_name TEXT NOT NULL
			);

			CREATE UNIQUE INDEX IF NOT EXISTS idx_project_aliases_name ON project_aliases(project_name);

			CREATE TABLE IF NOT EXISTS github_links (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				observation_id INTEGER,
				session_id TEXT,
				repo TEXT NOT NULL,
				issue_number INTEGER,
				pr_number INTEGER,
				url TEXT NOT NULL,
				created_at TEXT NOT NULL,
				created_at_epoch INTEGER NOT NULL,
				FOREIGN KEY(observation_id) REFERENCES observations(id) ON DELETE CASCADE
			);

			CREATE INDEX IF NOT EXISTS idx_github_links_observation ON github_links(observation_id);
			CREATE INDEX IF NOT EXISTS idx_github_links_session ON github_links(session_id);
		`,
	},
}

// MigrationManager handles database schema migrations.
type MigrationManager struct {
	db *sql.DB
}

// NewMigrationManager creates a new migration manager.
func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db}
}

// EnsureSchemaVersionsTable creates the schema_versions table if it doesn't exist.
func (m *MigrationManager) EnsureSchemaVersionsTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			id INTEGER PRIMARY KEY,
			version INTEGER UNIQUE NOT NULL,
			applied_at TEXT NOT NULL
		)
	`)
	return err
}

// GetAppliedVersions returns all applied migration versions.
func (m *MigrationManager) GetAppliedVersions() (map[int]bool, error) {
	rows, err := m.db.Query("SELECT version FROM schema_versions ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions[version] = true
	}
	return versions, rows.Err()
}

// ApplyMigration applies a single migration inside a transaction, so a
// failure leaves the schema at its previous version.
func (m *MigrationManager) ApplyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return fmt.Errorf("execute migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	_, err = tx.Exec(
		"INSERT INTO schema_versions (version, applied_at) VALUES (?, ?)",
		migration.Version, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration %d: %w", migration.Version, err)
	}

	return tx.Commit()
}

// RunMigrations applies all pending migrations in ascending version order.
func (m *MigrationManager) RunMigrations() error {
	if err := m.EnsureSchemaVersionsTable(); err != nil {
		return fmt.Errorf("ensure schema_versions table: %w", err)
	}

	applied, err := m.GetAppliedVersions()
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}

	for _, migration := range Migrations {
		if applied[migration.Version] {
			continue
		}

		if err := m.ApplyMigration(migration); err != nil {
			return err
		}
	}

	return nil
}
