// Package config provides configuration management for kiro-memory.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
)

// DefaultWorkerPort is the default HTTP port for the worker service.
const DefaultWorkerPort = 38777

// Config holds the application configuration.
type Config struct {
	// Worker settings
	WorkerPort int `json:"worker_port"`

	// Database settings
	DBPath   string `json:"db_path"`
	MaxConns int    `json:"max_conns"`

	// Embedding settings
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingBaseURL    string `json:"embedding_base_url"`
	EmbeddingModel      string `json:"embedding_model"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`

	// Vector backend: "sqlite" (default) or "pgvector"
	VectorBackend string `json:"vector_backend"`
	PGVectorDSN   string `json:"pgvector_dsn"`

	// Maintenance settings
	MaintenanceEnabled       bool `json:"maintenance_enabled"`
	MaintenanceIntervalHours int  `json:"maintenance_interval_hours"`

	// Retention policy, in days per family. Zero or negative disables.
	ObservationsMaxAgeDays int `json:"observations_max_age_days"`
	SummariesMaxAgeDays    int `json:"summaries_max_age_days"`
	PromptsMaxAgeDays      int `json:"prompts_max_age_days"`
	KnowledgeMaxAgeDays    int `json:"knowledge_max_age_days"`

	// Backup settings
	BackupMaxKeep int `json:"backup_max_keep"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// DataDir returns the data directory path (~/.kiro-memory, overridable via
// KIRO_MEMORY_DIR).
func DataDir() string {
	if dir := os.Getenv("KIRO_MEMORY_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".kiro-memory")
}

// DBPath returns the database file path.
func DBPath() string {
	return filepath.Join(DataDir(), "kiro-memory.db")
}

// BackupDir returns the backup directory path.
func BackupDir() string {
	return filepath.Join(DataDir(), "backups")
}

// LogDir returns the log directory path.
func LogDir() string {
	return filepath.Join(DataDir(), "logs")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory tree if it doesn't exist.
// vector-db and observer-sessions are reserved for future use but are part
// of the on-disk layout.
func EnsureDataDir() error {
	for _, dir := range []string{
		DataDir(),
		BackupDir(),
		LogDir(),
		filepath.Join(DataDir(), "vector-db"),
		filepath.Join(DataDir(), "observer-sessions"),
	} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return err
		}
	}
	return nil
}

// EnsureSettings creates a default settings file if it doesn't exist.
func EnsureSettings() error {
	path := SettingsPath()

	if _, err := os.Stat(path); err == nil {
		return nil
	}

	defaultSettings := `{
  "KIRO_MEMORY_WORKER_PORT": 38777,
  "KIRO_MEMORY_MAINTENANCE_INTERVAL_HOURS": 6,
  "KIRO_MEMORY_OBSERVATIONS_MAX_AGE_DAYS": 90,
  "KIRO_MEMORY_BACKUP_MAX_KEEP": 10
}
`
	return os.WriteFile(path, []byte(defaultSettings), 0600)
}

// EnsureAll ensures all required directories and files exist.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerPort:               DefaultWorkerPort,
		DBPath:                   DBPath(),
		MaxConns:                 4,
		EmbeddingProvider:        "",
		EmbeddingBaseURL:         "",
		EmbeddingModel:           "",
		EmbeddingDimensions:      384,
		VectorBackend:            "sqlite",
		MaintenanceEnabled:       true,
		MaintenanceIntervalHours: 6,
		ObservationsMaxAgeDays:   90,
		SummariesMaxAgeDays:      0,
		PromptsMaxAgeDays:        0,
		KnowledgeMaxAgeDays:      0,
		BackupMaxKeep:            10,
	}
}

// Load loads configuration from the settings file, merging with defaults.
// Environment variables of the same name take precedence over the file.
func Load() (*Config, error) {
	cfg := Default()

	settings := map[string]interface{}{}
	if data, err := os.ReadFile(SettingsPath()); err == nil {
		// Parse errors fall back to defaults rather than failing startup.
		_ = json.Unmarshal(data, &settings)
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	intSetting(settings, "KIRO_MEMORY_WORKER_PORT", &cfg.WorkerPort)
	strSetting(settings, "KIRO_MEMORY_DB_PATH", &cfg.DBPath)
	intSetting(settings, "KIRO_MEMORY_MAX_CONNS", &cfg.MaxConns)
	strSetting(settings, "KIRO_MEMORY_EMBEDDING_PROVIDER", &cfg.EmbeddingProvider)
	strSetting(settings, "KIRO_MEMORY_EMBEDDING_BASE_URL", &cfg.EmbeddingBaseURL)
	strSetting(settings, "KIRO_MEMORY_EMBEDDING_MODEL", &cfg.EmbeddingModel)
	intSetting(settings, "KIRO_MEMORY_EMBEDDING_DIMENSIONS", &cfg.EmbeddingDimensions)
	strSetting(settings, "KIRO_MEMORY_VECTOR_BACKEND", &cfg.VectorBackend)
	strSetting(settings, "KIRO_MEMORY_PGVECTOR_DSN", &cfg.PGVectorDSN)
	boolSetting(settings, "KIRO_MEMORY_MAINTENANCE_ENABLED", &cfg.MaintenanceEnabled)
	intSetting(settings, "KIRO_MEMORY_MAINTENANCE_INTERVAL_HOURS", &cfg.MaintenanceIntervalHours)
	intSetting(settings, "KIRO_MEMORY_OBSERVATIONS_MAX_AGE_DAYS", &cfg.ObservationsMaxAgeDays)
	intSetting(settings, "KIRO_MEMORY_SUMMARIES_MAX_AGE_DAYS", &cfg.SummariesMaxAgeDays)
	intSetting(settings, "KIRO_MEMORY_PROMPTS_MAX_AGE_DAYS", &cfg.PromptsMaxAgeDays)
	intSetting(settings, "KIRO_MEMORY_KNOWLEDGE_MAX_AGE_DAYS", &cfg.KnowledgeMaxAgeDays)
	intSetting(settings, "KIRO_MEMORY_BACKUP_MAX_KEEP", &cfg.BackupMaxKeep)

	return cfg, nil
}

// intSetting reads an integer setting from the env, then the settings map.
func intSetting(settings map[string]interface{}, key string, dst *int) {
	if env := os.Getenv(key); env != "" {
		if v, err := strconv.Atoi(env); err == nil {
			*dst = v
			return
		}
	}
	if v, ok := settings[key].(float64); ok {
		*dst = int(v)
	}
}

func strSetting(settings map[string]interface{}, key string, dst *string) {
	if env := os.Getenv(key); env != "" {
		*dst = env
		return
	}
	if v, ok := settings[key].(string); ok && v != "" {
		*dst = v
	}
}

func boolSetting(settings map[string]interface{}, key string, dst *bool) {
	if env := os.Getenv(key); env != "" {
		if v, err := strconv.ParseBool(env); err == nil {
			*dst = v
			return
		}
	}
	if v, ok := settings[key].(bool); ok {
		*dst = v
	}
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})
	return globalConfig
}
