package fabula

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds configuration for a Fabula instance.
type Config struct {
	// DBPath is the SQLite database path (":memory:" for ephemeral).
	DBPath string `env:"FABULA_DB_PATH" envDefault:":memory:"`

	// TemplatesPath optionally points at a YAML file of query template
	// overrides.
	TemplatesPath string `env:"FABULA_TEMPLATES_PATH"`

	// TemplatesWatch reloads the override file on change.
	TemplatesWatch bool `env:"FABULA_TEMPLATES_WATCH"`

	// CacheEnabled turns on the read-through query cache.
	CacheEnabled bool `env:"FABULA_CACHE_ENABLED"`

	// CacheTTL bounds the staleness of cached query results.
	CacheTTL time.Duration `env:"FABULA_CACHE_TTL" envDefault:"60s"`

	// StoreTimeout bounds every database call.
	StoreTimeout time.Duration `env:"FABULA_STORE_TIMEOUT" envDefault:"5s"`

	// AutoCommitEnabled starts the background auto-commit worker.
	AutoCommitEnabled bool `env:"FABULA_AUTOCOMMIT_ENABLED"`

	// AutoCommitQueue is the worker's queue capacity.
	AutoCommitQueue int `env:"FABULA_AUTOCOMMIT_QUEUE" envDefault:"128"`

	// JournalPath optionally enables the JSONL staging journal.
	JournalPath string `env:"FABULA_JOURNAL_PATH"`
}

// ConfigFromEnv reads configuration from FABULA_* environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}
