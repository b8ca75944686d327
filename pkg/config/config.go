// Package config loads engine configuration from config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/schemaforge/erd-engine/pkg/render"
)

// Config holds all configuration for the engine. Values come from a
// YAML file with environment variable overrides; environment always
// wins. The database password must only come from the environment.
type Config struct {
	// PatternsPath points to an optional pattern configuration file.
	// Empty means built-in defaults.
	PatternsPath string `yaml:"patterns_path" env:"ERD_PATTERNS_PATH" env-default:""`

	// RulesPath points to an optional custom-rules YAML file.
	RulesPath string `yaml:"rules_path" env:"ERD_RULES_PATH" env-default:""`

	Cache      CacheConfig      `yaml:"cache"`
	State      StateConfig      `yaml:"state"`
	Processing ProcessingConfig `yaml:"processing"`
	Validation ValidationConfig `yaml:"validation"`
	Output     OutputConfig     `yaml:"output"`

	// Database configures the live PostgreSQL schema source. Only used
	// when a DSN or host is provided.
	Database DatabaseConfig `yaml:"database"`
}

// CacheConfig selects the relationship cache backend and lifetime.
type CacheConfig struct {
	// Enabled turns the cache on.
	Enabled bool `yaml:"enabled" env:"ERD_CACHE_ENABLED" env-default:"true"`
	// Dir is the file-store directory. Ignored when SQLitePath is set.
	Dir string `yaml:"dir" env:"ERD_CACHE_DIR" env-default:".erd-cache"`
	// SQLitePath switches the backend to a SQLite database file.
	SQLitePath string `yaml:"sqlite_path" env:"ERD_CACHE_SQLITE_PATH" env-default:""`
	// TTL is how long a cached relationship stays valid.
	TTL time.Duration `yaml:"ttl" env:"ERD_CACHE_TTL" env-default:"24h"`
}

// StateConfig locates the incremental state file.
type StateConfig struct {
	Enabled bool   `yaml:"enabled" env:"ERD_STATE_ENABLED" env-default:"true"`
	Path    string `yaml:"path" env:"ERD_STATE_PATH" env-default:".erd-state.json"`
}

// ProcessingConfig tunes the generation stage.
type ProcessingConfig struct {
	Parallel bool `yaml:"parallel" env:"ERD_PROCESSING_PARALLEL" env-default:"true"`
	// GroupByType groups tables by name-prefix class instead of
	// column-count batches.
	GroupByType  bool          `yaml:"group_by_type" env:"ERD_PROCESSING_GROUP_BY_TYPE" env-default:"true"`
	Workers      int           `yaml:"workers" env:"ERD_PROCESSING_WORKERS" env-default:"4"`
	BatchSize    int           `yaml:"batch_size" env:"ERD_PROCESSING_BATCH_SIZE" env-default:"10"`
	BatchTimeout time.Duration `yaml:"batch_timeout" env:"ERD_PROCESSING_BATCH_TIMEOUT" env-default:"300s"`
}

// ValidationConfig tunes the data-validation stage.
type ValidationConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ERD_VALIDATION_ENABLED" env-default:"false"`
	SampleSize    int           `yaml:"sample_size" env:"ERD_VALIDATION_SAMPLE_SIZE" env-default:"1000"`
	PassThreshold float64       `yaml:"pass_threshold" env:"ERD_VALIDATION_PASS_THRESHOLD" env-default:"0.7"`
	Workers       int           `yaml:"workers" env:"ERD_VALIDATION_WORKERS" env-default:"8"`
	SampleTimeout time.Duration `yaml:"sample_timeout" env:"ERD_VALIDATION_SAMPLE_TIMEOUT" env-default:"30s"`
}

// OutputConfig selects the diagram format.
type OutputConfig struct {
	Format          string `yaml:"format" env:"ERD_OUTPUT_FORMAT" env-default:"mermaid"`
	ShowColumnTypes bool   `yaml:"show_column_types" env:"ERD_OUTPUT_SHOW_COLUMN_TYPES" env-default:"true"`
}

// DatabaseConfig holds PostgreSQL connection settings for the live
// schema source.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"PGHOST" env-default:""`
	Port     int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User     string `yaml:"user" env:"PGUSER" env-default:""`
	Password string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"PGDATABASE" env-default:""`
	Schema   string `yaml:"schema" env:"PGSCHEMA" env-default:"public"`
	SSLMode  string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Configured reports whether a live database source is usable.
func (c *DatabaseConfig) Configured() bool {
	return c.Host != "" && c.Database != ""
}

// Load reads configuration from the given YAML file with environment
// variable overrides. An empty path means config.yaml; a missing file
// falls back to environment variables and defaults only.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.yaml"
	}

	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := render.ParseFormat(c.Output.Format); err != nil {
		return err
	}
	if c.Processing.Workers <= 0 {
		return fmt.Errorf("processing workers must be positive, got %d", c.Processing.Workers)
	}
	if c.Processing.BatchSize <= 0 {
		return fmt.Errorf("processing batch size must be positive, got %d", c.Processing.BatchSize)
	}
	if c.Validation.PassThreshold < 0 || c.Validation.PassThreshold > 1 {
		return fmt.Errorf("validation pass threshold must be in [0, 1], got %g", c.Validation.PassThreshold)
	}
	if c.PatternsPath != "" {
		if _, err := os.Stat(c.PatternsPath); err != nil {
			return fmt.Errorf("pattern file not readable: %w", err)
		}
	}
	return nil
}
