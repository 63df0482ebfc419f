// Package config loads jsonrel settings from an optional YAML file with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"jsonrel/internal/display"
	"jsonrel/internal/fetch"
)

// Config holds every setting. Environment variables override YAML values;
// command-line flags override both.
type Config struct {
	Fetch   fetch.Config    `yaml:"fetch"`
	Project ProjectConfig   `yaml:"project"`
	Display display.Options `yaml:"display"`
	Store   StoreConfig     `yaml:"store"`
	Metrics MetricsConfig   `yaml:"metrics"`
	Log     LogConfig       `yaml:"log"`
}

type ProjectConfig struct {
	// RootTable names the table for documents whose root is an array.
	RootTable string `yaml:"root_table" env:"JSONREL_ROOT_TABLE"`
	MaxDepth  int    `yaml:"max_depth" env:"JSONREL_MAX_DEPTH" env-default:"512"`

	// Lenient turns a failed validation of the document against its own
	// schema into a warning. Runs are strict by default.
	Lenient bool `yaml:"lenient" env:"JSONREL_LENIENT"`
}

// StoreConfig selects a storage backend. An empty Kind disables loading.
type StoreConfig struct {
	Kind        string `yaml:"kind" env:"JSONREL_STORE_KIND"`
	DSN         string `yaml:"-" env:"JSONREL_STORE_DSN"` // Secret - not in YAML
	TablePrefix string `yaml:"table_prefix" env:"JSONREL_TABLE_PREFIX"`
	BatchSize   int    `yaml:"batch_size" env:"JSONREL_BATCH_SIZE" env-default:"500"`
	Replace     bool   `yaml:"replace" env:"JSONREL_REPLACE"`
}

type MetricsConfig struct {
	// Backend is "none" or "datadog".
	Backend    string        `yaml:"backend" env:"JSONREL_METRICS" env-default:"none"`
	Job        string        `yaml:"job" env:"JSONREL_JOB" env-default:"jsonrel"`
	Tags       string        `yaml:"tags" env:"DD_TAGS"`
	FlushEvery time.Duration `yaml:"flush_every" env:"JSONREL_METRICS_FLUSH" env-default:"60s"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"JSONREL_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"JSONREL_LOG_FORMAT" env-default:"console"`
}

// Load reads path (when non-empty) and applies environment overrides and
// defaults. A missing path is an error; an empty path uses the environment only.
// The result is not validated: callers overlay flags first, then call Validate.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, nil
}

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	var errs []error
	switch strings.ToLower(c.Metrics.Backend) {
	case "", "none", "datadog":
	default:
		errs = append(errs, fmt.Errorf("metrics.backend %q: want none or datadog", c.Metrics.Backend))
	}
	if c.Project.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("project.max_depth must be >= 0"))
	}
	if c.Store.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("store.batch_size must be >= 0"))
	}
	if c.Store.Kind != "" && c.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.kind %q requires JSONREL_STORE_DSN or -dsn", c.Store.Kind))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}
