// Package config loads runtime configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/flightlake/legbuilder/internal/storage"
)

// Config is the full runtime configuration.
type Config struct {
	// Schema selects the dataset generation to build ("v1" | "v2").
	Schema string `yaml:"schema"`

	// Years is the inclusive time window of the required set.
	Years YearsConfig `yaml:"years"`

	// Country optionally restricts the fleet to one ISO 3166 registration
	// country. Empty means the whole fleet.
	Country string `yaml:"country"`

	Storage   storage.Config  `yaml:"storage"`
	Source    SourceConfig    `yaml:"source"`
	Reference ReferenceConfig `yaml:"reference"`
	Perf      PerfConfig      `yaml:"perf"`
	Logging   LogConfig       `yaml:"logging"`
}

// YearsConfig is an inclusive year range.
type YearsConfig struct {
	From int `yaml:"from"`
	To   int `yaml:"to"`
}

// SourceConfig locates the raw position feed.
type SourceConfig struct {
	// Prefix is the storage prefix holding monthly position blobs.
	Prefix string `yaml:"prefix"`
}

// ReferenceConfig locates the fleet reference data.
type ReferenceConfig struct {
	AircraftKey string `yaml:"aircraft_key"`
	ModelsKey   string `yaml:"models_key"`
}

// PerfConfig bounds concurrent work against the backend. The ETL phase is
// write-heavy and runs with a smaller ceiling than the read-only
// aggregation phase.
type PerfConfig struct {
	ETLConcurrency       int     `yaml:"etl_concurrency"`
	AggregateConcurrency int     `yaml:"aggregate_concurrency"`
	RateLimit            float64 `yaml:"rate_limit"` // task starts/sec, 0 = unlimited
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Format string `yaml:"format"` // "json" | "text"
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Schema: "v2",
		Years:  YearsConfig{From: 2019, To: 2024},
		Storage: storage.Config{
			Backend:  "local",
			LocalDir: "./data",
		},
		Source: SourceConfig{
			Prefix: "position/",
		},
		Reference: ReferenceConfig{
			AircraftKey: "reference/aircraft.csv",
			ModelsKey:   "reference/models.csv",
		},
		Perf: PerfConfig{
			ETLConcurrency:       50,
			AggregateConcurrency: 100,
		},
		Logging: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is non-empty), then environment variable overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.Schema != "v1" && c.Schema != "v2" {
		return fmt.Errorf("schema must be v1 or v2, got %q", c.Schema)
	}
	if c.Years.To < c.Years.From {
		return fmt.Errorf("years.to (%d) before years.from (%d)", c.Years.To, c.Years.From)
	}
	if c.Perf.ETLConcurrency < 1 || c.Perf.AggregateConcurrency < 1 {
		return fmt.Errorf("concurrency ceilings must be at least 1")
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Schema, "SCHEMA_VERSION")
	setInt(&cfg.Years.From, "YEAR_FROM")
	setInt(&cfg.Years.To, "YEAR_TO")
	setString(&cfg.Country, "COUNTRY")

	setString(&cfg.Storage.Backend, "STORAGE_BACKEND")
	setString(&cfg.Storage.LocalDir, "LOCAL_DIR")
	setString(&cfg.Storage.GCSBucket, "GCS_BUCKET")
	setString(&cfg.Storage.S3Bucket, "S3_BUCKET")
	setString(&cfg.Storage.S3Endpoint, "S3_ENDPOINT")
	setString(&cfg.Storage.S3Region, "S3_REGION")
	setString(&cfg.Storage.PublicBaseURL, "PUBLIC_BASE_URL")

	setString(&cfg.Source.Prefix, "POSITION_PREFIX")
	setString(&cfg.Reference.AircraftKey, "AIRCRAFT_KEY")
	setString(&cfg.Reference.ModelsKey, "MODELS_KEY")

	setInt(&cfg.Perf.ETLConcurrency, "ETL_CONCURRENCY")
	setInt(&cfg.Perf.AggregateConcurrency, "AGGREGATE_CONCURRENCY")
	setFloat(&cfg.Perf.RateLimit, "RATE_LIMIT")

	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}
