// Package config loads the tunable constants of an analysis run.
//
// Values are layered: defaults, then .axon-sql.yaml, then .env, then
// AXON_SQL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/axon-sql/internal/confidence"
	"github.com/Benny93/axon-sql/internal/enhance"
	"github.com/Benny93/axon-sql/internal/resolution"
	"github.com/Benny93/axon-sql/internal/template"
)

// FileName is the project config file looked up in the analyzed root.
const FileName = ".axon-sql.yaml"

// DataDir is the per-project state directory.
const DataDir = ".axon-sql"

// Config holds every tunable of a run.
type Config struct {
	Template    template.Options             `yaml:"template"`
	Resolution  resolution.Params            `yaml:"resolution"`
	Enhancer    enhance.Params               `yaml:"enhancer"`
	Confidence  Confidence                   `yaml:"confidence"`
	Calibration confidence.CalibrationParams `yaml:"calibration"`
	Storage     Storage                      `yaml:"storage"`
	Schema      Schema                       `yaml:"schema"`
	Ingestion   Ingestion                    `yaml:"ingestion"`
}

// Confidence configures the calculator.
type Confidence struct {
	Weights   confidence.Weights   `yaml:"weights"`
	Penalties confidence.Penalties `yaml:"penalties"`
	Bounds    confidence.Bounds    `yaml:"bounds"`
}

// Calculator builds a calculator from the section.
func (c Confidence) Calculator() *confidence.Calculator {
	return confidence.NewCalculator(c.Weights, c.Penalties, c.Bounds)
}

// Storage selects the persistence backend.
type Storage struct {
	// Backend is "badger" or "memory".
	Backend string `yaml:"backend"`
	// Path is the badger directory, relative to the analyzed root.
	Path string `yaml:"path"`
}

// Schema locates the schema metadata.
type Schema struct {
	// Path is the SQLite schema database, relative to the analyzed root.
	Path string `yaml:"path"`
	// CSV is imported into the schema database before a run when set.
	CSV string `yaml:"csv,omitempty"`
}

// Ingestion configures input discovery.
type Ingestion struct {
	// Workers bounds template resolution; 0 means one per CPU.
	Workers int `yaml:"workers"`
	// Exclude holds extra gitignore-style patterns.
	Exclude []string `yaml:"exclude,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Template:   template.DefaultOptions(),
		Resolution: resolution.DefaultParams(),
		Enhancer:   enhance.DefaultParams(),
		Confidence: Confidence{
			Weights:   confidence.DefaultWeights(),
			Penalties: confidence.DefaultPenalties(),
			Bounds:    confidence.DefaultBounds(),
		},
		Calibration: confidence.DefaultCalibrationParams(),
		Storage: Storage{
			Backend: "badger",
			Path:    filepath.Join(DataDir, "graph"),
		},
		Schema: Schema{
			Path: filepath.Join(DataDir, "schema.db"),
		},
	}
}

// Load builds the configuration for root. An explicit path must exist; the
// default root/.axon-sql.yaml is optional.
func Load(root, path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, FileName)
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("read config: %w", err)
	}

	_ = godotenv.Load(filepath.Join(root, ".env"))

	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides values from AXON_SQL_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *float64) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = f
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("AXON_SQL_STORAGE_BACKEND", &cfg.Storage.Backend)
	str("AXON_SQL_STORAGE_PATH", &cfg.Storage.Path)
	str("AXON_SQL_SCHEMA_PATH", &cfg.Schema.Path)
	str("AXON_SQL_SCHEMA_CSV", &cfg.Schema.CSV)

	return errors.Join(
		integer("AXON_SQL_MAX_BRANCH", &cfg.Template.MaxBranch),
		integer("AXON_SQL_WORKERS", &cfg.Ingestion.Workers),
		num("AXON_SQL_RESOLVED_BOOST", &cfg.Resolution.ResolvedBoost),
		num("AXON_SQL_UNRESOLVED_PENALTY", &cfg.Resolution.UnresolvedPenalty),
		num("AXON_SQL_INFERRED_KEY_FLOOR", &cfg.Enhancer.InferredKeyFloor),
	)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Template.MaxBranch < 1 {
		errs = append(errs, fmt.Errorf("template.max_branch must be at least 1, got %d", c.Template.MaxBranch))
	}
	for name, v := range map[string]float64{
		"template.static_confidence":   c.Template.StaticConfidence,
		"template.dynamic_confidence":  c.Template.DynamicConfidence,
		"template.degraded_confidence": c.Template.DegradedConfidence,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0, 1], got %.2f", name, v))
		}
	}
	if err := c.Resolution.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("resolution: %w", err))
	}
	if err := c.Enhancer.Validate(); err != nil {
		errs = append(errs, err)
	}
	if b := c.Confidence.Bounds; b.Min < 0 || b.Max > 1 || b.Min > b.Max {
		errs = append(errs, fmt.Errorf("confidence.bounds [%.2f, %.2f] invalid", b.Min, b.Max))
	}
	if c.Calibration.MinEntries < 1 || c.Calibration.Steps < 1 {
		errs = append(errs, fmt.Errorf("calibration.min_entries and calibration.steps must be positive"))
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "badger", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be badger or memory", c.Storage.Backend))
	}
	if c.Ingestion.Workers < 0 {
		errs = append(errs, fmt.Errorf("ingestion.workers must not be negative"))
	}
	return errors.Join(errs...)
}

// Resolve makes a root-relative path absolute.
func (c *Config) Resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// Save writes cfg as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
