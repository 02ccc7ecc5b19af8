package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Template.MaxBranch)
	assert.InDelta(t, 0.49, cfg.Resolution.UnresolvedCeiling, 1e-9)
	assert.InDelta(t, 0.85, cfg.Enhancer.InferredKeyFloor, 1e-9)
	assert.Equal(t, 10, cfg.Calibration.MinEntries)
	assert.Equal(t, "badger", cfg.Storage.Backend)
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	cfg, err := Load(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, Default().Template, cfg.Template)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(`
template:
  max_branch: 5
resolution:
  score_exact: 20
confidence:
  weights:
    ast: 0.5
storage:
  backend: memory
`), 0o644))

	cfg, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Template.MaxBranch)
	assert.InDelta(t, 0.9, cfg.Template.StaticConfidence, 1e-9, "unset keys keep defaults")
	assert.Equal(t, 20, cfg.Resolution.ScoreExact)
	assert.Equal(t, 5, cfg.Resolution.ScoreNear)
	assert.InDelta(t, 0.5, cfg.Confidence.Weights.AST, 1e-9)
	assert.InDelta(t, 0.3, cfg.Confidence.Weights.Static, 1e-9)
	assert.Equal(t, "memory", cfg.Storage.Backend)
}

func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	_, err := Load(root, filepath.Join(root, "missing.yaml"))
	assert.Error(t, err, "explicit path must exist")

	bad := filepath.Join(root, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("template: [1, 2"), 0o644))
	_, err = Load(root, bad)
	assert.Error(t, err)

	invalid := filepath.Join(root, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("resolution:\n  unresolved_ceiling: 0.7\n"), 0o644))
	_, err = Load(root, invalid)
	assert.ErrorContains(t, err, "unresolved ceiling")
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"AXON_SQL_STORAGE_BACKEND":    "memory",
		"AXON_SQL_MAX_BRANCH":         "7",
		"AXON_SQL_RESOLVED_BOOST":     "0.1",
		"AXON_SQL_INFERRED_KEY_FLOOR": "0.9",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, applyEnv(cfg, lookup))
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, 7, cfg.Template.MaxBranch)
	assert.InDelta(t, 0.1, cfg.Resolution.ResolvedBoost, 1e-9)
	assert.InDelta(t, 0.9, cfg.Enhancer.InferredKeyFloor, 1e-9)

	env["AXON_SQL_WORKERS"] = "many"
	assert.Error(t, applyEnv(Default(), lookup))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"max branch", func(c *Config) { c.Template.MaxBranch = 0 }},
		{"static confidence", func(c *Config) { c.Template.StaticConfidence = 1.5 }},
		{"backend", func(c *Config) { c.Storage.Backend = "postgres" }},
		{"bounds", func(c *Config) { c.Confidence.Bounds.Min = 0.9; c.Confidence.Bounds.Max = 0.5 }},
		{"enhancer", func(c *Config) { c.Enhancer.Epsilon = -1 }},
		{"workers", func(c *Config) { c.Ingestion.Workers = -2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	cfg := Default()
	cfg.Confidence.Weights.AST = 0.55
	cfg.Schema.CSV = "schema.csv"

	path := filepath.Join(root, FileName)
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(root, "")
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestResolve(t *testing.T) {
	t.Parallel()

	cfg := Default()
	assert.Equal(t, filepath.Join("/repo", ".axon-sql", "graph"), cfg.Resolve("/repo", cfg.Storage.Path))
	assert.Equal(t, "/abs/x.db", cfg.Resolve("/repo", "/abs/x.db"))
	assert.Empty(t, cfg.Resolve("/repo", ""))
}
