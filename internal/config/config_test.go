package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 1000, cfg.Optimization.MaxIterations)
	assert.Equal(t, 1.0, cfg.Optimization.Reflection)
	assert.Equal(t, 2.0, cfg.Optimization.Expansion)
	assert.Equal(t, 0.5, cfg.Optimization.Contraction)
	assert.Equal(t, 1e-6, cfg.Optimization.Tolerance)
	assert.Equal(t, 1.0, cfg.Optimization.Scale)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("OPT_MAX_ITERATIONS", "50000")
	t.Setenv("OPT_TOLERANCE", "1e-9")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 50000, cfg.Optimization.MaxIterations)
	assert.Equal(t, 1e-9, cfg.Optimization.Tolerance)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
http:
  port: 1234
optimization:
  max_iterations: 42
  contraction: 0.25
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	// File values win over the environment.
	assert.Equal(t, 1234, cfg.HTTP.Port)
	assert.Equal(t, 42, cfg.Optimization.MaxIterations)
	assert.Equal(t, 0.25, cfg.Optimization.Contraction)

	// Fields the file does not mention keep their env-derived values.
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 2.0, cfg.Optimization.Expansion)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml:"), 0o644))

	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.Error(t, err)
}
