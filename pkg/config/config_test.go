package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, ".erd-state.json", cfg.State.Path)
	assert.Equal(t, 4, cfg.Processing.Workers)
	assert.Equal(t, 300*time.Second, cfg.Processing.BatchTimeout)
	assert.False(t, cfg.Validation.Enabled)
	assert.InDelta(t, 0.7, cfg.Validation.PassThreshold, 1e-9)
	assert.Equal(t, "mermaid", cfg.Output.Format)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
cache:
  enabled: false
  ttl: 1h
processing:
  workers: 2
  batch_size: 5
output:
  format: plantuml
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 2, cfg.Processing.Workers)
	assert.Equal(t, 5, cfg.Processing.BatchSize)
	assert.Equal(t, "plantuml", cfg.Output.Format)
}

func TestEnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing:\n  workers: 2\n"), 0o644))
	t.Setenv("ERD_PROCESSING_WORKERS", "6")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Processing.Workers)
}

func TestLoadRejectsBadFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  format: drawio\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingPatternFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("patterns_path: "+filepath.Join(dir, "nope.yaml")+"\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDatabaseConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host: "localhost", Port: 5432, User: "erd",
		Password: "secret", Database: "warehouse", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=erd password=secret dbname=warehouse sslmode=disable",
		db.ConnectionString())
	assert.True(t, db.Configured())
	assert.False(t, (&DatabaseConfig{}).Configured())
}
