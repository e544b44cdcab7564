package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 512, cfg.Size)
	assert.Equal(t, 512, cfg.Width)
	assert.Equal(t, 0.9, cfg.Threshold)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "imgcompare.yaml")
	require.NoError(t, os.WriteFile(file, []byte("size: 256\nworkers: 3\noutput_dir: results\n"), 0o644))

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("IMGCOMPARE_THRESHOLD=0.75\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("IMGCOMPARE_THRESHOLD") })

	t.Setenv("IMGCOMPARE_WORKERS", "6")

	cfg, err := Load(file, envFile)
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.Size)
	assert.Equal(t, 6, cfg.Workers)
	assert.Equal(t, "results", cfg.OutputDir)
	assert.Equal(t, 0.75, cfg.Threshold)
	assert.Equal(t, 512, cfg.Width)
}

func TestLoadMissingOptionalSources(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"), "")
	assert.Error(t, err)
}

func TestLoadBadEnvironment(t *testing.T) {
	t.Setenv("IMGCOMPARE_SIZE", "big")
	_, err := Load("", "")
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.ApplyFlags(map[string]string{
		"workers":   "4",
		"threshold": "0.5",
		"db":        "runs.db",
		"echo":      "true",
		"no-color":  "true",
		"debug":     "true",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 0.5, cfg.Threshold)
	assert.Equal(t, "runs.db", cfg.Database)
	assert.True(t, cfg.Echo)
	assert.False(t, cfg.Color)
	assert.Equal(t, "debug", cfg.LogLevel)

	assert.Error(t, cfg.ApplyFlags(map[string]string{"size": "x"}))
	assert.Error(t, cfg.ApplyFlags(map[string]string{"threshold": "high"}))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"negative workers", func(c *Config) { c.Workers = -1 }, ErrInvalidWorkers},
		{"zero size", func(c *Config) { c.Size = 0 }, ErrInvalidSize},
		{"zero width", func(c *Config) { c.Width = 0 }, ErrInvalidWidth},
		{"threshold above one", func(c *Config) { c.Threshold = 1.5 }, ErrInvalidThreshold},
		{"negative capacity", func(c *Config) { c.MaxDescriptors = -3 }, ErrInvalidMaxDescriptors},
		{"empty output", func(c *Config) { c.OutputDir = "" }, ErrInvalidOutputDir},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.want)
		})
	}
}
