package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nick-groenke/Project-Phoenix-MP-sub001/internal/engine"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, engine.DefaultTuning(), cfg.Tuning)
	assert.Equal(t, engine.DefaultSessionConfig(), cfg.Session)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "phoenix.db", cfg.DBFile)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phoenix.yaml")
	content := []byte(`
tuning:
  rep_top_threshold_mm: 650
  rep_debounce_samples: 5
session:
  countdown_seconds: 10
  auto_start_on_grip: true
machine:
  connect_timeout: 30s
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, uint16(650), cfg.Tuning.RepTopThresholdMM)
	assert.Equal(t, 5, cfg.Tuning.RepDebounceSamples)
	assert.Equal(t, 10, cfg.Session.CountdownSeconds)
	assert.True(t, cfg.Session.AutoStartOnGrip)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)

	// Untouched keys keep defaults.
	assert.Equal(t, engine.DefaultTuning().RepBottomThresholdMM, cfg.Tuning.RepBottomThresholdMM)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phoenix.yaml")
	require.NoError(t, os.WriteFile(path, []byte("db:\n  file: from-file.db\n"), 0o644))

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("db", "", "")
	flags.Duration("connect-timeout", 0, "")
	require.NoError(t, flags.Parse([]string{"--db", "from-flag.db", "--connect-timeout", "5s"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "from-flag.db", cfg.DBFile)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadRejectsInvertedThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phoenix.yaml")
	content := []byte(`
tuning:
  rep_top_threshold_mm: 100
  rep_bottom_threshold_mm: 400
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	_, err := Load(path, nil)
	assert.ErrorContains(t, err, "must be below top threshold")
}

func TestLoadRejectsBadEchoAlpha(t *testing.T) {
	path := filepath.Join(t.TempDir(), "phoenix.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tuning:\n  echo_alpha: 1.5\n"), 0o644))

	_, err := Load(path, nil)
	assert.ErrorContains(t, err, "echo alpha")
}
