package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ciricc/render-energy-bench/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, 30, c.Experiment.Repetitions)
	assert.Equal(t, 60*time.Second, c.Experiment.Pause)
	assert.Equal(t, 500*time.Millisecond, c.Meter.Interval)
	assert.Equal(t, time.Duration(0), c.Experiment.TrialTimeout)
}

func TestLoadOverlaysFile(t *testing.T) {
	path := writeConfig(t, `
app:
  binary: /opt/blender/blender
  scene_file: scenes/classroom.blend
  script_flag: --python
  engine: CYCLES
  extra_args: ["--samples=64"]
meter:
  interval: 200ms
experiment:
  repetitions: 5
  pause: 2m
  trial_timeout: 15m
  seed: 42
backend:
  preferred: cuda
  require_gpu: true
log:
  level: debug
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/blender/blender", c.App.Binary)
	assert.Equal(t, "render_script.py", c.App.Script, "unset fields keep defaults")
	assert.Equal(t, "--python", c.App.ScriptFlag)
	assert.Equal(t, []string{"--samples=64"}, c.App.ExtraArgs)
	assert.Equal(t, 200*time.Millisecond, c.Meter.Interval)
	assert.Equal(t, 5, c.Experiment.Repetitions)
	assert.Equal(t, 2*time.Minute, c.Experiment.Pause)
	assert.Equal(t, 15*time.Minute, c.Experiment.TrialTimeout)
	assert.Equal(t, uint64(42), c.Experiment.Seed)
	assert.Equal(t, backend.CUDA, c.PreferredBackend())
	assert.True(t, c.Backend.RequireGPU)
	assert.Equal(t, slog.LevelDebug, c.LogLevel())
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, `
experiment:
  repetitions: 0
  pause: -1s
meter:
  interval: 0s
backend:
  preferred: vulkan
log:
  format: xml
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"experiment.repetitions", "experiment.pause", "meter.interval", "backend.preferred", "log.format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidateRequiresPaths(t *testing.T) {
	c := Default()
	c.App.Binary = ""
	c.Output.RawLogDir = " "
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.binary is required")
	assert.Contains(t, err.Error(), "output.raw_log_dir is required")
}
