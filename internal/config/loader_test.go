package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "idleprof.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
results_root: /tmp/bench
target:
  source: process
  pattern: redis-server
  retry_delay: 250ms
workload:
  command: ["redis-benchmark", "-n", "100000"]
  duration: 2m
monitors:
  disable: [turbostat]
  custom:
    - name: vmstat
      scope: system-wide
      command: ["vmstat", "1"]
      output: vmstat_output.log
      stdout: true
      requires_binaries: [vmstat]
archive:
  compression: zstd
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/bench", cfg.ResultsRoot)
	assert.Equal(t, "results", cfg.ResultDir, "unset keys keep defaults")
	assert.Equal(t, SourceProcess, cfg.Target.Source)
	assert.Equal(t, "redis-server", cfg.Target.Pattern)
	assert.Equal(t, 250*time.Millisecond, cfg.Target.RetryDelay)
	assert.Equal(t, 30, cfg.Target.MaxAttempts)
	assert.Equal(t, []string{"redis-benchmark", "-n", "100000"}, cfg.Workload.Command)
	assert.Equal(t, 2*time.Minute, cfg.Workload.Duration)
	assert.True(t, cfg.Disabled("turbostat"))
	assert.False(t, cfg.Disabled("iostat"))
	require.Len(t, cfg.Monitors.Custom, 1)
	assert.True(t, cfg.Monitors.Custom[0].Stdout)
	assert.Equal(t, CompressionZstd, cfg.Archive.Compression)

	assert.Equal(t, "/tmp/bench/results", cfg.ResultDirPath())
	assert.Equal(t, "/tmp/bench/results.tar.gz", cfg.ArchivePath())
	assert.Equal(t, "/tmp/bench/workload.log", cfg.WorkloadLogPath())
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoad_DefaultFileOptional(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "target: [unclosed")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "target:\n  pattern: from-file\n")
	t.Setenv("IDLEPROF_TARGET_PATTERN", "from-env")
	t.Setenv("IDLEPROF_WORKLOAD_DURATION", "45s")
	t.Setenv("IDLEPROF_MONITORS_DISABLE", "iostat, perf_process")
	t.Setenv("IDLEPROF_ARCHIVE_HAND_OFF", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Target.Pattern)
	assert.Equal(t, 45*time.Second, cfg.Workload.Duration)
	assert.Equal(t, []string{"iostat", "perf_process"}, cfg.Monitors.Disable)
	assert.False(t, cfg.Archive.HandOff)
}

func TestMergeFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		env   string
		value string
	}{
		{"IDLEPROF_TARGET_RETRY_DELAY", "soon"},
		{"IDLEPROF_TARGET_MAX_ATTEMPTS", "many"},
		{"IDLEPROF_LOG_PRETTY", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			err := MergeFromEnv(DefaultConfig())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.env)
		})
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	data, err := Marshal(DefaultConfig())
	require.NoError(t, err)
	assert.Contains(t, string(data), "results_root: /local")
	assert.Contains(t, string(data), "retry_delay: 1s")
}
