package config

import (
	"path/filepath"
	"time"
)

// SchemaVersion is the configuration schema version.
const SchemaVersion = "1"

// Config is one profiling session, usually read from idleprof.yaml.
type Config struct {
	Version string `yaml:"version"`

	// ResultsRoot is the writable directory supplied by the provisioning layer.
	ResultsRoot string `yaml:"results_root" env:"IDLEPROF_RESULTS_ROOT"`
	// ResultDir is the collector output directory, relative to ResultsRoot.
	ResultDir string `yaml:"result_dir" env:"IDLEPROF_RESULT_DIR"`

	Log      LogConfig      `yaml:"log"`
	Hooks    HooksConfig    `yaml:"hooks"`
	Target   TargetConfig   `yaml:"target"`
	Workload WorkloadConfig `yaml:"workload"`
	Monitors MonitorsConfig `yaml:"monitors"`
	Power    PowerConfig    `yaml:"power"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Publish  PublishConfig  `yaml:"publish"`
}

// LogConfig configures console and session logging.
type LogConfig struct {
	Level  string `yaml:"level" env:"IDLEPROF_LOG_LEVEL"`
	Pretty bool   `yaml:"pretty" env:"IDLEPROF_LOG_PRETTY"`
}

// HooksConfig holds commands that bring the workload environment up and down,
// e.g. "docker compose up -d".
type HooksConfig struct {
	Setup []string `yaml:"setup,omitempty" env:"IDLEPROF_HOOK_SETUP"`
	// SetupWait is slept after Setup before resolution starts.
	SetupWait time.Duration `yaml:"setup_wait,omitempty" env:"IDLEPROF_HOOK_SETUP_WAIT"`
	Teardown  []string      `yaml:"teardown,omitempty" env:"IDLEPROF_HOOK_TEARDOWN"`
	Dir       string        `yaml:"dir,omitempty" env:"IDLEPROF_HOOK_DIR"`
}

// Target sources.
const (
	SourceDocker  = "docker"
	SourceProcess = "process"
)

// TargetConfig controls how the workload process is located.
type TargetConfig struct {
	Source      string        `yaml:"source" env:"IDLEPROF_TARGET_SOURCE"`
	Pattern     string        `yaml:"pattern" env:"IDLEPROF_TARGET_PATTERN"`
	MaxAttempts int           `yaml:"max_attempts" env:"IDLEPROF_TARGET_MAX_ATTEMPTS"`
	RetryDelay  time.Duration `yaml:"retry_delay" env:"IDLEPROF_TARGET_RETRY_DELAY"`
	// DockerHost overrides DOCKER_HOST for the docker source.
	DockerHost string `yaml:"docker_host,omitempty" env:"IDLEPROF_DOCKER_HOST"`
}

// WorkloadConfig describes the benchmark command.
type WorkloadConfig struct {
	// Command is an argv whose elements are templates over the resolved
	// target, e.g. "{{.Target.Name}}".
	Command   []string      `yaml:"command" env:"IDLEPROF_WORKLOAD_COMMAND"`
	Duration  time.Duration `yaml:"duration" env:"IDLEPROF_WORKLOAD_DURATION"`
	StopGrace time.Duration `yaml:"stop_grace" env:"IDLEPROF_WORKLOAD_STOP_GRACE"`
	LogFile   string        `yaml:"log_file" env:"IDLEPROF_WORKLOAD_LOG"`
}

// MonitorsConfig controls the collector set and its lifecycle timings.
type MonitorsConfig struct {
	StartupTimeout time.Duration `yaml:"startup_timeout" env:"IDLEPROF_MONITORS_STARTUP_TIMEOUT"`
	// Settle is waited after all monitors are running, before the workload starts.
	Settle    time.Duration `yaml:"settle" env:"IDLEPROF_MONITORS_SETTLE"`
	StopGrace time.Duration `yaml:"stop_grace" env:"IDLEPROF_MONITORS_STOP_GRACE"`

	// Disable lists built-in monitors that are not registered.
	Disable []string `yaml:"disable,omitempty" env:"IDLEPROF_MONITORS_DISABLE"`

	PerfEvents        []string      `yaml:"perf_events,omitempty" env:"IDLEPROF_PERF_EVENTS"`
	PerfInterval      time.Duration `yaml:"perf_interval" env:"IDLEPROF_PERF_INTERVAL"`
	PerfMaxParanoid   int           `yaml:"perf_max_paranoid" env:"IDLEPROF_PERF_MAX_PARANOID"`
	TurbostatInterval time.Duration `yaml:"turbostat_interval" env:"IDLEPROF_TURBOSTAT_INTERVAL"`
	IostatInterval    time.Duration `yaml:"iostat_interval" env:"IDLEPROF_IOSTAT_INTERVAL"`

	Custom []CustomMonitor `yaml:"custom,omitempty"`
}

// CustomMonitor declares an additional command-line collector.
type CustomMonitor struct {
	Name     string        `yaml:"name"`
	Scope    string        `yaml:"scope"`
	Command  []string      `yaml:"command"`
	Output   string        `yaml:"output"`
	Stdout   bool          `yaml:"stdout,omitempty"`
	Interval time.Duration `yaml:"interval,omitempty"`
	// RequiresBinaries and RequiresPaths form the capability probe.
	RequiresBinaries []string `yaml:"requires_binaries,omitempty"`
	RequiresPaths    []string `yaml:"requires_paths,omitempty"`
}

// PowerConfig configures the RAPL power sampler.
type PowerConfig struct {
	Interval time.Duration `yaml:"interval" env:"IDLEPROF_POWER_INTERVAL"`
	// Root is the powercap sysfs directory.
	Root   string `yaml:"root" env:"IDLEPROF_POWER_ROOT"`
	Format string `yaml:"format" env:"IDLEPROF_POWER_FORMAT"`
	Output string `yaml:"output" env:"IDLEPROF_POWER_OUTPUT"`
}

// Archive compressions.
const (
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// ArchiveConfig configures the result archive.
type ArchiveConfig struct {
	Name        string `yaml:"name" env:"IDLEPROF_ARCHIVE_NAME"`
	Compression string `yaml:"compression" env:"IDLEPROF_ARCHIVE_COMPRESSION"`
	// HandOff relaxes permissions on the results and, under sudo, returns
	// ownership to the invoking user.
	HandOff bool `yaml:"hand_off" env:"IDLEPROF_ARCHIVE_HAND_OFF"`
}

// PublishConfig configures the optional upload of the finished archive.
type PublishConfig struct {
	S3 S3Config `yaml:"s3"`
}

// S3Config targets an S3 or S3-compatible bucket.
type S3Config struct {
	Bucket    string `yaml:"bucket,omitempty" env:"IDLEPROF_S3_BUCKET"`
	Prefix    string `yaml:"prefix,omitempty" env:"IDLEPROF_S3_PREFIX"`
	Region    string `yaml:"region,omitempty" env:"IDLEPROF_S3_REGION"`
	Endpoint  string `yaml:"endpoint,omitempty" env:"IDLEPROF_S3_ENDPOINT"`
	PathStyle bool   `yaml:"path_style,omitempty" env:"IDLEPROF_S3_PATH_STYLE"`
}

// Enabled reports whether an upload is configured.
func (s S3Config) Enabled() bool {
	return s.Bucket != ""
}

// ResultDirPath returns the absolute collector output directory.
func (c *Config) ResultDirPath() string {
	return filepath.Join(c.ResultsRoot, c.ResultDir)
}

// ArchivePath returns where the archive is written.
func (c *Config) ArchivePath() string {
	return filepath.Join(c.ResultsRoot, c.Archive.Name)
}

// WorkloadLogPath returns the workload output log path.
func (c *Config) WorkloadLogPath() string {
	if filepath.IsAbs(c.Workload.LogFile) {
		return c.Workload.LogFile
	}
	return filepath.Join(c.ResultsRoot, c.Workload.LogFile)
}

// Disabled reports whether a built-in monitor is disabled.
func (c *Config) Disabled(name string) bool {
	for _, d := range c.Monitors.Disable {
		if d == name {
			return true
		}
	}
	return false
}
