package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks the config for values the session cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.ResultsRoot == "" {
		errs = append(errs, errors.New("results_root is required"))
	}
	if !belowRoot(c.ResultDir) {
		errs = append(errs, fmt.Errorf("result_dir %q must be a relative path below results_root", c.ResultDir))
	}

	switch c.Target.Source {
	case SourceDocker, SourceProcess:
	default:
		errs = append(errs, fmt.Errorf("target.source %q must be %q or %q", c.Target.Source, SourceDocker, SourceProcess))
	}
	if c.Target.Pattern == "" {
		errs = append(errs, errors.New("target.pattern is required"))
	}
	if c.Target.MaxAttempts < 1 {
		errs = append(errs, errors.New("target.max_attempts must be at least 1"))
	}
	if c.Target.RetryDelay < 0 {
		errs = append(errs, errors.New("target.retry_delay must not be negative"))
	}

	if len(c.Workload.Command) == 0 {
		errs = append(errs, errors.New("workload.command is required"))
	}
	if c.Workload.Duration <= 0 {
		errs = append(errs, errors.New("workload.duration must be positive"))
	}
	if c.Workload.LogFile == "" {
		errs = append(errs, errors.New("workload.log_file is required"))
	}

	if c.Monitors.StopGrace <= 0 {
		errs = append(errs, errors.New("monitors.stop_grace must be positive"))
	}
	if c.Monitors.PerfInterval < 0 || c.Monitors.TurbostatInterval < 0 || c.Monitors.IostatInterval < 0 {
		errs = append(errs, errors.New("monitor intervals must not be negative"))
	}
	for i, m := range c.Monitors.Custom {
		if m.Name == "" || m.Output == "" || len(m.Command) == 0 {
			errs = append(errs, fmt.Errorf("monitors.custom[%d]: name, output and command are required", i))
		}
	}

	if c.Power.Interval <= 0 {
		errs = append(errs, errors.New("power.interval must be positive"))
	}
	if c.Power.Format != "watts" && c.Power.Format != "raw" {
		errs = append(errs, fmt.Errorf("power.format %q must be watts or raw", c.Power.Format))
	}

	if c.Archive.Name == "" || strings.ContainsRune(c.Archive.Name, filepath.Separator) {
		errs = append(errs, fmt.Errorf("archive.name %q must be a plain file name", c.Archive.Name))
	}
	switch c.Archive.Compression {
	case CompressionGzip, CompressionZstd:
	default:
		errs = append(errs, fmt.Errorf("archive.compression %q must be %q or %q", c.Archive.Compression, CompressionGzip, CompressionZstd))
	}

	return errors.Join(errs...)
}

// belowRoot reports whether dir names a directory strictly inside its parent.
// The session log and archive sit in results_root, so the result directory
// must not be results_root itself.
func belowRoot(dir string) bool {
	if dir == "" || filepath.IsAbs(dir) {
		return false
	}
	clean := filepath.Clean(dir)
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}
