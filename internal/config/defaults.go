package config

import (
	"github.com/coral-mesh/idleprof/internal/constants"
)

// DefaultConfig returns a session config with the testbed defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:     SchemaVersion,
		ResultsRoot: constants.DefaultResultsRoot,
		ResultDir:   constants.DefaultResultDir,
		Log: LogConfig{
			Level:  "info",
			Pretty: true,
		},
		Target: TargetConfig{
			Source:      SourceDocker,
			Pattern:     constants.DefaultTargetPattern,
			MaxAttempts: constants.DefaultMaxAttempts,
			RetryDelay:  constants.DefaultRetryDelay,
		},
		Workload: WorkloadConfig{
			Command: []string{
				"docker", "exec", "{{.Target.Name}}",
				"bash", "-c", "sleep 60 && echo 'benchmark placeholder completed'",
			},
			Duration:  constants.DefaultWorkloadDuration,
			StopGrace: constants.DefaultWorkloadStopGrace,
			LogFile:   constants.DefaultWorkloadLog,
		},
		Monitors: MonitorsConfig{
			StartupTimeout:    constants.DefaultStartupTimeout,
			Settle:            constants.DefaultSettle,
			StopGrace:         constants.DefaultStopGrace,
			PerfEvents:        append([]string(nil), constants.DefaultPerfEvents...),
			PerfInterval:      constants.DefaultPerfInterval,
			PerfMaxParanoid:   1,
			TurbostatInterval: constants.DefaultSampleInterval,
			IostatInterval:    constants.DefaultSampleInterval,
		},
		Power: PowerConfig{
			Interval: constants.DefaultSampleInterval,
			Format:   "watts",
			Output:   "powercap_output.csv",
		},
		Archive: ArchiveConfig{
			Name:        constants.DefaultArchiveName,
			Compression: CompressionGzip,
			HandOff:     true,
		},
	}
}
