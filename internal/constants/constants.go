// Package constants defines shared configuration constants.
package constants

import "time"

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "IDLEPROF_"

	// DefaultConfigFile is looked up in the working directory when --config is not given.
	DefaultConfigFile = "idleprof.yaml"

	// DefaultResultsRoot is the writable directory supplied by the provisioning layer.
	DefaultResultsRoot = "/local"

	// DefaultResultDir holds collector outputs, relative to the results root.
	DefaultResultDir = "results"

	// DefaultArchiveName is the archive written beside the result directory.
	DefaultArchiveName = "results.tar.gz"

	// DefaultWorkloadLog and DefaultManifest live beside the archive.
	DefaultWorkloadLog = "workload.log"
	DefaultManifest    = "session.json"

	DefaultTargetPattern = "hdsearch"
)

const (
	DefaultMaxAttempts = 30
	DefaultRetryDelay  = time.Second

	DefaultWorkloadDuration  = 10 * time.Minute
	DefaultWorkloadStopGrace = 10 * time.Second

	DefaultStartupTimeout = 10 * time.Second
	DefaultSettle         = 5 * time.Second
	DefaultStopGrace      = 5 * time.Second

	DefaultPerfInterval   = 100 * time.Millisecond
	DefaultSampleInterval = time.Second
)

// DefaultPerfEvents are the hardware and software counters collected by perf stat.
var DefaultPerfEvents = []string{
	"cycles",
	"instructions",
	"stalled-cycles-frontend",
	"stalled-cycles-backend",
	"cache-references",
	"cache-misses",
	"L1-dcache-load-misses",
	"LLC-load-misses",
	"dTLB-load-misses",
	"iTLB-load-misses",
	"bus-cycles",
	"context-switches",
	"cpu-migrations",
}
