// Package helpers holds plumbing shared by the idleprof commands.
package helpers

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/idleprof/internal/config"
	"github.com/coral-mesh/idleprof/internal/errors"
	"github.com/coral-mesh/idleprof/internal/logging"
	"github.com/coral-mesh/idleprof/internal/target"
)

// TargetFlags are the target overrides shared by run and resolve.
type TargetFlags struct {
	Source      string
	Pattern     string
	MaxAttempts int
	RetryDelay  time.Duration
}

// AddFlags adds the target flags to a FlagSet.
func (f *TargetFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.Source, "source", "", "Target source (docker, process)")
	flags.StringVarP(&f.Pattern, "pattern", "p", "", "Substring of the workload container or process name")
	flags.IntVar(&f.MaxAttempts, "attempts", 0, "Maximum resolver polls")
	flags.DurationVar(&f.RetryDelay, "retry-delay", 0, "Delay between resolver polls")
}

// Apply copies the flags that were actually set onto cfg.
func (f *TargetFlags) Apply(flags *pflag.FlagSet, cfg *config.Config) {
	if flags.Changed("source") {
		cfg.Target.Source = f.Source
	}
	if flags.Changed("pattern") {
		cfg.Target.Pattern = f.Pattern
	}
	if flags.Changed("attempts") {
		cfg.Target.MaxAttempts = f.MaxAttempts
	}
	if flags.Changed("retry-delay") {
		cfg.Target.RetryDelay = f.RetryDelay
	}
}

// LoadConfig loads the config named by the persistent --config flag and
// applies the persistent --log-level override.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	return cfg, nil
}

// LogConfig maps the session log settings onto the logger config. Console
// output goes to the command's stderr.
func LogConfig(cmd *cobra.Command, cfg *config.Config) logging.Config {
	return logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
	}
}

// NewSource opens the configured target source. The returned close function
// is never nil.
func NewSource(cfg *config.Config, logger zerolog.Logger) (target.Source, func(), error) {
	if cfg.Target.Source == config.SourceProcess {
		//nolint:gosec // G115: Linux PIDs fit in int32.
		return &target.ProcessSource{Self: int32(os.Getpid())}, func() {}, nil
	}

	src, err := target.NewDockerSource(cfg.Target.DockerHost)
	if err != nil {
		return nil, nil, err
	}
	return src, func() { errors.DeferClose(logger, src, "failed to close docker client") }, nil
}
