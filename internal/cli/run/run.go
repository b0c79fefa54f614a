// Package run implements `idleprof run`.
package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/idleprof/internal/cli/helpers"
	"github.com/coral-mesh/idleprof/internal/config"
	"github.com/coral-mesh/idleprof/internal/hostinfo"
	"github.com/coral-mesh/idleprof/internal/logging"
	"github.com/coral-mesh/idleprof/internal/monitor/catalog"
	"github.com/coral-mesh/idleprof/internal/publish"
	"github.com/coral-mesh/idleprof/internal/session"
	"github.com/coral-mesh/idleprof/internal/sys/proc"
)

// NewRunCmd creates the run command.
func NewRunCmd() *cobra.Command {
	var (
		targetFlags helpers.TargetFlags
		resultsRoot string
		duration    time.Duration
		disable     []string
		compression string
		format      string
	)

	cmd := &cobra.Command{
		Use:   "run [-- workload command...]",
		Short: "Run one profiling session",
		Long: `Run one profiling session end to end.

The session resolves the workload target, starts every collector whose
capability check passes, runs the workload command until it exits or its
duration elapses, stops the collectors and archives their outputs under
results_root.

A workload command after "--" replaces workload.command from the config.
Its arguments may reference the target, e.g. {{.Target.Name}}.

The command exits non-zero when the session fails: the target never appeared,
the result directory could not be prepared, or the archive could not be written.
Collector and workload anomalies are reported as warnings.`,
		Example: `  idleprof run -c idleprof.yaml
  idleprof run --pattern hdsearch --duration 5m
  idleprof run --source process --pattern redis-server -- redis-benchmark -q -n 100000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := helpers.LoadConfig(cmd)
			if err != nil {
				return err
			}

			targetFlags.Apply(cmd.Flags(), cfg)
			flags := cmd.Flags()
			if flags.Changed("results-root") {
				cfg.ResultsRoot = resultsRoot
			}
			if flags.Changed("duration") {
				cfg.Workload.Duration = duration
			}
			if flags.Changed("disable") {
				cfg.Monitors.Disable = disable
			}
			if flags.Changed("compression") {
				cfg.Archive.Compression = compression
			}
			if len(args) > 0 {
				cfg.Workload.Command = args
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if err := helpers.ValidateFormat(format); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out, err := runSession(ctx, cmd, cfg)
			if out != nil {
				if perr := printOutcome(cmd, format, out); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	targetFlags.AddFlags(cmd.Flags())
	cmd.Flags().StringVar(&resultsRoot, "results-root", "", "Writable directory for results (default /local)")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Upper bound on the workload run time")
	cmd.Flags().StringSliceVar(&disable, "disable", nil, "Built-in monitors to leave out")
	cmd.Flags().StringVar(&compression, "compression", "", "Archive compression (gzip, zstd)")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable)

	return cmd
}

func runSession(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*session.Outcome, error) {
	logCfg := helpers.LogConfig(cmd, cfg)
	logger := logging.New(logCfg)

	src, closeSource, err := helpers.NewSource(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s target source: %w", cfg.Target.Source, err)
	}
	defer closeSource()

	procFS := proc.FS{}
	reg, err := catalog.Build(cfg, catalog.Options{Proc: procFS, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("failed to build monitor registry: %w", err)
	}

	opts := session.Options{
		Config:   cfg,
		Registry: reg,
		Source:   src,
		Log:      logCfg,
		Host: func(ctx context.Context) hostinfo.Info {
			return hostinfo.Collect(ctx, procFS, logger)
		},
	}
	if cfg.Publish.S3.Enabled() {
		pub, err := publish.NewS3Publisher(ctx, cfg.Publish.S3, logger)
		if err != nil {
			return nil, err
		}
		opts.Publisher = pub
	}

	return session.New(opts).Run(ctx)
}
