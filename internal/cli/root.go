// Package cli wires the idleprof commands.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	configcmd "github.com/coral-mesh/idleprof/internal/cli/config"
	"github.com/coral-mesh/idleprof/internal/cli/helpers"
	"github.com/coral-mesh/idleprof/internal/cli/probe"
	"github.com/coral-mesh/idleprof/internal/cli/resolve"
	"github.com/coral-mesh/idleprof/internal/cli/run"
	"github.com/coral-mesh/idleprof/pkg/version"
)

// NewRootCmd builds the idleprof command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "idleprof",
		Short: "Profile a benchmark workload with OS telemetry collectors",
		Long: `idleprof runs one profiling session on a testbed host.

It locates the workload's container or process, starts the telemetry
collectors the host supports (perf, turbostat, iostat, RAPL power), runs the
benchmark for a bounded duration, stops every collector and packs their
outputs into a single archive.

Collectors the hardware or kernel cannot run are skipped and reported,
not treated as errors.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "Session config file (default ./idleprof.yaml)")
	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(run.NewRunCmd())
	root.AddCommand(probe.NewProbeCmd())
	root.AddCommand(resolve.NewResolveCmd())
	root.AddCommand(configcmd.NewConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if format == string(helpers.FormatTable) {
				cmd.Println(info.String())
				return nil
			}
			return helpers.Print(cmd, format, info)
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable)
	return cmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
