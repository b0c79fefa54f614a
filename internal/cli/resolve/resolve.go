// Package resolve implements `idleprof resolve`.
package resolve

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/idleprof/internal/cli/helpers"
	"github.com/coral-mesh/idleprof/internal/logging"
	"github.com/coral-mesh/idleprof/internal/target"
)

// Report is the resolver outcome printed by the command.
type Report struct {
	Pattern    string             `json:"pattern" yaml:"pattern"`
	Source     string             `json:"source" yaml:"source"`
	Target     *target.Target     `json:"target,omitempty" yaml:"target,omitempty"`
	Candidates []target.Candidate `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Error      string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewResolveCmd creates the resolve command.
func NewResolveCmd() *cobra.Command {
	var (
		targetFlags helpers.TargetFlags
		format      string
	)

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Locate the workload target without starting a session",
		Long: `Run the target resolver once with the configured pattern and print the
matched container or process and its host PID. When nothing matches, the
last candidate listing is shown.

Unless --attempts is given a single poll is made.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := helpers.LoadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.Target.MaxAttempts = 1
			targetFlags.Apply(cmd.Flags(), cfg)

			logger := logging.New(helpers.LogConfig(cmd, cfg))
			src, closeSource, err := helpers.NewSource(cfg, logger)
			if err != nil {
				return err
			}
			defer closeSource()

			t := cfg.Target
			report := Report{Pattern: t.Pattern, Source: src.Name()}
			tgt, resolveErr := target.NewResolver(src, logger).Resolve(cmd.Context(), t.Pattern, t.MaxAttempts, t.RetryDelay)
			if resolveErr == nil {
				report.Target = &tgt
			} else {
				report.Error = resolveErr.Error()
				var nf *target.NotFoundError
				if errors.As(resolveErr, &nf) {
					report.Candidates = nf.Candidates
				}
			}

			if format == string(helpers.FormatTable) {
				printReport(cmd.OutOrStdout(), report)
			} else if err := helpers.Print(cmd, format, report); err != nil {
				return err
			}
			return resolveErr
		},
	}

	targetFlags.AddFlags(cmd.Flags())
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable)
	return cmd
}

func printReport(w io.Writer, r Report) {
	if r.Target != nil {
		fmt.Fprintf(w, "Target: %s\n", r.Target.Name)
		fmt.Fprintf(w, "ID:     %s\n", r.Target.ID)
		fmt.Fprintf(w, "PID:    %d\n", r.Target.PID)
		fmt.Fprintf(w, "Source: %s\n", r.Target.Source)
		return
	}

	fmt.Fprintf(w, "No %s candidate matches %q\n", r.Source, r.Pattern)
	if len(r.Candidates) == 0 {
		return
	}
	fmt.Fprintln(w, "Running:")
	for _, c := range r.Candidates {
		if c.PID > 0 {
			fmt.Fprintf(w, "  %s (pid %d)\n", c.Name, c.PID)
			continue
		}
		fmt.Fprintf(w, "  %s\n", c.Name)
	}
}
