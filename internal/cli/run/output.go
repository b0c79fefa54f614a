package run

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/idleprof/internal/cli/helpers"
	"github.com/coral-mesh/idleprof/internal/session"
)

func printOutcome(cmd *cobra.Command, format string, out *session.Outcome) error {
	if format != string(helpers.FormatTable) {
		return helpers.Print(cmd, format, out)
	}
	return writeSummary(cmd.OutOrStdout(), out)
}

// writeSummary prints a human-readable session report.
func writeSummary(w io.Writer, out *session.Outcome) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Session:\t%s\n", out.ID)
	fmt.Fprintf(tw, "State:\t%s\n", out.State)
	if out.Reason != "" {
		fmt.Fprintf(tw, "Reason:\t%s\n", out.Reason)
		fmt.Fprintf(tw, "Error:\t%s\n", out.Error)
	}
	if out.Target != nil {
		fmt.Fprintf(tw, "Target:\t%s (pid %d, %s)\n", out.Target.Name, out.Target.PID, out.Target.Source)
	}
	if out.Workload != nil {
		fmt.Fprintf(tw, "Workload:\t%s, exit %d after %s\n", out.Workload.Ending, out.Workload.ExitCode, out.Workload.Duration.Round(time.Millisecond))
	}
	if out.Archive != nil {
		fmt.Fprintf(tw, "Archive:\t%s (%d files, %d bytes)\n", out.Archive.Path, len(out.Archive.Files), out.Archive.Bytes)
	}
	if out.ArchiveURI != "" {
		fmt.Fprintf(tw, "Published:\t%s\n", out.ArchiveURI)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(out.Monitors) > 0 {
		fmt.Fprintln(w, "\nMonitors:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  NAME\tSCOPE\tSTATUS\tOUTPUT")
		for _, m := range out.Monitors {
			status := m.Status.String()
			switch {
			case m.Forced:
				status += " (forced)"
			case m.ExitedEarly:
				status += " (crashed)"
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", m.Name, m.Scope, status, m.Output)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if len(out.Warnings) > 0 {
		fmt.Fprintln(w, "\nWarnings:")
		for _, warn := range out.Warnings {
			if warn.Monitor != "" {
				fmt.Fprintf(w, "  [%s] %s: %s\n", warn.Kind, warn.Monitor, warn.Message)
				continue
			}
			fmt.Fprintf(w, "  [%s] %s\n", warn.Kind, warn.Message)
		}
	}
	return nil
}
