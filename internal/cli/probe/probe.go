// Package probe implements `idleprof probe`.
package probe

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/idleprof/internal/cli/helpers"
	"github.com/coral-mesh/idleprof/internal/logging"
	"github.com/coral-mesh/idleprof/internal/monitor"
	"github.com/coral-mesh/idleprof/internal/monitor/catalog"
	"github.com/coral-mesh/idleprof/internal/sys/proc"
)

// Row is one monitor's capability check.
type Row struct {
	Monitor   string `header:"MONITOR" json:"monitor" yaml:"monitor"`
	Scope     string `header:"SCOPE" json:"scope" yaml:"scope"`
	Available bool   `header:"AVAILABLE" json:"available" yaml:"available"`
	Check     string `header:"CHECK" json:"check" yaml:"check"`
	Reason    string `header:"REASON" json:"reason,omitempty" yaml:"reason,omitempty"`
}

// NewProbeCmd creates the probe command.
func NewProbeCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Show which monitors this host can run",
		Long: `Evaluate the capability check of every configured monitor without
starting anything. Monitors reported as unavailable would be skipped by
'idleprof run'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := helpers.LoadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.New(helpers.LogConfig(cmd, cfg))

			reg, err := catalog.Build(cfg, catalog.Options{Proc: proc.FS{}, Logger: logger})
			if err != nil {
				return err
			}
			return helpers.Print(cmd, format, Check(reg))
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable)
	return cmd
}

// Check evaluates every registered probe in registration order.
func Check(reg *monitor.Registry) []Row {
	rows := make([]Row, 0, reg.Len())
	for _, spec := range reg.Specs() {
		res := spec.Probe.Check()
		rows = append(rows, Row{
			Monitor:   spec.Name,
			Scope:     string(spec.Scope),
			Available: res.OK,
			Check:     spec.Probe.Name(),
			Reason:    res.Reason,
		})
	}
	return rows
}
