// Package catalog builds the monitor registry for a session from its config.
package catalog

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/idleprof/internal/capability"
	"github.com/coral-mesh/idleprof/internal/config"
	"github.com/coral-mesh/idleprof/internal/constants"
	"github.com/coral-mesh/idleprof/internal/monitor"
	"github.com/coral-mesh/idleprof/internal/power"
	"github.com/coral-mesh/idleprof/internal/sys/proc"
)

// Built-in monitor names.
const (
	PerfSystem  = "perf_system"
	PerfProcess = "perf_process"
	Turbostat   = "turbostat"
	Iostat      = "iostat"
	Powercap    = "powercap"
)

// Options carries host access used by the capability probes.
type Options struct {
	Proc     proc.FS
	LookPath capability.LookPathFunc
	Logger   zerolog.Logger
}

func (o Options) binary(name string) capability.Probe {
	if o.LookPath != nil {
		return capability.BinaryWith(name, o.LookPath)
	}
	return capability.Binary(name)
}

// Builtins returns the default collector set in start order.
func Builtins(cfg *config.Config, opts Options) []monitor.Spec {
	m := cfg.Monitors
	events := strings.Join(m.PerfEvents, ",")
	perfProbe := capability.All(opts.binary("perf"), capability.PerfEvents(opts.Proc, m.PerfMaxParanoid))

	reader := power.NewRAPLReader(cfg.Power.Root)
	powerLogger := opts.Logger.With().Str("component", "power").Logger()

	return []monitor.Spec{
		{
			Name:     PerfSystem,
			Scope:    monitor.ScopeSystem,
			Command:  []string{"perf", "stat", "-a", "-I", "{{.IntervalMS}}", "-e", events, "-o", "{{.Output}}"},
			Output:   "perf_system_summary.log",
			Interval: m.PerfInterval,
			Probe:    perfProbe,
		},
		{
			Name:     PerfProcess,
			Scope:    monitor.ScopeProcess,
			Command:  []string{"perf", "stat", "-p", "{{.PID}}", "-I", "{{.IntervalMS}}", "-e", events, "-o", "{{.Output}}"},
			Output:   "perf_target_process.log",
			Interval: m.PerfInterval,
			Probe:    perfProbe,
		},
		{
			Name:     Turbostat,
			Scope:    monitor.ScopeSystem,
			Command:  []string{"turbostat", "-i", "{{.IntervalSeconds}}", "--debug", "-q", "-o", "{{.Output}}"},
			Output:   "turbostat_output.log",
			Interval: m.TurbostatInterval,
			Probe:    capability.All(opts.binary("turbostat"), capability.Root()),
		},
		{
			Name:         Iostat,
			Scope:        monitor.ScopeSystem,
			Command:      []string{"iostat", "-x", "-d", "{{.IntervalSeconds}}"},
			StdoutToSink: true,
			Output:       "iostat_output.log",
			Interval:     m.IostatInterval,
			Probe:        opts.binary("iostat"),
		},
		{
			// The sampler reads host-wide RAPL counters; the scope only
			// decides whether a PID is bound, so it runs system-wide.
			Name:  Powercap,
			Scope: monitor.ScopeSystem,
			NewPoller: func(b monitor.Binding) (monitor.Poller, error) {
				return &power.Sampler{
					Reader:   reader,
					Interval: b.Interval,
					Format:   cfg.Power.Format,
					Logger:   powerLogger,
				}, nil
			},
			Output:   cfg.Power.Output,
			Interval: cfg.Power.Interval,
			Probe:    capability.All(capability.PathExists(reader.PackagePath), capability.PathExists(reader.DRAMPath)),
		},
	}
}

// Custom converts configured custom monitors into specs.
func Custom(cfg *config.Config, opts Options) []monitor.Spec {
	specs := make([]monitor.Spec, 0, len(cfg.Monitors.Custom))
	for _, c := range cfg.Monitors.Custom {
		scope := monitor.Scope(c.Scope)
		if c.Scope == "" {
			scope = monitor.ScopeSystem
		}

		var probes []capability.Probe
		for _, b := range c.RequiresBinaries {
			probes = append(probes, opts.binary(b))
		}
		for _, p := range c.RequiresPaths {
			probes = append(probes, capability.PathExists(p))
		}

		interval := c.Interval
		if interval == 0 {
			interval = constants.DefaultSampleInterval
		}

		specs = append(specs, monitor.Spec{
			Name:         c.Name,
			Scope:        scope,
			Command:      c.Command,
			StdoutToSink: c.Stdout,
			Output:       c.Output,
			Interval:     interval,
			Probe:        capability.All(probes...),
		})
	}
	return specs
}

// Build registers the enabled built-ins followed by the custom monitors.
func Build(cfg *config.Config, opts Options) (*monitor.Registry, error) {
	reg := monitor.NewRegistry()

	for _, spec := range Builtins(cfg, opts) {
		if cfg.Disabled(spec.Name) {
			opts.Logger.Info().Str("monitor", spec.Name).Msg("Monitor disabled by configuration")
			continue
		}
		if err := reg.Register(spec); err != nil {
			return nil, err
		}
	}

	for _, spec := range Custom(cfg, opts) {
		if err := reg.Register(spec); err != nil {
			return nil, fmt.Errorf("custom monitor: %w", err)
		}
	}

	return reg, nil
}
