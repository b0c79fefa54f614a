// Package hostinfo snapshots the testbed host for the session manifest.
package hostinfo

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"

	"github.com/coral-mesh/idleprof/internal/sys/proc"
)

// Info describes the host a session ran on.
type Info struct {
	Hostname        string `json:"hostname"`
	OS              string `json:"os"`
	Platform        string `json:"platform,omitempty"`
	PlatformVersion string `json:"platform_version,omitempty"`
	KernelVersion   string `json:"kernel_version,omitempty"`
	Arch            string `json:"arch"`
	CPUModel        string `json:"cpu_model,omitempty"`
	PhysicalCores   int    `json:"physical_cores,omitempty"`
	LogicalCores    int    `json:"logical_cores"`
	BootTime        uint64 `json:"boot_time,omitempty"`
}

// Collect gathers what it can; lookups that fail are logged and left empty.
func Collect(ctx context.Context, fs proc.FS, logger zerolog.Logger) Info {
	info := Info{
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		LogicalCores: runtime.NumCPU(),
	}

	if h, err := host.InfoWithContext(ctx); err != nil {
		logger.Debug().Err(err).Msg("Failed to read host info")
	} else {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.PlatformVersion = h.PlatformVersion
		info.KernelVersion = h.KernelVersion
		info.BootTime = h.BootTime
		if h.KernelArch != "" {
			info.Arch = h.KernelArch
		}
	}
	if info.KernelVersion == "" {
		info.KernelVersion = fs.KernelVersion()
	}

	if cpus, err := cpu.InfoWithContext(ctx); err != nil {
		logger.Debug().Err(err).Msg("Failed to read CPU info")
	} else if len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.PhysicalCores = n
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil && n > 0 {
		info.LogicalCores = n
	}

	return info
}
