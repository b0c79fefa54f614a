package target

import (
	"context"
	"sort"
	"strconv"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessSource lists host processes, matching on the process name.
type ProcessSource struct {
	// Self excludes this process from listings; the pattern would otherwise
	// match the profiler's own command line in some setups.
	Self int32
}

// Name implements Source.
func (p *ProcessSource) Name() string { return "process" }

// List returns running processes in ascending PID order.
func (p *ProcessSource) List(ctx context.Context) ([]Candidate, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(procs, func(i, j int) bool { return procs[i].Pid < procs[j].Pid })

	out := make([]Candidate, 0, len(procs))
	for _, pr := range procs {
		if pr.Pid == p.Self {
			continue
		}
		name, err := pr.NameWithContext(ctx)
		if err != nil {
			// Exited between listing and reading, or not readable.
			continue
		}
		out = append(out, Candidate{
			ID:   strconv.Itoa(int(pr.Pid)),
			Name: name,
			PID:  int(pr.Pid),
		})
	}
	return out, nil
}

// PID confirms the process still runs and returns it.
func (p *ProcessSource) PID(ctx context.Context, c Candidate) (int, error) {
	running, err := process.PidExistsWithContext(ctx, int32(c.PID))
	if err != nil {
		return 0, err
	}
	if !running {
		return 0, nil
	}
	return c.PID, nil
}
