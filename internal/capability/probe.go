// Package capability answers "can this collector run on this host?".
//
// Probes are side-effect free and never return an error: a missing tool,
// counter or permission is reported as Result{OK: false} with a reason, so
// the caller can skip the collector and keep going.
package capability

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/coral-mesh/idleprof/internal/privilege"
	"github.com/coral-mesh/idleprof/internal/sys/proc"
	"github.com/coral-mesh/idleprof/internal/sys/sysfs"
)

// Result is the outcome of a probe.
type Result struct {
	OK     bool
	Reason string
}

// Probe is a capability predicate.
type Probe interface {
	Name() string
	Check() Result
}

func ok() Result { return Result{OK: true} }

func absent(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

type always struct{}

// Always returns a probe that is always satisfied.
func Always() Probe { return always{} }

func (always) Name() string  { return "always" }
func (always) Check() Result { return ok() }

type pathExists struct {
	path string
}

// PathExists is satisfied when path exists, e.g. a RAPL energy_uj counter.
func PathExists(path string) Probe { return pathExists{path: path} }

func (p pathExists) Name() string { return "path:" + p.path }

func (p pathExists) Check() Result {
	if sysfs.Exists(p.path) {
		return ok()
	}
	return absent("%s not found", p.path)
}

// LookPathFunc resolves an executable name. Tests replace it.
type LookPathFunc func(file string) (string, error)

type binary struct {
	name     string
	lookPath LookPathFunc
}

// Binary is satisfied when the executable is found on $PATH.
func Binary(name string) Probe { return binary{name: name, lookPath: exec.LookPath} }

// BinaryWith is Binary with a custom resolver.
func BinaryWith(name string, lookPath LookPathFunc) Probe {
	return binary{name: name, lookPath: lookPath}
}

func (b binary) Name() string { return "binary:" + b.name }

func (b binary) Check() Result {
	if _, err := b.lookPath(b.name); err != nil {
		return absent("%s not found on PATH", b.name)
	}
	return ok()
}

type root struct {
	isRoot func() bool
}

// Root is satisfied when the process runs with euid 0.
func Root() Probe { return root{isRoot: privilege.IsRoot} }

func (root) Name() string { return "root" }

func (r root) Check() Result {
	if r.isRoot() {
		return ok()
	}
	return absent("requires root")
}

type perfEvents struct {
	fs          proc.FS
	maxParanoid int
	isRoot      func() bool
}

// PerfEvents is satisfied when the kernel lets this process open perf events:
// running as root, holding CAP_PERFMON or CAP_SYS_ADMIN, or
// perf_event_paranoid is at most maxParanoid.
func PerfEvents(fs proc.FS, maxParanoid int) Probe {
	return perfEvents{fs: fs, maxParanoid: maxParanoid, isRoot: privilege.IsRoot}
}

func (p perfEvents) Name() string { return "perf-events" }

func (p perfEvents) Check() Result {
	if p.isRoot() {
		return ok()
	}
	if mask, err := p.fs.EffectiveCapabilities(); err == nil {
		if proc.HasCapability(mask, proc.CapPerfmon) || proc.HasCapability(mask, proc.CapSysAdmin) {
			return ok()
		}
	}

	level, err := p.fs.PerfEventParanoid()
	if err != nil {
		return absent("perf events unsupported: %v", err)
	}
	if level > p.maxParanoid {
		return absent("perf_event_paranoid is %d (need <= %d, CAP_PERFMON or root)", level, p.maxParanoid)
	}
	return ok()
}

type all []Probe

// All is satisfied when every probe is. The reason of the first failure wins.
func All(probes ...Probe) Probe { return all(probes) }

func (a all) Name() string {
	names := make([]string, 0, len(a))
	for _, p := range a {
		names = append(names, p.Name())
	}
	return strings.Join(names, "+")
}

func (a all) Check() Result {
	for _, p := range a {
		if r := p.Check(); !r.OK {
			return r
		}
	}
	return ok()
}
