// Package monitor describes telemetry collectors and supervises their lifetime.
//
// A Spec is the immutable description of one collector: how to launch it,
// where it writes and which host capability it needs. Start turns a Spec into
// a running Instance whose status can be observed and which honors an
// explicit stop contract: a graceful interrupt, a bounded wait, then a kill.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/template"
	"time"

	"github.com/coral-mesh/idleprof/internal/capability"
)

// Scope says whether a collector observes the whole host or only the target process.
type Scope string

const (
	ScopeSystem  Scope = "system-wide"
	ScopeProcess Scope = "process-scoped"
)

// Poller is an in-process collector. Run must return promptly once ctx is
// canceled, after flushing everything it buffered into out.
type Poller interface {
	Run(ctx context.Context, out io.Writer) error
}

// PollerFactory builds a Poller for a concrete binding.
type PollerFactory func(b Binding) (Poller, error)

// Spec is the immutable description of a collector.
type Spec struct {
	// Name is the unique key of the collector.
	Name  string
	Scope Scope

	// Command is the argv of an external tool. Each element is a text/template
	// evaluated against a Binding, e.g. "{{.PID}}" or "{{.Output}}".
	Command []string
	// StdoutToSink redirects the tool's stdout into the output file.
	StdoutToSink bool

	// NewPoller builds an in-process collector. Exactly one of Command and
	// NewPoller is set.
	NewPoller PollerFactory

	// Output is the sink file name, relative to the result directory.
	Output   string
	Interval time.Duration
	Probe    capability.Probe
}

// Validate checks that the spec is well formed.
func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.New("monitor name is required")
	}
	if s.Output == "" {
		return fmt.Errorf("monitor %s: output is required", s.Name)
	}
	if s.Scope != ScopeSystem && s.Scope != ScopeProcess {
		return fmt.Errorf("monitor %s: invalid scope %q", s.Name, s.Scope)
	}
	if (len(s.Command) == 0) == (s.NewPoller == nil) {
		return fmt.Errorf("monitor %s: exactly one of command or poller is required", s.Name)
	}
	return nil
}

// Binding carries the session values a collector is launched with.
type Binding struct {
	PID       int
	Target    string
	ResultDir string
	// Output is the absolute path of the sink file.
	Output   string
	Interval time.Duration
}

// IntervalMS returns the interval in milliseconds, for tools like perf -I.
func (b Binding) IntervalMS() int64 {
	return b.Interval.Milliseconds()
}

// IntervalSeconds returns the interval in seconds, for tools like iostat.
func (b Binding) IntervalSeconds() string {
	return strconv.FormatFloat(b.Interval.Seconds(), 'f', -1, 64)
}

// ExpandArgs evaluates each argument template against b.
func ExpandArgs(args []string, b Binding) ([]string, error) {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		tmpl, err := template.New(strconv.Itoa(i)).Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid argument template %q: %w", arg, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, b); err != nil {
			return nil, fmt.Errorf("failed to expand argument %q: %w", arg, err)
		}
		out = append(out, buf.String())
	}
	return out, nil
}
