// Package session drives one profiling session: resolve the workload, start
// the collectors, run the benchmark, stop the collectors and archive whatever
// they produced.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/coral-mesh/idleprof/internal/archive"
	"github.com/coral-mesh/idleprof/internal/config"
	"github.com/coral-mesh/idleprof/internal/constants"
	"github.com/coral-mesh/idleprof/internal/hostinfo"
	"github.com/coral-mesh/idleprof/internal/logging"
	"github.com/coral-mesh/idleprof/internal/monitor"
	"github.com/coral-mesh/idleprof/internal/privilege"
	"github.com/coral-mesh/idleprof/internal/sys/proc"
	"github.com/coral-mesh/idleprof/internal/target"
	"github.com/coral-mesh/idleprof/internal/workload"
)

// Publisher uploads a finished archive and returns where it went.
type Publisher interface {
	Publish(ctx context.Context, sessionID, archivePath string) (string, error)
}

// Options wires a Controller.
type Options struct {
	Config   *config.Config
	Registry *monitor.Registry
	Source   target.Source
	// Publisher is optional.
	Publisher Publisher
	// Host snapshots the host for the manifest. Defaults to hostinfo.Collect.
	Host func(ctx context.Context) hostinfo.Info
	// Log configures the console side of the session logger.
	Log logging.Config
}

// Outcome is the structured result of a session. It is written to
// session.json next to the archive.
type Outcome struct {
	ID         string           `json:"id"`
	State      State            `json:"state"`
	Reason     Reason           `json:"reason,omitempty"`
	Error      string           `json:"error,omitempty"`
	Target     *target.Target   `json:"target,omitempty"`
	Workload   *workload.Result `json:"workload,omitempty"`
	Monitors   []monitor.State  `json:"monitors"`
	Warnings   []Warning        `json:"warnings"`
	Archive    *archive.Summary `json:"archive,omitempty"`
	ArchiveURI string           `json:"archive_uri,omitempty"`
	Host       hostinfo.Info    `json:"host"`
	History    []Transition     `json:"history"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// Controller owns the session state machine. Only Run mutates state; the
// accessors are safe to call from other goroutines.
type Controller struct {
	opts   Options
	cfg    *config.Config
	id     string
	logger zerolog.Logger

	hooksUp bool

	mu        sync.Mutex
	state     State
	outcome   Outcome
	instances []*monitor.Instance
}

// New creates a controller in StateIdle.
func New(opts Options) *Controller {
	if opts.Host == nil {
		opts.Host = func(ctx context.Context) hostinfo.Info {
			return hostinfo.Collect(ctx, proc.FS{}, zerolog.Nop())
		}
	}
	if opts.Registry == nil {
		opts.Registry = monitor.NewRegistry()
	}

	id := uuid.New().String()
	return &Controller{
		opts:   opts,
		cfg:    opts.Config,
		id:     id,
		logger: zerolog.Nop(),
		state:  StateIdle,
		outcome: Outcome{
			ID:       id,
			State:    StateIdle,
			Monitors: []monitor.State{},
			Warnings: []Warning{},
		},
	}
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Instances returns the monitors that were launched.
func (c *Controller) Instances() []*monitor.Instance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*monitor.Instance(nil), c.instances...)
}

// Warnings returns the anomalies recorded so far.
func (c *Controller) Warnings() []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Warning(nil), c.outcome.Warnings...)
}

// Run executes the session once. The outcome is always returned and written
// to session.json; the error is a *FailedError when the session failed.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	now := time.Now()
	c.mu.Lock()
	c.outcome.StartedAt = now
	c.outcome.History = append(c.outcome.History, Transition{State: StateIdle, At: now})
	c.mu.Unlock()

	sessionLog, err := logging.NewSessionLog(c.opts.Log, c.cfg.ResultsRoot)
	if err != nil {
		c.logger = logging.New(c.opts.Log)
		return c.fail(ctx, failReason(ctx, ReasonSetup), err)
	}
	defer func() {
		if err := sessionLog.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Failed to close session log")
		}
	}()
	c.logger = sessionLog.Logger.With().Str("session", c.id).Logger()
	c.logger.Info().Str("results_root", c.cfg.ResultsRoot).Str("pattern", c.cfg.Target.Pattern).Msg("Session starting")

	if err := c.setup(ctx); err != nil {
		return c.fail(ctx, failReason(ctx, ReasonSetup), err)
	}

	c.transition(StateResolving)
	t := c.cfg.Target
	tgt, err := target.NewResolver(c.opts.Source, c.logger).Resolve(ctx, t.Pattern, t.MaxAttempts, t.RetryDelay)
	if err != nil {
		return c.fail(ctx, failReason(ctx, ReasonTargetNotFound), err)
	}
	c.mu.Lock()
	c.outcome.Target = &tgt
	c.mu.Unlock()

	c.transition(StateStartingMonitors)
	c.startMonitors(ctx, tgt)
	c.settle(ctx)

	c.transition(StateBenchmarkRunning)
	c.runWorkload(ctx, tgt)

	c.transition(StateStoppingMonitors)
	c.stopMonitors()

	c.transition(StateAggregating)
	summary, err := archive.Create(c.cfg.ResultDirPath(), c.cfg.ArchivePath(), archive.Options{
		Compression: c.cfg.Archive.Compression,
	})
	if err != nil {
		return c.fail(ctx, ReasonArchiveFailed, err)
	}
	c.mu.Lock()
	c.outcome.Archive = &summary
	c.mu.Unlock()
	c.logger.Info().Str("archive", summary.Path).Int("files", len(summary.Files)).Int64("bytes", summary.Bytes).Msg("Results archived")

	c.handOff()
	c.transition(StateComplete)
	c.publish(ctx, summary.Path)

	return c.finish(ctx, nil)
}

// setup prepares the result directory and runs the setup hook.
func (c *Controller) setup(ctx context.Context) error {
	dir := c.cfg.ResultDirPath()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create result directory: %w", err)
	}
	if entries, err := os.ReadDir(dir); err == nil && len(entries) > 0 {
		c.logger.Warn().Str("dir", dir).Int("entries", len(entries)).Msg("Result directory is not empty, stale files will be archived")
	}

	h := c.cfg.Hooks
	if len(h.Setup) == 0 {
		return nil
	}
	c.hooksUp = true
	if err := runHook(ctx, "setup", h.Setup, h.Dir, c.logger); err != nil {
		return err
	}
	if h.SetupWait > 0 {
		c.logger.Info().Dur("wait", h.SetupWait).Msg("Waiting for environment")
		if !sleepCtx(ctx, h.SetupWait) {
			return ctx.Err()
		}
	}
	return nil
}

func (c *Controller) startMonitors(ctx context.Context, tgt target.Target) {
	var runnable []monitor.Spec
	for _, spec := range c.opts.Registry.Specs() {
		if res := spec.Probe.Check(); !res.OK {
			c.warn(WarnMonitorSkipped, spec.Name, "%s: %s", spec.Probe.Name(), res.Reason)
			continue
		}
		runnable = append(runnable, spec)
	}

	binding := monitor.Binding{PID: tgt.PID, Target: tgt.Name, ResultDir: c.cfg.ResultDirPath()}
	instances := make([]*monitor.Instance, len(runnable))
	var g errgroup.Group
	for i, spec := range runnable {
		g.Go(func() error {
			instances[i] = monitor.Start(ctx, spec, binding, c.logger)
			return nil
		})
	}
	_ = g.Wait()

	c.mu.Lock()
	c.instances = instances
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.Monitors.StartupTimeout)
	defer timer.Stop()
wait:
	for _, inst := range instances {
		select {
		case <-inst.Ready():
		case <-timer.C:
			c.logger.Warn().Dur("timeout", c.cfg.Monitors.StartupTimeout).Msg("Monitors still starting, continuing")
			break wait
		}
	}

	running := 0
	for _, inst := range instances {
		switch {
		case inst.ReachedRunning():
			running++
		case inst.Status() == monitor.StatusFailed:
			c.warn(WarnMonitorLaunchFailed, inst.Name(), "%v", inst.Err())
		}
	}
	c.logger.Info().Int("running", running).Int("registered", c.opts.Registry.Len()).Msg("Monitors started")
}

func (c *Controller) settle(ctx context.Context) {
	d := c.cfg.Monitors.Settle
	if d <= 0 {
		return
	}
	c.logger.Debug().Dur("settle", d).Msg("Letting monitors settle")
	sleepCtx(ctx, d)
}

func (c *Controller) runWorkload(ctx context.Context, tgt target.Target) {
	if ctx.Err() != nil {
		c.warn(WarnInterrupted, "", "session interrupted before the workload started")
		return
	}

	w := c.cfg.Workload
	args, err := workload.ExpandArgs(w.Command, workload.TemplateData{Target: tgt, ResultDir: c.cfg.ResultDirPath()})
	if err != nil {
		c.warn(WarnWorkloadStartFailed, "", "%v", err)
		return
	}

	res, err := workload.Run(ctx, workload.Options{
		Args:      args,
		LogPath:   c.cfg.WorkloadLogPath(),
		Duration:  w.Duration,
		StopGrace: w.StopGrace,
	}, c.logger)

	c.mu.Lock()
	c.outcome.Workload = &res
	c.mu.Unlock()

	if err != nil {
		c.warn(WarnWorkloadStartFailed, "", "%v", err)
		return
	}

	switch res.Ending {
	case workload.EndingTimedOut:
		c.warn(WarnWorkloadTimeout, "", "workload ran past %s and was terminated", w.Duration)
	case workload.EndingInterrupted:
		c.warn(WarnInterrupted, "", "session interrupted, workload terminated")
	default:
		if res.ExitCode != 0 {
			c.warn(WarnWorkloadExit, "", "workload exited with code %d", res.ExitCode)
		}
	}
}

func (c *Controller) stopMonitors() {
	instances := c.Instances()
	grace := c.cfg.Monitors.StopGrace

	var g errgroup.Group
	for _, inst := range instances {
		g.Go(func() error {
			inst.Stop(grace)
			return nil
		})
	}
	_ = g.Wait()

	for _, inst := range instances {
		switch {
		case !inst.ReachedRunning():
		case inst.ExitedEarly():
			c.warn(WarnMonitorCrashed, inst.Name(), "exited before stop: %v", inst.Err())
		case inst.Forced():
			c.warn(WarnMonitorForced, inst.Name(), "killed after %s grace", grace)
		}
	}
}

func (c *Controller) handOff() {
	if !c.cfg.Archive.HandOff {
		return
	}
	if err := privilege.HandOff(c.cfg.ResultDirPath(), 0o777, 0o666); err != nil {
		c.warn(WarnHandOffFailed, "", "%v", err)
	}
	for _, path := range []string{c.cfg.ArchivePath(), c.cfg.WorkloadLogPath(), filepath.Join(c.cfg.ResultsRoot, logging.SessionLogName)} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := privilege.HandOff(path, 0, 0o644); err != nil {
			c.warn(WarnHandOffFailed, "", "%v", err)
		}
	}
}

func (c *Controller) publish(ctx context.Context, archivePath string) {
	if c.opts.Publisher == nil {
		return
	}
	uri, err := c.opts.Publisher.Publish(ctx, c.id, archivePath)
	if err != nil {
		c.warn(WarnPublishFailed, "", "%v", err)
		return
	}
	c.mu.Lock()
	c.outcome.ArchiveURI = uri
	c.mu.Unlock()
}

// fail moves the session to StateFailed and finishes it.
func (c *Controller) fail(ctx context.Context, reason Reason, err error) (*Outcome, error) {
	c.mu.Lock()
	c.outcome.Reason = reason
	c.outcome.Error = err.Error()
	c.mu.Unlock()

	c.logger.Error().Err(err).Str("reason", string(reason)).Msg("Session failed")
	c.transition(StateFailed)
	return c.finish(ctx, &FailedError{Reason: reason, Err: err})
}

// failReason reports a cancelled run as interrupted rather than as the
// step that happened to be in flight.
func failReason(ctx context.Context, reason Reason) Reason {
	if ctx.Err() != nil {
		return ReasonInterrupted
	}
	return reason
}

// finish tears the environment down and writes the manifest.
func (c *Controller) finish(ctx context.Context, failErr error) (*Outcome, error) {
	if c.hooksUp && len(c.cfg.Hooks.Teardown) > 0 {
		tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		if err := runHook(tctx, "teardown", c.cfg.Hooks.Teardown, c.cfg.Hooks.Dir, c.logger); err != nil {
			c.warn(WarnTeardownFailed, "", "%v", err)
		}
		cancel()
	}

	host := c.opts.Host(ctx)

	c.mu.Lock()
	for _, inst := range c.instances {
		c.outcome.Monitors = append(c.outcome.Monitors, inst.Snapshot())
	}
	c.outcome.Host = host
	c.outcome.FinishedAt = time.Now()
	out := c.outcome
	out.Monitors = append([]monitor.State(nil), c.outcome.Monitors...)
	out.Warnings = append([]Warning(nil), c.outcome.Warnings...)
	out.History = append([]Transition(nil), c.outcome.History...)
	c.mu.Unlock()

	path := filepath.Join(c.cfg.ResultsRoot, constants.DefaultManifest)
	if err := writeManifest(path, &out); err != nil {
		c.logger.Error().Err(err).Str("path", path).Msg("Failed to write session manifest")
	}

	c.logger.Info().
		Str("state", string(out.State)).
		Int("warnings", len(out.Warnings)).
		Dur("elapsed", out.FinishedAt.Sub(out.StartedAt)).
		Msg("Session finished")
	return &out, failErr
}

func (c *Controller) transition(to State) {
	c.mu.Lock()
	from := c.state
	if !CanTransition(from, to) {
		c.mu.Unlock()
		c.logger.Error().Str("from", string(from)).Str("to", string(to)).Msg("Illegal session transition ignored")
		return
	}
	c.state = to
	c.outcome.State = to
	c.outcome.History = append(c.outcome.History, Transition{State: to, At: time.Now()})
	c.mu.Unlock()

	c.logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("Session state changed")
}

func (c *Controller) warn(kind WarningKind, monitorName, format string, args ...any) {
	w := Warning{
		Kind:    kind,
		Monitor: monitorName,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now(),
	}
	c.mu.Lock()
	c.outcome.Warnings = append(c.outcome.Warnings, w)
	c.mu.Unlock()

	c.logger.Warn().Str("kind", string(kind)).Str("monitor", monitorName).Msg(w.Message)
}

func writeManifest(path string, out *Outcome) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// sleepCtx waits for d and reports whether it elapsed before ctx was done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
