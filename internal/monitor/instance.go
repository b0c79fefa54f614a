package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a running collector.
type Status int

const (
	StatusStarting Status = iota
	StatusRunning
	StatusStopRequested
	StatusStopped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopRequested:
		return "stop-requested"
	case StatusStopped:
		return "stopped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for v := StatusStarting; v <= StatusFailed; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown monitor status %q", text)
}

// ErrNoTarget is returned when a process-scoped collector has no PID to attach to.
var ErrNoTarget = errors.New("process-scoped monitor requires a target pid")

// killWait bounds how long Stop waits for exit after the kill signal.
var killWait = 5 * time.Second

// task is the OS- or goroutine-level handle behind an Instance.
type task interface {
	start() error
	interrupt() error
	kill() error
	wait() error
	pid() int
}

// Instance is a launched collector. All methods are safe for concurrent use.
type Instance struct {
	spec    Spec
	binding Binding
	task    task
	logger  zerolog.Logger

	ready chan struct{}
	done  chan struct{}

	mu          sync.Mutex
	status      Status
	reached     bool
	forced      bool
	exitedEarly bool
	err         error
	exitErr     error
	startedAt   time.Time
	stoppedAt   time.Time
}

// State is a point-in-time view of an Instance.
type State struct {
	Name        string    `json:"name"`
	Scope       Scope     `json:"scope"`
	Status      Status    `json:"status"`
	PID         int       `json:"pid,omitempty"`
	Output      string    `json:"output"`
	Forced      bool      `json:"forced,omitempty"`
	ExitedEarly bool      `json:"exited_early,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
	StoppedAt   time.Time `json:"stopped_at,omitzero"`
}

// Start launches the collector described by spec. It always returns an
// Instance; a launch failure leaves it Failed with Err set and no sink file.
func Start(ctx context.Context, spec Spec, b Binding, logger zerolog.Logger) *Instance {
	inst := &Instance{
		spec:    spec,
		binding: b,
		logger:  logger.With().Str("monitor", spec.Name).Logger(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		status:  StatusStarting,
	}
	if inst.binding.Output == "" {
		inst.binding.Output = filepath.Join(b.ResultDir, spec.Output)
	}
	if inst.binding.Interval == 0 {
		inst.binding.Interval = spec.Interval
	}

	if err := inst.launch(ctx); err != nil {
		inst.mu.Lock()
		inst.status = StatusFailed
		inst.err = err
		inst.mu.Unlock()
		_ = os.Remove(inst.binding.Output)
		close(inst.ready)
		close(inst.done)
		inst.logger.Warn().Err(err).Msg("Monitor failed to start")
		return inst
	}

	inst.mu.Lock()
	inst.status = StatusRunning
	inst.reached = true
	inst.startedAt = time.Now()
	inst.mu.Unlock()
	close(inst.ready)

	inst.logger.Info().Int("pid", inst.task.pid()).Str("output", inst.binding.Output).Msg("Monitor started")

	go inst.supervise()
	return inst
}

func (i *Instance) launch(ctx context.Context) error {
	if i.spec.Scope == ScopeProcess && i.binding.PID <= 0 {
		return ErrNoTarget
	}
	if err := os.MkdirAll(filepath.Dir(i.binding.Output), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var (
		t   task
		err error
	)
	if i.spec.NewPoller != nil {
		t, err = newPollerTask(ctx, i.spec, i.binding)
	} else {
		t, err = newCommandTask(i.spec, i.binding)
	}
	if err != nil {
		return err
	}
	if err := t.start(); err != nil {
		return err
	}
	i.task = t
	return nil
}

func (i *Instance) supervise() {
	err := i.task.wait()

	i.mu.Lock()
	i.exitErr = err
	i.stoppedAt = time.Now()
	switch i.status {
	case StatusRunning:
		i.status = StatusFailed
		i.exitedEarly = true
		if err == nil {
			err = errors.New("exited before stop was requested")
		}
		i.err = err
	case StatusStopRequested:
		i.status = StatusStopped
	}
	status := i.status
	i.mu.Unlock()

	close(i.done)

	if status == StatusFailed {
		i.logger.Warn().Err(err).Msg("Monitor exited unexpectedly")
		return
	}
	i.logger.Debug().AnErr("exit", err).Msg("Monitor exited")
}

// Stop asks the collector to finish, waits up to grace and then kills it.
// Stop is idempotent and returns once the collector is accounted for.
func (i *Instance) Stop(grace time.Duration) {
	i.mu.Lock()
	if i.status != StatusRunning {
		i.mu.Unlock()
		return
	}
	i.status = StatusStopRequested
	i.mu.Unlock()

	if err := i.task.interrupt(); err != nil {
		i.logger.Debug().Err(err).Msg("Interrupt failed")
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-i.done:
		return
	case <-timer.C:
	}

	i.mu.Lock()
	i.forced = true
	i.mu.Unlock()
	i.logger.Warn().Dur("grace", grace).Msg("Monitor did not stop in time, killing")

	if err := i.task.kill(); err != nil {
		i.logger.Debug().Err(err).Msg("Kill failed")
	}

	select {
	case <-i.done:
	case <-time.After(killWait):
		i.mu.Lock()
		if i.status == StatusStopRequested {
			i.status = StatusFailed
			i.err = errors.New("did not exit after kill")
		}
		i.mu.Unlock()
	}
}

// Name returns the spec name.
func (i *Instance) Name() string { return i.spec.Name }

// Spec returns the spec the instance was started from.
func (i *Instance) Spec() Spec { return i.spec }

// OutputPath returns the absolute path of the sink file.
func (i *Instance) OutputPath() string { return i.binding.Output }

// Ready is closed once the instance is Running or failed to launch.
func (i *Instance) Ready() <-chan struct{} { return i.ready }

// Done is closed once the collector has exited.
func (i *Instance) Done() <-chan struct{} { return i.done }

// Status returns the current status.
func (i *Instance) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// ReachedRunning reports whether the collector was ever Running.
func (i *Instance) ReachedRunning() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.reached
}

// Forced reports whether the collector had to be killed after its grace period.
func (i *Instance) Forced() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.forced
}

// ExitedEarly reports whether the collector exited before a stop was requested.
func (i *Instance) ExitedEarly() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.exitedEarly
}

// Err returns the launch or crash error, if any.
func (i *Instance) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.err
}

// Snapshot returns the current State.
func (i *Instance) Snapshot() State {
	i.mu.Lock()
	defer i.mu.Unlock()

	s := State{
		Name:        i.spec.Name,
		Scope:       i.spec.Scope,
		Status:      i.status,
		Output:      i.spec.Output,
		Forced:      i.forced,
		ExitedEarly: i.exitedEarly,
		StartedAt:   i.startedAt,
		StoppedAt:   i.stoppedAt,
	}
	if i.task != nil {
		s.PID = i.task.pid()
	}
	if i.err != nil {
		s.Error = i.err.Error()
	}
	return s
}
