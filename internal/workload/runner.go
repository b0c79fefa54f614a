// Package workload runs the benchmark command for a bounded duration.
package workload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"text/template"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	errutil "github.com/coral-mesh/idleprof/internal/errors"
	"github.com/coral-mesh/idleprof/internal/target"
)

// Ending says how the workload finished.
type Ending string

const (
	EndingExited      Ending = "exited"
	EndingTimedOut    Ending = "timed-out"
	EndingInterrupted Ending = "interrupted"
)

// Options configures one benchmark run.
type Options struct {
	// Args is the argv; elements are templates over TemplateData.
	Args []string
	// LogPath receives the combined stdout and stderr.
	LogPath   string
	Duration  time.Duration
	StopGrace time.Duration
}

// TemplateData is what workload arguments can reference.
type TemplateData struct {
	Target    target.Target
	ResultDir string
}

// Result describes a finished run.
type Result struct {
	Args     []string      `json:"args"`
	PID      int           `json:"pid"`
	ExitCode int           `json:"exit_code"`
	Ending   Ending        `json:"ending"`
	Forced   bool          `json:"forced,omitempty"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// ExpandArgs evaluates each argument template against data.
func ExpandArgs(args []string, data TemplateData) ([]string, error) {
	out := make([]string, 0, len(args))
	for _, arg := range args {
		tmpl, err := template.New("arg").Option("missingkey=error").Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid workload argument %q: %w", arg, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("failed to expand workload argument %q: %w", arg, err)
		}
		out = append(out, buf.String())
	}
	return out, nil
}

// Run starts the benchmark, waits for it to exit, and terminates it when
// Duration elapses or ctx is canceled. It returns an error only when the
// command could not be started; a non-zero exit is reported in Result.
func Run(ctx context.Context, opts Options, logger zerolog.Logger) (Result, error) {
	logger = logger.With().Str("component", "workload").Logger()
	res := Result{Args: opts.Args}

	if len(opts.Args) == 0 {
		return res, errors.New("workload command is empty")
	}

	if err := os.MkdirAll(filepath.Dir(opts.LogPath), 0o755); err != nil {
		return res, fmt.Errorf("failed to create workload log directory: %w", err)
	}
	logFile, err := os.OpenFile(opts.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return res, fmt.Errorf("failed to open workload log: %w", err)
	}
	defer errutil.DeferClose(logger, logFile, "failed to close workload log")

	lines := &lineLogger{logger: logger}
	out := io.MultiWriter(logFile, lines)

	//nolint:gosec // G204: The benchmark command comes from the session configuration.
	cmd := exec.Command(opts.Args[0], opts.Args[1:]...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return res, fmt.Errorf("failed to start workload: %w", err)
	}
	res.PID = cmd.Process.Pid
	logger.Info().Strs("args", opts.Args).Int("pid", res.PID).Dur("duration", opts.Duration).Msg("Workload started")

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if opts.Duration > 0 {
		timer := time.NewTimer(opts.Duration)
		defer timer.Stop()
		timeout = timer.C
	}

	var waitErr error
	res.Ending = EndingExited
	select {
	case waitErr = <-done:
	case <-timeout:
		res.Ending = EndingTimedOut
		logger.Warn().Dur("duration", opts.Duration).Msg("Workload exceeded its duration, terminating")
		waitErr, res.Forced = terminate(cmd, done, opts.StopGrace, logger)
	case <-ctx.Done():
		res.Ending = EndingInterrupted
		logger.Warn().Msg("Session interrupted, terminating workload")
		waitErr, res.Forced = terminate(cmd, done, opts.StopGrace, logger)
	}
	lines.flush()

	res.Duration = time.Since(start)
	res.ExitCode = exitCode(waitErr)
	if waitErr != nil {
		res.Error = waitErr.Error()
	}

	logger.Info().Int("exit_code", res.ExitCode).Str("ending", string(res.Ending)).Dur("elapsed", res.Duration).Msg("Workload finished")
	return res, nil
}

// terminate sends SIGTERM to the workload's process group, escalating to
// SIGKILL after grace. It returns the wait error and whether a kill was needed.
func terminate(cmd *exec.Cmd, done <-chan error, grace time.Duration, logger zerolog.Logger) (error, bool) {
	pgid := cmd.Process.Pid
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Debug().Err(err).Msg("SIGTERM failed")
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-done:
		return err, false
	case <-timer.C:
	}

	logger.Warn().Dur("grace", grace).Msg("Workload ignored SIGTERM, killing")
	if err := unix.Kill(-pgid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		logger.Debug().Err(err).Msg("SIGKILL failed")
	}
	return <-done, true
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return 128 + int(status.Signal())
		}
		return exitErr.ExitCode()
	}
	return -1
}

// lineLogger forwards complete output lines to the session logger.
type lineLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	buf    []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf = append(l.buf, p...)
	for {
		i := bytes.IndexByte(l.buf, '\n')
		if i < 0 {
			break
		}
		l.logger.Info().Str("line", string(l.buf[:i])).Msg("Workload output")
		l.buf = l.buf[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) > 0 {
		l.logger.Info().Str("line", string(l.buf)).Msg("Workload output")
		l.buf = nil
	}
}
