package monitor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// stderrTail is how much collector stderr is kept for error reports.
const stderrTail = 4096

// commandTask runs an external tool in its own process group so that the
// interrupt reaches helpers it forks as well.
type commandTask struct {
	cmd    *exec.Cmd
	sink   *os.File
	stderr *tailBuffer
}

func newCommandTask(spec Spec, b Binding) (*commandTask, error) {
	args, err := ExpandArgs(spec.Command, b)
	if err != nil {
		return nil, err
	}

	path, err := exec.LookPath(args[0])
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", args[0], err)
	}

	//nolint:gosec // G204: Collector commands come from the session configuration.
	cmd := exec.Command(path, args[1:]...)
	cmd.Args[0] = args[0]
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = 2 * time.Second

	t := &commandTask{cmd: cmd, stderr: &tailBuffer{max: stderrTail}}
	cmd.Stderr = t.stderr

	// The sink always exists once the collector runs, even if the tool
	// creates its own file later.
	sink, err := os.OpenFile(b.Output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create output %s: %w", b.Output, err)
	}
	if spec.StdoutToSink {
		t.sink = sink
		cmd.Stdout = sink
	} else {
		_ = sink.Close()
	}

	return t, nil
}

func (t *commandTask) start() error {
	if err := t.cmd.Start(); err != nil {
		if t.sink != nil {
			_ = t.sink.Close()
		}
		return fmt.Errorf("failed to start %s: %w", t.cmd.Args[0], err)
	}
	return nil
}

func (t *commandTask) signal(sig unix.Signal) error {
	if t.cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-t.cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

func (t *commandTask) interrupt() error { return t.signal(unix.SIGINT) }

func (t *commandTask) kill() error { return t.signal(unix.SIGKILL) }

func (t *commandTask) wait() error {
	err := t.cmd.Wait()
	if t.sink != nil {
		if serr := t.sink.Sync(); serr != nil && err == nil {
			err = serr
		}
		if cerr := t.sink.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		if tail := strings.TrimSpace(t.stderr.String()); tail != "" {
			return fmt.Errorf("%w: %s", err, tail)
		}
	}
	return err
}

func (t *commandTask) pid() int {
	if t.cmd.Process == nil {
		return 0
	}
	return t.cmd.Process.Pid
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
