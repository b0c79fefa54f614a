package monitor

import (
	"context"
	"fmt"
	"os"
)

// pollerTask runs an in-process collector on its own goroutine.
type pollerTask struct {
	ctx    context.Context
	cancel context.CancelFunc
	poller Poller
	output string
	done   chan struct{}
	err    error
}

func newPollerTask(ctx context.Context, spec Spec, b Binding) (*pollerTask, error) {
	p, err := spec.NewPoller(b)
	if err != nil {
		return nil, fmt.Errorf("failed to build poller: %w", err)
	}

	// The poller is stopped through Stop, not by the caller's cancellation.
	pctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &pollerTask{
		ctx:    pctx,
		cancel: cancel,
		poller: p,
		output: b.Output,
		done:   make(chan struct{}),
	}, nil
}

func (t *pollerTask) start() error {
	f, err := os.OpenFile(t.output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		t.cancel()
		return fmt.Errorf("failed to create output %s: %w", t.output, err)
	}

	go func() {
		defer close(t.done)
		err := t.poller.Run(t.ctx, f)
		if serr := f.Sync(); serr != nil && err == nil {
			err = serr
		}
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
		t.err = err
	}()
	return nil
}

func (t *pollerTask) interrupt() error {
	t.cancel()
	return nil
}

// kill cannot preempt a goroutine; it only repeats the cancellation.
func (t *pollerTask) kill() error {
	t.cancel()
	return nil
}

func (t *pollerTask) wait() error {
	<-t.done
	return t.err
}

func (t *pollerTask) pid() int { return 0 }
