package session

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/idleprof/internal/capability"
	"github.com/coral-mesh/idleprof/internal/config"
	"github.com/coral-mesh/idleprof/internal/hostinfo"
	"github.com/coral-mesh/idleprof/internal/logging"
	"github.com/coral-mesh/idleprof/internal/monitor"
	"github.com/coral-mesh/idleprof/internal/target"
	"github.com/coral-mesh/idleprof/internal/testutil"
)

type staticSource struct {
	candidates []target.Candidate
}

func (s *staticSource) Name() string { return "static" }

func (s *staticSource) List(context.Context) ([]target.Candidate, error) {
	return s.candidates, nil
}

func (s *staticSource) PID(context.Context, target.Candidate) (int, error) {
	return os.Getpid(), nil
}

type fakePublisher struct {
	err     error
	session string
	path    string
}

func (p *fakePublisher) Publish(_ context.Context, sessionID, archivePath string) (string, error) {
	p.session = sessionID
	p.path = archivePath
	if p.err != nil {
		return "", p.err
	}
	return "s3://bench/" + sessionID + "/" + filepath.Base(archivePath), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.ResultsRoot = t.TempDir()
	cfg.Target.MaxAttempts = 3
	cfg.Target.RetryDelay = 10 * time.Millisecond
	cfg.Workload.Command = []string{"sh", "-c", "sleep 0.2"}
	cfg.Workload.Duration = 5 * time.Second
	cfg.Workload.StopGrace = time.Second
	cfg.Monitors.StartupTimeout = 2 * time.Second
	cfg.Monitors.Settle = 0
	cfg.Monitors.StopGrace = 2 * time.Second
	cfg.Archive.HandOff = false
	return cfg
}

func sleeper(name string) monitor.Spec {
	return monitor.Spec{
		Name:         name,
		Scope:        monitor.ScopeSystem,
		Command:      []string{"sh", "-c", "echo " + name + "; exec sleep 30"},
		StdoutToSink: true,
		Output:       name + ".log",
	}
}

func newRegistry(t *testing.T, specs ...monitor.Spec) *monitor.Registry {
	t.Helper()
	reg := monitor.NewRegistry()
	for _, s := range specs {
		require.NoError(t, reg.Register(s))
	}
	return reg
}

func newController(cfg *config.Config, reg *monitor.Registry, src target.Source) *Controller {
	return New(Options{
		Config:   cfg,
		Registry: reg,
		Source:   src,
		Host:     func(context.Context) hostinfo.Info { return hostinfo.Info{Hostname: "testbed"} },
		Log:      logging.Config{Level: "debug", Output: io.Discard},
	})
}

func hdsearch() *staticSource {
	return &staticSource{candidates: []target.Candidate{{ID: "c1", Name: "microsuite-hdsearch-midtier-1"}}}
}

func archiveFiles(t *testing.T, path string) map[string]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(zr)

	files := map[string]string{}
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[hdr.Name] = string(data)
	}
	return files
}

func warningKinds(ws []Warning) []WarningKind {
	kinds := make([]WarningKind, 0, len(ws))
	for _, w := range ws {
		kinds = append(kinds, w.Kind)
	}
	return kinds
}

func historyStates(hs []Transition) []State {
	states := make([]State, 0, len(hs))
	for _, h := range hs {
		states = append(states, h.State)
	}
	return states
}

// Two runnable monitors, one needing an absent capability, workload exits
// well before the duration bound.
func TestRun_SkipsUnavailableMonitor(t *testing.T) {
	cfg := testConfig(t)
	missing := capability.PathExists(filepath.Join(t.TempDir(), "intel-rapl:0", "energy_uj"))
	absent := sleeper("powercap")
	absent.Probe = missing
	reg := newRegistry(t, sleeper("perf_system"), sleeper("iostat"), absent)

	c := newController(cfg, reg, hdsearch())
	out, err := c.Run(testutil.NewTestContext(t))
	require.NoError(t, err)

	assert.Equal(t, StateComplete, out.State)
	assert.Equal(t, StateComplete, c.State())
	assert.Empty(t, out.Reason)
	assert.Equal(t, []State{
		StateIdle, StateResolving, StateStartingMonitors, StateBenchmarkRunning,
		StateStoppingMonitors, StateAggregating, StateComplete,
	}, historyStates(out.History))

	require.NotNil(t, out.Target)
	assert.Equal(t, "microsuite-hdsearch-midtier-1", out.Target.Name)
	assert.Equal(t, os.Getpid(), out.Target.PID)

	require.Len(t, c.Instances(), 2)
	for _, inst := range c.Instances() {
		assert.NotEqual(t, "powercap", inst.Name())
		assert.Equal(t, monitor.StatusStopped, inst.Status())
		assert.False(t, inst.Forced())
	}

	require.Len(t, out.Warnings, 1)
	assert.Equal(t, WarnMonitorSkipped, out.Warnings[0].Kind)
	assert.Equal(t, "powercap", out.Warnings[0].Monitor)

	files := archiveFiles(t, cfg.ArchivePath())
	assert.Equal(t, map[string]string{
		"results/iostat.log":      "iostat\n",
		"results/perf_system.log": "perf_system\n",
	}, files)

	require.NotNil(t, out.Workload)
	assert.Equal(t, 0, out.Workload.ExitCode)

	log, err := os.ReadFile(filepath.Join(cfg.ResultsRoot, logging.SessionLogName))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(log), string(WarnMonitorSkipped)))

	data, err := os.ReadFile(filepath.Join(cfg.ResultsRoot, "session.json"))
	require.NoError(t, err)
	var manifest Outcome
	require.NoError(t, json.Unmarshal(data, &manifest))
	assert.Equal(t, c.ID(), manifest.ID)
	assert.Equal(t, StateComplete, manifest.State)
	assert.Len(t, manifest.Monitors, 2)
	assert.Equal(t, "testbed", manifest.Host.Hostname)
}

func TestRun_TargetNotFound(t *testing.T) {
	cfg := testConfig(t)
	reg := newRegistry(t, sleeper("perf_system"))

	c := newController(cfg, reg, &staticSource{candidates: []target.Candidate{{ID: "x", Name: "redis"}}})
	out, err := c.Run(testutil.NewTestContext(t))
	require.Error(t, err)

	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, ReasonTargetNotFound, failed.Reason)
	assert.ErrorIs(t, err, target.ErrTargetNotFound)

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, ReasonTargetNotFound, out.Reason)
	assert.Equal(t, []State{StateIdle, StateResolving, StateFailed}, historyStates(out.History))
	assert.Empty(t, c.Instances())
	assert.Empty(t, out.Monitors)
	assert.Nil(t, out.Archive)
	assert.NoFileExists(t, cfg.ArchivePath())
	assert.FileExists(t, filepath.Join(cfg.ResultsRoot, "session.json"))
}

// cancelingSource stops the session on its first listing, like Ctrl-C while
// the target container is still starting.
type cancelingSource struct {
	cancel context.CancelFunc
}

func (s *cancelingSource) Name() string { return "canceling" }

func (s *cancelingSource) List(context.Context) ([]target.Candidate, error) {
	s.cancel()
	return nil, nil
}

func (s *cancelingSource) PID(context.Context, target.Candidate) (int, error) {
	return 0, errors.New("unreachable")
}

func TestRun_InterruptedWhileResolving(t *testing.T) {
	cfg := testConfig(t)
	cfg.Target.RetryDelay = time.Hour
	reg := newRegistry(t, sleeper("perf_system"))

	ctx, cancel := context.WithCancel(testutil.NewTestContext(t))
	defer cancel()

	c := newController(cfg, reg, &cancelingSource{cancel: cancel})
	out, err := c.Run(ctx)
	require.Error(t, err)

	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, ReasonInterrupted, failed.Reason)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, ReasonInterrupted, out.Reason)
	assert.Empty(t, c.Instances())
	assert.NoFileExists(t, cfg.ArchivePath())
	assert.FileExists(t, filepath.Join(cfg.ResultsRoot, "session.json"))
}

func TestRun_ForcesStubbornMonitor(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitors.StopGrace = 300 * time.Millisecond
	stubborn := monitor.Spec{
		Name:         "turbostat",
		Scope:        monitor.ScopeSystem,
		Command:      []string{"sh", "-c", "trap '' INT; echo partial; while :; do sleep 0.05; done"},
		StdoutToSink: true,
		Output:       "turbostat_output.log",
	}
	reg := newRegistry(t, sleeper("iostat"), stubborn)

	c := newController(cfg, reg, hdsearch())
	out, err := c.Run(testutil.NewTestContext(t))
	require.NoError(t, err)
	assert.Equal(t, StateComplete, out.State)

	assert.Equal(t, []WarningKind{WarnMonitorForced}, warningKinds(out.Warnings))
	assert.Equal(t, "turbostat", out.Warnings[0].Monitor)

	for _, st := range out.Monitors {
		if st.Name == "turbostat" {
			assert.True(t, st.Forced)
			assert.Equal(t, monitor.StatusStopped, st.Status)
		}
	}

	files := archiveFiles(t, cfg.ArchivePath())
	assert.Len(t, files, 2)
	assert.True(t, strings.HasPrefix(files["results/turbostat_output.log"], "partial\n"))
}

func TestRun_MonitorCrash(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workload.Command = []string{"sh", "-c", "sleep 0.5"}
	crasher := monitor.Spec{
		Name:         "perf_process",
		Scope:        monitor.ScopeProcess,
		Command:      []string{"sh", "-c", "echo pid={{.PID}}; exit 1"},
		Output:       "perf_target_process.log",
		StdoutToSink: true,
	}
	reg := newRegistry(t, sleeper("iostat"), crasher)

	out, err := newController(cfg, reg, hdsearch()).Run(testutil.NewTestContext(t))
	require.NoError(t, err)
	assert.Equal(t, StateComplete, out.State)

	require.Equal(t, []WarningKind{WarnMonitorCrashed}, warningKinds(out.Warnings))
	assert.Equal(t, "perf_process", out.Warnings[0].Monitor)

	files := archiveFiles(t, cfg.ArchivePath())
	assert.Len(t, files, 2)
	assert.Contains(t, files["results/perf_target_process.log"], "pid=")
}

func TestRun_LaunchFailure(t *testing.T) {
	cfg := testConfig(t)
	broken := monitor.Spec{
		Name:    "turbostat",
		Scope:   monitor.ScopeSystem,
		Command: []string{"idleprof-no-such-tool"},
		Output:  "turbostat_output.log",
	}
	reg := newRegistry(t, sleeper("iostat"), broken)

	out, err := newController(cfg, reg, hdsearch()).Run(testutil.NewTestContext(t))
	require.NoError(t, err)

	assert.Equal(t, []WarningKind{WarnMonitorLaunchFailed}, warningKinds(out.Warnings))
	files := archiveFiles(t, cfg.ArchivePath())
	assert.Equal(t, []string{"results/iostat.log"}, keys(files))
}

func TestRun_WorkloadOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		command  []string
		duration time.Duration
		want     []WarningKind
	}{
		{name: "clean exit", command: []string{"true"}, duration: 5 * time.Second, want: []WarningKind{}},
		{name: "non-zero exit", command: []string{"sh", "-c", "exit 3"}, duration: 5 * time.Second, want: []WarningKind{WarnWorkloadExit}},
		{name: "duration bound", command: []string{"sleep", "30"}, duration: 200 * time.Millisecond, want: []WarningKind{WarnWorkloadTimeout}},
		{name: "missing binary", command: []string{"idleprof-no-such-benchmark"}, duration: 5 * time.Second, want: []WarningKind{WarnWorkloadStartFailed}},
		{name: "bad template", command: []string{"echo", "{{.Target.Nope}}"}, duration: 5 * time.Second, want: []WarningKind{WarnWorkloadStartFailed}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Workload.Command = tt.command
			cfg.Workload.Duration = tt.duration

			out, err := newController(cfg, newRegistry(t, sleeper("iostat")), hdsearch()).Run(testutil.NewTestContext(t))
			require.NoError(t, err)
			assert.Equal(t, StateComplete, out.State)
			assert.Equal(t, tt.want, warningKinds(out.Warnings))
			assert.FileExists(t, cfg.ArchivePath())
		})
	}
}

func TestRun_WorkloadSeesTarget(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workload.Command = []string{"sh", "-c", "echo bench {{.Target.Name}} {{.Target.PID}}"}

	_, err := newController(cfg, newRegistry(t), hdsearch()).Run(testutil.NewTestContext(t))
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.WorkloadLogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "bench microsuite-hdsearch-midtier-1")
}

func TestRun_InterruptStillArchives(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workload.Command = []string{"sleep", "30"}
	cfg.Workload.Duration = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	out, err := newController(cfg, newRegistry(t, sleeper("iostat")), hdsearch()).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, out.State)
	assert.Equal(t, []WarningKind{WarnInterrupted}, warningKinds(out.Warnings))
	assert.Len(t, archiveFiles(t, cfg.ArchivePath()), 1)
}

func TestRun_SetupFailure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	require.NoError(t, os.WriteFile(root, []byte("not a directory"), 0o644))

	cfg := testConfig(t)
	cfg.ResultsRoot = root

	out, err := newController(cfg, newRegistry(t, sleeper("iostat")), hdsearch()).Run(testutil.NewTestContext(t))
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, ReasonSetup, failed.Reason)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, []State{StateIdle, StateFailed}, historyStates(out.History))
}

func TestRun_ArchiveFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archive.Name = filepath.Join("missing", "results.tar.gz")

	out, err := newController(cfg, newRegistry(t, sleeper("iostat")), hdsearch()).Run(testutil.NewTestContext(t))
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, ReasonArchiveFailed, failed.Reason)
	assert.Equal(t, StateFailed, out.State)
	assert.Nil(t, out.Archive)
	require.Len(t, out.Monitors, 1)
	assert.Equal(t, monitor.StatusStopped, out.Monitors[0].Status)
}

func TestRun_Publish(t *testing.T) {
	t.Run("uploaded", func(t *testing.T) {
		cfg := testConfig(t)
		pub := &fakePublisher{}
		c := newController(cfg, newRegistry(t), hdsearch())
		c.opts.Publisher = pub

		out, err := c.Run(testutil.NewTestContext(t))
		require.NoError(t, err)
		assert.Equal(t, c.ID(), pub.session)
		assert.Equal(t, cfg.ArchivePath(), pub.path)
		assert.Equal(t, "s3://bench/"+c.ID()+"/results.tar.gz", out.ArchiveURI)
	})

	t.Run("upload failure is a warning", func(t *testing.T) {
		cfg := testConfig(t)
		c := newController(cfg, newRegistry(t), hdsearch())
		c.opts.Publisher = &fakePublisher{err: errors.New("access denied")}

		out, err := c.Run(testutil.NewTestContext(t))
		require.NoError(t, err)
		assert.Equal(t, StateComplete, out.State)
		assert.Equal(t, []WarningKind{WarnPublishFailed}, warningKinds(out.Warnings))
		assert.Empty(t, out.ArchiveURI)
	})
}

func TestRun_Hooks(t *testing.T) {
	t.Run("setup and teardown", func(t *testing.T) {
		cfg := testConfig(t)
		dir := t.TempDir()
		cfg.Hooks.Dir = dir
		cfg.Hooks.Setup = []string{"touch", "up"}
		cfg.Hooks.SetupWait = 10 * time.Millisecond
		cfg.Hooks.Teardown = []string{"touch", "down"}

		out, err := newController(cfg, newRegistry(t), hdsearch()).Run(testutil.NewTestContext(t))
		require.NoError(t, err)
		assert.Equal(t, StateComplete, out.State)
		assert.FileExists(t, filepath.Join(dir, "up"))
		assert.FileExists(t, filepath.Join(dir, "down"))
	})

	t.Run("failed setup still tears down", func(t *testing.T) {
		cfg := testConfig(t)
		dir := t.TempDir()
		cfg.Hooks.Dir = dir
		cfg.Hooks.Setup = []string{"false"}
		cfg.Hooks.Teardown = []string{"touch", "down"}

		out, err := newController(cfg, newRegistry(t), hdsearch()).Run(testutil.NewTestContext(t))
		require.Error(t, err)
		assert.Equal(t, ReasonSetup, out.Reason)
		assert.FileExists(t, filepath.Join(dir, "down"))
	})

	t.Run("teardown failure is a warning", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Hooks.Setup = []string{"true"}
		cfg.Hooks.Teardown = []string{"false"}

		out, err := newController(cfg, newRegistry(t), hdsearch()).Run(testutil.NewTestContext(t))
		require.NoError(t, err)
		assert.Equal(t, []WarningKind{WarnTeardownFailed}, warningKinds(out.Warnings))
	})
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateResolving))
	assert.True(t, CanTransition(StateAggregating, StateComplete))
	assert.True(t, CanTransition(StateBenchmarkRunning, StateFailed))
	assert.False(t, CanTransition(StateIdle, StateBenchmarkRunning))
	assert.False(t, CanTransition(StateStoppingMonitors, StateResolving))
	assert.False(t, CanTransition(StateComplete, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateResolving))
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
