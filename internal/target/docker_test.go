package target

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	containers []container.Summary
	inspect    map[string]container.InspectResponse
	listErr    error
	closed     bool
}

func (f *fakeDocker) ContainerList(context.Context, container.ListOptions) ([]container.Summary, error) {
	return f.containers, f.listErr
}

func (f *fakeDocker) ContainerInspect(_ context.Context, id string) (container.InspectResponse, error) {
	resp, ok := f.inspect[id]
	if !ok {
		return container.InspectResponse{}, errors.New("no such container")
	}
	return resp, nil
}

func (f *fakeDocker) Close() error {
	f.closed = true
	return nil
}

func inspectWithState(running bool, pid int) container.InspectResponse {
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			State: &container.State{Running: running, Pid: pid},
		},
	}
}

func TestDockerSource_List(t *testing.T) {
	api := &fakeDocker{containers: []container.Summary{
		{ID: "c2", Names: []string{"/microsuite-hdsearch-1"}},
		{ID: "c1"},
	}}
	src := &DockerSource{api: api}

	got, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Candidate{{ID: "c2", Name: "microsuite-hdsearch-1"}, {ID: "c1", Name: "c1"}}, got)

	require.NoError(t, src.Close())
	assert.True(t, api.closed)
}

func TestDockerSource_ListError(t *testing.T) {
	src := &DockerSource{api: &fakeDocker{listErr: errors.New("daemon down")}}
	_, err := src.List(context.Background())
	require.Error(t, err)
}

func TestDockerSource_PID(t *testing.T) {
	src := &DockerSource{api: &fakeDocker{inspect: map[string]container.InspectResponse{
		"up":      inspectWithState(true, 1234),
		"down":    inspectWithState(false, 0),
		"nostate": {},
	}}}

	pid, err := src.PID(context.Background(), Candidate{ID: "up"})
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	pid, err = src.PID(context.Background(), Candidate{ID: "down"})
	require.NoError(t, err)
	assert.Equal(t, 0, pid)

	_, err = src.PID(context.Background(), Candidate{ID: "nostate"})
	require.Error(t, err)

	_, err = src.PID(context.Background(), Candidate{ID: "gone"})
	require.Error(t, err)
}
