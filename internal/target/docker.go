package target

import (
	"context"
	"errors"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// dockerAPI is the subset of the Docker Engine client the source uses.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	Close() error
}

// DockerSource lists running containers through the Docker Engine API.
type DockerSource struct {
	api dockerAPI
}

// NewDockerSource connects using DOCKER_HOST and friends, or host when set.
func NewDockerSource(host string) (*DockerSource, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, err
	}
	return &DockerSource{api: cli}, nil
}

// Name implements Source.
func (d *DockerSource) Name() string { return "docker" }

// List returns running containers in the order the engine reports them.
func (d *DockerSource) List(ctx context.Context) ([]Candidate, error) {
	containers, err := d.api.ContainerList(ctx, container.ListOptions{})
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(containers))
	for _, c := range containers {
		name := c.ID
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		out = append(out, Candidate{ID: c.ID, Name: name})
	}
	return out, nil
}

// PID returns the host PID of the container's init process.
func (d *DockerSource) PID(ctx context.Context, c Candidate) (int, error) {
	info, err := d.api.ContainerInspect(ctx, c.ID)
	if err != nil {
		return 0, err
	}
	if info.ContainerJSONBase == nil || info.State == nil {
		return 0, errors.New("inspect returned no state")
	}
	if !info.State.Running {
		return 0, nil
	}
	return info.State.Pid, nil
}

// Close releases the engine connection.
func (d *DockerSource) Close() error {
	return d.api.Close()
}
