// Package docker signals the reverse proxy when it runs in a container.
package docker

import (
	"context"
	"fmt"

	"github.com/ameistad/shipyard/internal/helpers"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// ContainerAPI is the subset of the Docker client used here.
type ContainerAPI interface {
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
}

func NewClient(ctx context.Context) (*client.Client, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	if _, err := dockerClient.Ping(ctx); err != nil {
		dockerClient.Close()
		return nil, fmt.Errorf("failed to connect to Docker daemon: %w", err)
	}
	return dockerClient, nil
}

// SignalContainer sends signal to the running container called name.
func SignalContainer(ctx context.Context, cli ContainerAPI, name, signal string) error {
	info, err := cli.ContainerInspect(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil || !info.State.Running {
		return fmt.Errorf("container %s is not running", name)
	}
	if err := cli.ContainerKill(ctx, info.ID, signal); err != nil {
		return fmt.Errorf("failed to send %s to container %s (%s): %w", signal, name, helpers.SafeIDPrefix(info.ID), err)
	}
	return nil
}
